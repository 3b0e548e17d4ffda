package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

func TestGetText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "genome_downloader", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "# assembly_accession\ttaxid\n")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())

	text, err := client.GetText(context.Background(), OpFetchCatalog, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "# assembly_accession\ttaxid\n", text)
}

func TestOpenStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		permanent bool
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound, permanent: true},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrForbidden, permanent: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(DefaultOptions())
			_, _, err := client.Open(context.Background(), OpFetchFile, server.URL)
			require.Error(t, err)

			var netErr *assembly.NetworkError
			require.ErrorAs(t, err, &netErr)
			assert.Equal(t, tt.status, netErr.StatusCode)
			assert.Equal(t, OpFetchFile, netErr.Operation)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.permanent, Permanent(err))
		})
	}
}

func TestOpenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Options{Timeout: 50 * time.Millisecond})

	_, _, err := client.Open(context.Background(), OpFetchFile, server.URL)
	require.Error(t, err)

	var netErr *assembly.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.False(t, Permanent(err))
}

func TestPermanent(t *testing.T) {
	assert.False(t, Permanent(nil))
	assert.True(t, Permanent(context.Canceled))
	assert.False(t, Permanent(errors.New("connection reset")))
}
