package telemetry

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
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	called := false
	err = tel.InstrumentDownload(context.Background(), "fasta", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		ctx := context.Background()
		tel.RecordCatalogFetch(ctx, "cache", "success")
		tel.RecordDownload(ctx, "fetched", time.Second)
		tel.RecordDownloadBytes(ctx, 10)
		tel.RecordRetry(ctx, "network")
		tel.RecordMirrorLink(ctx, "linked")
		tel.RecordGroupFailure(ctx, "parse")
		_ = tel.Shutdown(ctx)
	})

	sentinel := errors.New("boom")
	err := tel.InstrumentDBOperation(context.Background(), "track", func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.NotNil(t, tel.Tracer())
}

func TestNew_EnabledServesMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "genome_downloader_test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.RecordCatalogFetch(ctx, "remote", "success")
	tel.RecordDownload(ctx, "fetched", 250*time.Millisecond)
	tel.RecordMirrorLink(ctx, "linked")

	sentinel := errors.New("checksum")
	err = tel.InstrumentDownload(ctx, "fasta", func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "catalog_fetches")
	assert.Contains(t, string(body), "downloads")
	assert.Contains(t, string(body), "mirror_links")
}
