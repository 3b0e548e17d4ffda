package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/remote"
)

const testSummary = "# assembly_accession\ttaxid\tspecies_taxid\torganism_name\tassembly_level\trefseq_category\tftp_path\n" +
	"GCF_1.1\t562\t562\tEscherichia coli\tComplete Genome\treference genome\tna\n"

type catalogServer struct {
	*httptest.Server
	hits   atomic.Int32
	failed atomic.Bool
	paths  chan string
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()

	cs := &catalogServer{paths: make(chan string, 16)}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		cs.paths <- r.URL.Path

		if cs.failed.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, testSummary)
	}))
	t.Cleanup(cs.Close)

	return cs
}

func newTestCache(t *testing.T, srv *catalogServer, opts ...Option) (*Cache, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	opts = append([]Option{WithClock(clock)}, opts...)

	return NewCache(bucket, remote.NewClient(remote.DefaultOptions()), srv.URL, opts...), clock
}

func TestCache_FreshEntryServedWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)
	cache, clock := newTestCache(t, srv)
	key := Key{Section: "refseq", Group: "bacteria"}

	first, err := cache.Get(ctx, key, 24*time.Hour, false)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, testSummary, first.Content)
	assert.Equal(t, srv.URL+"/refseq/bacteria/assembly_summary.txt", first.SourceURL)
	assert.Equal(t, "/refseq/bacteria/assembly_summary.txt", <-srv.paths)

	clock.Advance(23 * time.Hour)

	second, err := cache.Get(ctx, key, 24*time.Hour, false)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, testSummary, second.Content)
	assert.Equal(t, first.SourceURL, second.SourceURL)
	assert.True(t, first.FetchedAt.Equal(second.FetchedAt))
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestCache_ExpiredEntryIsRefreshed(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)
	cache, clock := newTestCache(t, srv)
	key := Key{Section: "refseq", Group: "bacteria"}

	_, err := cache.Get(ctx, key, time.Hour, false)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	cat, err := cache.Get(ctx, key, time.Hour, false)
	require.NoError(t, err)
	assert.False(t, cat.FromCache)
	assert.Equal(t, clock.Now().UTC(), cat.FetchedAt)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestCache_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)
	cache, _ := newTestCache(t, srv)
	key := Key{Section: "genbank", Group: "viral"}

	_, err := cache.Get(ctx, key, time.Hour, false)
	require.NoError(t, err)

	cat, err := cache.Get(ctx, key, time.Hour, true)
	require.NoError(t, err)
	assert.False(t, cat.FromCache)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestCache_NetworkFailureWithoutCache(t *testing.T) {
	srv := newCatalogServer(t)
	srv.failed.Store(true)
	cache, _ := newTestCache(t, srv, WithAllowStale(true))

	_, err := cache.Get(context.Background(), Key{Section: "refseq", Group: "archaea"}, time.Hour, false)
	require.Error(t, err)

	var netErr *assembly.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, remote.OpFetchCatalog, netErr.Operation)
}

func TestCache_StaleFallback(t *testing.T) {
	tests := []struct {
		name       string
		allowStale bool
	}{
		{name: "stale not allowed", allowStale: false},
		{name: "stale allowed", allowStale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			srv := newCatalogServer(t)
			cache, clock := newTestCache(t, srv, WithAllowStale(tt.allowStale))
			key := Key{Section: "refseq", Group: "fungi"}

			_, err := cache.Get(ctx, key, time.Hour, false)
			require.NoError(t, err)

			clock.Advance(48 * time.Hour)
			srv.failed.Store(true)

			cat, err := cache.Get(ctx, key, time.Hour, false)
			if !tt.allowStale {
				var netErr *assembly.NetworkError
				assert.ErrorAs(t, err, &netErr)

				return
			}

			require.NoError(t, err)
			assert.True(t, cat.Stale)
			assert.True(t, cat.FromCache)
			assert.Equal(t, testSummary, cat.Content)
		})
	}
}

func TestCache_GroupResolution(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)
	cache, _ := newTestCache(t, srv)

	cat, err := cache.Get(ctx, Key{Section: "refseq", Group: "Vertebrate-Mammalian"}, time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, "vertebrate_mammalian", cat.Key.Group)
	assert.Equal(t, "/refseq/vertebrate_mammalian/assembly_summary.txt", <-srv.paths)

	_, err = cache.Get(ctx, Key{Section: "refseq", Group: "dragons"}, time.Hour, false)

	var cfgErr *assembly.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "groups", cfgErr.Option)

	_, err = cache.Get(ctx, Key{Section: "ensembl", Group: "bacteria"}, time.Hour, false)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "section", cfgErr.Option)
}

func TestOpenFileCache(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)
	dir := filepath.Join(t.TempDir(), "cache")

	cache, err := OpenFileCache(dir, remote.NewClient(remote.DefaultOptions()), srv.URL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = cache.Close() })

	_, err = cache.Get(ctx, Key{Section: "refseq", Group: "bacteria"}, time.Hour, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "refseq_bacteria_assembly_summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, testSummary, string(data))

	again, err := cache.Get(ctx, Key{Section: "refseq", Group: "bacteria"}, time.Hour, false)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestOpenFileCache_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := OpenFileCache(file, remote.NewClient(remote.DefaultOptions()), "")
	assert.ErrorIs(t, err, ErrCacheUnwritable)
}

func TestCache_MalformedFetchIsNotStored(t *testing.T) {
	ctx := context.Background()

	var body atomic.Value
	body.Store("<html><body>502 Bad Gateway</body></html>\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	t.Cleanup(srv.Close)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	cache := NewCache(bucket, remote.NewClient(remote.DefaultOptions()), srv.URL)
	key := Key{Section: "refseq", Group: "bacteria"}

	_, err := cache.Get(ctx, key, time.Hour, false)

	var parseErr *assembly.ParseError
	require.ErrorAs(t, err, &parseErr)

	exists, err := bucket.Exists(ctx, key.BlobKey())
	require.NoError(t, err)
	assert.False(t, exists)

	body.Store(testSummary)

	cat, err := cache.Get(ctx, key, time.Hour, false)
	require.NoError(t, err)
	assert.False(t, cat.FromCache)

	records, err := Parse(cat)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "GCF_1.1", records[0].Accession)
}

func TestCache_MalformedCachedCopyIsRefetched(t *testing.T) {
	ctx := context.Background()
	srv := newCatalogServer(t)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	key := Key{Section: "refseq", Group: "bacteria"}
	require.NoError(t, bucket.WriteAll(ctx, key.BlobKey(), []byte("# assembly_accession\ttaxid\n"), nil))

	cache := NewCache(bucket, remote.NewClient(remote.DefaultOptions()), srv.URL)

	cat, err := cache.Get(ctx, key, time.Hour, false)
	require.NoError(t, err)
	assert.False(t, cat.FromCache)
	assert.Equal(t, testSummary, cat.Content)
	assert.Equal(t, int32(1), srv.hits.Load())
}
