// Package catalog acquires assembly summary documents and parses them into
// records. Snapshots are cached in a blob bucket, one object per section and
// group, and refreshed lazily once older than the caller's max age.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/remote"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

// DefaultBaseURI is the public NCBI genomes root.
const DefaultBaseURI = "https://ftp.ncbi.nih.gov/genomes"

const (
	metaFetchedAt = "fetched-at"
	metaSourceURL = "source-url"
)

// ErrCacheUnwritable is returned when a fetched catalog cannot be persisted.
// The whole run depends on the cache, so callers treat it as systemic.
var ErrCacheUnwritable = errors.New("catalog cache is not writable")

// Key identifies a catalog snapshot.
type Key struct {
	Section string
	Group   string
}

func (k Key) String() string {
	return k.Section + "/" + k.Group
}

// BlobKey is the object name the snapshot is stored under.
func (k Key) BlobKey() string {
	return fmt.Sprintf("%s_%s_assembly_summary.txt", k.Section, k.Group)
}

// Catalog is an immutable snapshot of one group's summary document.
type Catalog struct {
	Key       Key
	FetchedAt time.Time
	Content   string
	SourceURL string
	FromCache bool
	Stale     bool

	// records holds the result of the validation parse done by Cache.
	records []assembly.Record
	parsed  bool
}

// validate parses the snapshot once and keeps the records for Parse.
func (c *Catalog) validate() error {
	records, err := parse(c)
	if err != nil {
		return err
	}

	c.records, c.parsed = records, true

	return nil
}

// Fetcher downloads text documents.
type Fetcher interface {
	GetText(ctx context.Context, operation, url string) (string, error)
}

// Cache serves catalogs from a bucket, refreshing them from the remote
// repository when they expire.
type Cache struct {
	bucket     *blob.Bucket
	fetcher    Fetcher
	baseURI    string
	clock      clockwork.Clock
	allowStale bool
	telemetry  *telemetry.Telemetry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithAllowStale lets Get fall back to an expired snapshot when the remote
// repository cannot be reached.
func WithAllowStale(allow bool) Option {
	return func(c *Cache) { c.allowStale = allow }
}

// WithTelemetry records catalog metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Cache) { c.telemetry = t }
}

// NewCache builds a cache over an already opened bucket. The caller keeps
// ownership of the bucket.
func NewCache(bucket *blob.Bucket, fetcher Fetcher, baseURI string, opts ...Option) *Cache {
	if baseURI == "" {
		baseURI = DefaultBaseURI
	}

	c := &Cache{
		bucket:  bucket,
		fetcher: fetcher,
		baseURI: strings.TrimRight(assembly.ConvertFTPURL(baseURI), "/"),
		clock:   clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// OpenFileCache opens a cache stored in dir, creating it if needed. Objects
// are written to a temp file beside the target and renamed into place.
func OpenFileCache(dir string, fetcher Fetcher, baseURI string, opts ...Option) (*Cache, error) {
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCacheUnwritable, dir, err)
	}

	return NewCache(bucket, fetcher, baseURI, opts...), nil
}

// Close releases the underlying bucket.
func (c *Cache) Close() error {
	return c.bucket.Close()
}

// URL returns the remote location of the catalog for key.
func (c *Cache) URL(key Key) string {
	return fmt.Sprintf("%s/%s/%s/assembly_summary.txt", c.baseURI, key.Section, key.Group)
}

// Get returns the catalog for section/group. A cached snapshot no older than
// maxAge is returned without network access unless forceRefresh is set.
func (c *Cache) Get(ctx context.Context, key Key, maxAge time.Duration, forceRefresh bool) (*Catalog, error) {
	if err := assembly.ValidateSection(key.Section); err != nil {
		return nil, err
	}

	group, err := assembly.ResolveGroup(key.Group)
	if err != nil {
		return nil, err
	}

	key.Group = group

	var cat *Catalog

	err = c.telemetry.InstrumentCatalog(ctx, key.Section, key.Group, func(ctx context.Context) error {
		var err error
		cat, err = c.get(ctx, key, maxAge, forceRefresh)

		return err
	})

	return cat, err
}

func (c *Cache) get(ctx context.Context, key Key, maxAge time.Duration, forceRefresh bool) (*Catalog, error) {
	logger := logctx.LoggerFromContext(ctx)

	cached, err := c.load(ctx, key)
	if err == nil && cached != nil {
		err = cached.validate()
	}

	if err != nil {
		logger.Warn("ignoring unreadable cached catalog", "err", err)

		cached = nil
	}

	if cached != nil && !forceRefresh {
		age := c.clock.Since(cached.FetchedAt)
		if age <= maxAge {
			logger.Debug("using cached catalog", "age", age.Round(time.Second).String())
			c.telemetry.RecordCatalogFetch(ctx, "cache", "success")

			return cached, nil
		}

		logger.Debug("cached catalog expired", "age", age.Round(time.Second).String(), "max_age", maxAge.String())
	}

	url := c.URL(key)

	content, err := c.fetcher.GetText(ctx, remote.OpFetchCatalog, url)
	if err != nil {
		if cached != nil && c.allowStale {
			logger.Warn("catalog unreachable, using stale cached copy",
				"fetched_at", cached.FetchedAt.Format(time.RFC3339),
				"err", err,
			)
			c.telemetry.RecordCatalogFetch(ctx, "stale", "success")

			stale := *cached
			stale.Stale = true

			return &stale, nil
		}

		c.telemetry.RecordCatalogFetch(ctx, "remote", "error")

		return nil, fmt.Errorf("fetch catalog %s: %w", key, err)
	}

	fresh := &Catalog{
		Key:       key,
		FetchedAt: c.clock.Now().UTC(),
		Content:   content,
		SourceURL: url,
	}

	// malformed documents are never persisted
	if err := fresh.validate(); err != nil {
		c.telemetry.RecordCatalogFetch(ctx, "remote", "error")

		return nil, err
	}

	if err := c.store(ctx, fresh); err != nil {
		c.telemetry.RecordCatalogFetch(ctx, "remote", "error")

		return nil, err
	}

	logger.Info("catalog refreshed", "url", url, "bytes", len(content))
	c.telemetry.RecordCatalogFetch(ctx, "remote", "success")

	return fresh, nil
}

// load returns the cached snapshot, or nil when none exists.
func (c *Cache) load(ctx context.Context, key Key) (*Catalog, error) {
	attrs, err := c.bucket.Attributes(ctx, key.BlobKey())
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("stat cached catalog: %w", err)
	}

	data, err := c.bucket.ReadAll(ctx, key.BlobKey())
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("read cached catalog: %w", err)
	}

	fetchedAt := attrs.ModTime
	if raw, ok := attrs.Metadata[metaFetchedAt]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			fetchedAt = ts
		}
	}

	return &Catalog{
		Key:       key,
		FetchedAt: fetchedAt,
		Content:   string(data),
		SourceURL: attrs.Metadata[metaSourceURL],
		FromCache: true,
	}, nil
}

func (c *Cache) store(ctx context.Context, cat *Catalog) error {
	err := c.bucket.WriteAll(ctx, cat.Key.BlobKey(), []byte(cat.Content), &blob.WriterOptions{
		ContentType: "text/tab-separated-values; charset=utf-8",
		Metadata: map[string]string{
			metaFetchedAt: cat.FetchedAt.Format(time.RFC3339Nano),
			metaSourceURL: cat.SourceURL,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: store %s: %w", ErrCacheUnwritable, cat.Key.BlobKey(), err)
	}

	return nil
}
