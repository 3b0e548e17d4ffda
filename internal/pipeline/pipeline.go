// Package pipeline runs a complete download: catalog acquisition, selection,
// planning, transfers, the human readable mirror and the metadata table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/catalog"
	"github.com/italolelis/genome_downloader/internal/cleanup"
	"github.com/italolelis/genome_downloader/internal/config"
	"github.com/italolelis/genome_downloader/internal/downloader"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/metadata"
	"github.com/italolelis/genome_downloader/internal/mirror"
	"github.com/italolelis/genome_downloader/internal/notifier"
	"github.com/italolelis/genome_downloader/internal/planner"
	"github.com/italolelis/genome_downloader/internal/remote"
	"github.com/italolelis/genome_downloader/internal/selection"
	"github.com/italolelis/genome_downloader/internal/storage"
	"github.com/italolelis/genome_downloader/internal/storage/sqlite"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

var (
	// ErrAllGroupsFailed is returned when no requested group produced a
	// usable catalog.
	ErrAllGroupsFailed = errors.New("every requested group failed")

	// ErrOutputUnwritable is returned when the output directory cannot be
	// created or written to.
	ErrOutputUnwritable = errors.New("output directory is not writable")
)

// Status summarizes a run.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNothingToDo Status = "nothing-to-do"
	StatusFailed      Status = "failed"
)

// GroupError reports a group that was skipped.
type GroupError struct {
	Section string
	Group   string
	Err     error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Section, e.Group, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// Counts tallies a run. Failed covers failed tasks and record/format pairs
// whose manifest stayed unreachable; Gaps only counts content missing on the
// remote side.
type Counts struct {
	Selected     int
	Tasks        int
	Fetched      int
	UpToDate     int
	DryRun       int
	Failed       int
	Gaps         int
	Links        int
	LinkWarnings int
	Bytes        int64
}

// Result is everything a run produced.
type Result struct {
	Selections  []selection.Set
	Outcomes    []downloader.Outcome
	Links       []mirror.LinkResult
	Gaps        []planner.Gap
	GroupErrors []GroupError
	Counts      Counts
	Status      Status
	Duration    time.Duration
}

// Pipeline wires the components for one configuration.
type Pipeline struct {
	cfg       config.Config
	telemetry *telemetry.Telemetry
	notifier  notifier.Notifier
	clock     clockwork.Clock
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTelemetry records metrics and spans for every stage.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(p *Pipeline) {
		p.telemetry = tel
	}
}

// WithNotifier overrides the notifier built from discord_webhook_url.
func WithNotifier(n notifier.Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithClock replaces the clock used for catalog expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// New validates cfg and returns a Pipeline.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, clock: clockwork.NewRealClock()}

	if cfg.DiscordWebhookURL != "" {
		p.notifier = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Run executes one complete download. Failures scoped to a group, a record
// or a file are reported in the Result; the returned error is reserved for
// systemic problems (every group failing, an unwritable cache or output
// directory, cancellation).
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	logger := logctx.LoggerFromContext(ctx)
	res := &Result{Status: StatusFailed}

	defer func() { res.Duration = time.Since(start) }()

	groups, err := p.cfg.ResolvedGroups()
	if err != nil {
		return res, err
	}

	formats, err := assembly.ExpandFormats(p.cfg.Formats)
	if err != nil {
		return res, err
	}

	filter, err := selection.Compile(p.cfg.Criteria())
	if err != nil {
		return res, err
	}

	if !p.cfg.DryRun {
		if err := checkWritable(p.cfg.OutputDir); err != nil {
			return res, err
		}
	}

	client := remote.NewClient(remote.Options{
		Timeout:             p.cfg.RequestTimeout,
		MaxIdleConnsPerHost: max(p.cfg.Parallel, remote.DefaultOptions().MaxIdleConnsPerHost),
		UserAgent:           remote.DefaultOptions().UserAgent,
	})

	cache, err := p.openCache(client)
	if err != nil {
		return res, err
	}
	defer cache.Close()

	var ledger storage.DownloadRepository

	if p.cfg.LedgerPath != "" && !p.cfg.DryRun {
		db, err := sqlite.InitDB(p.cfg.LedgerPath)
		if err != nil {
			return res, fmt.Errorf("open download ledger: %w", err)
		}
		defer db.Close()

		ledger = sqlite.NewInstrumentedDownloadRepository(db, p.telemetry)
	}

	if !p.cfg.DryRun {
		p.housekeeping(ctx, ledger)
	}

	logger.Info("selecting assemblies", "section", p.cfg.Section, "groups", len(groups))

	for _, group := range groups {
		set, err := p.selectGroup(ctx, cache, group, filter)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}

			if errors.Is(err, catalog.ErrCacheUnwritable) {
				return res, err
			}

			logger.Error("skipping group", "section", p.cfg.Section, "group", group, "err", err)
			p.telemetry.RecordGroupFailure(ctx, errorType(err))

			res.GroupErrors = append(res.GroupErrors, GroupError{Section: p.cfg.Section, Group: group, Err: err})

			continue
		}

		if set.Len() > 0 {
			res.Selections = append(res.Selections, set)
			res.Counts.Selected += set.Len()
		}
	}

	if len(res.GroupErrors) == len(groups) {
		errs := make([]error, 0, len(res.GroupErrors))
		for i := range res.GroupErrors {
			errs = append(errs, &res.GroupErrors[i])
		}

		return res, fmt.Errorf("%w: %w", ErrAllGroupsFailed, errors.Join(errs...))
	}

	pl := planner.New(client, planner.Options{
		OutputDir:   p.cfg.OutputDir,
		FlatOutput:  p.cfg.FlatOutput,
		Parallel:    p.cfg.Parallel,
		MaxAttempts: p.cfg.Retries,
		Telemetry:   p.telemetry,
	})

	var tasks []planner.Task

	for _, set := range res.Selections {
		t, gaps, err := pl.Plan(ctx, set, formats)
		if err != nil {
			return res, err
		}

		tasks = append(tasks, t...)
		res.Gaps = append(res.Gaps, gaps...)
	}

	dl, err := downloader.New(client, downloader.Options{
		Parallel:    p.cfg.Parallel,
		DryRun:      p.cfg.DryRun,
		MaxAttempts: p.cfg.Retries,
		Ledger:      ledger,
		Telemetry:   p.telemetry,
	})
	if err != nil {
		return res, err
	}

	if len(tasks) > 0 {
		res.Outcomes = dl.Run(ctx, tasks)
	}

	if err := ctx.Err(); err != nil {
		res.tally(len(tasks))

		return res, err
	}

	succeeded := make([]planner.Task, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.Status == downloader.StatusFetched || o.Status == downloader.StatusUpToDate {
			succeeded = append(succeeded, o.Task)
		}
	}

	if p.cfg.HumanReadable && !p.cfg.DryRun && len(succeeded) > 0 {
		builder := mirror.NewBuilder(p.cfg.OutputDir, mirror.WithTelemetry(p.telemetry))
		res.Links = builder.Build(ctx, succeeded)
	}

	res.tally(len(tasks))

	if p.cfg.MetadataTable != "" && !p.cfg.DryRun {
		rows := make([]metadata.Row, 0, len(succeeded))
		for _, t := range succeeded {
			rows = append(rows, metadata.Row{Record: t.Record, LocalPath: t.LocalPath})
		}

		if err := metadata.Write(p.cfg.MetadataTable, rows); err != nil {
			return res, err
		}

		logger.Info("wrote metadata table", "path", p.cfg.MetadataTable, "rows", len(rows))
	}

	logger.Info("run finished",
		"status", string(res.Status),
		"selected", res.Counts.Selected,
		"fetched", res.Counts.Fetched,
		"up_to_date", res.Counts.UpToDate,
		"failed", res.Counts.Failed,
		"gaps", res.Counts.Gaps,
		"failed_groups", len(res.GroupErrors),
	)

	p.notify(ctx, res, groups, start)

	return res, nil
}

func (p *Pipeline) openCache(client *remote.Client) (*catalog.Cache, error) {
	dir, err := p.cfg.ResolvedCacheDir()
	if err != nil {
		return nil, err
	}

	return catalog.OpenFileCache(dir, client, p.cfg.URI,
		catalog.WithClock(p.clock),
		catalog.WithAllowStale(p.cfg.AllowStaleCache),
		catalog.WithTelemetry(p.telemetry),
	)
}

// housekeeping removes leftovers of interrupted runs. Failures are logged
// and never stop the run.
func (p *Pipeline) housekeeping(ctx context.Context, ledger storage.DownloadRepository) {
	logger := logctx.LoggerFromContext(ctx)

	if _, err := cleanup.DeletePartialFiles(ctx, p.cfg.OutputDir, p.cfg.PartialMaxAge); err != nil {
		logger.Warn("failed to clean up partial downloads", "err", err)
	}

	if ledger == nil {
		return
	}

	if _, err := cleanup.PruneLedger(ctx, ledger); err != nil {
		logger.Warn("failed to prune download ledger", "err", err)
	}
}

func (p *Pipeline) selectGroup(ctx context.Context, cache *catalog.Cache, group string, filter selection.Filter) (selection.Set, error) {
	ctx, logger := logctx.With(ctx, "section", p.cfg.Section, "group", group)

	cat, err := cache.Get(ctx, catalog.Key{Section: p.cfg.Section, Group: group}, p.cfg.CacheMaxAge, p.cfg.NoCache)
	if err != nil {
		return selection.Set{}, err
	}

	records, err := catalog.Parse(cat)
	if err != nil {
		return selection.Set{}, err
	}

	selected := selection.Select(records, filter)

	p.telemetry.RecordCatalogRecords(ctx, "parsed", len(records))
	p.telemetry.RecordCatalogRecords(ctx, "selected", len(selected))

	logger.Info("selected assemblies", "records", len(records), "selected", len(selected), "from_cache", cat.FromCache)

	return selection.Set{Section: p.cfg.Section, Group: group, Records: selected}, nil
}

func (p *Pipeline) notify(ctx context.Context, res *Result, groups []string, start time.Time) {
	if p.notifier == nil || p.cfg.DryRun {
		return
	}

	summary := notifier.Summary{
		Status:      string(res.Status),
		Groups:      groups,
		Selected:    res.Counts.Selected,
		Fetched:     res.Counts.Fetched,
		UpToDate:    res.Counts.UpToDate,
		Failed:      res.Counts.Failed,
		Gaps:        res.Counts.Gaps,
		GroupErrors: len(res.GroupErrors),
		Links:       res.Counts.Links,
		Bytes:       res.Counts.Bytes,
		Duration:    time.Since(start),
	}

	if err := p.notifier.Notify(ctx, summary.Message()); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to send run notification", "err", err)
	}
}

// tally fills Counts and derives Status. Skipped groups are reported in
// GroupErrors but do not fail a run whose remaining work succeeded.
func (r *Result) tally(tasks int) {
	r.Counts.Tasks = tasks

	for _, g := range r.Gaps {
		if g.Failed() {
			r.Counts.Failed++
		} else {
			r.Counts.Gaps++
		}
	}

	for _, o := range r.Outcomes {
		switch o.Status {
		case downloader.StatusFetched:
			r.Counts.Fetched++
			r.Counts.Bytes += o.Bytes
		case downloader.StatusUpToDate:
			r.Counts.UpToDate++
		case downloader.StatusDryRun:
			r.Counts.DryRun++
		case downloader.StatusFailed:
			r.Counts.Failed++
		}
	}

	for _, l := range r.Links {
		switch l.Status {
		case mirror.StatusLinked, mirror.StatusAlreadyLinked:
			r.Counts.Links++
		case mirror.StatusWarning, mirror.StatusMissing:
			r.Counts.LinkWarnings++
		}
	}

	switch {
	case r.Counts.Failed > 0:
		r.Status = StatusFailed
	case tasks == 0:
		r.Status = StatusNothingToDo
	default:
		r.Status = StatusSuccess
	}
}

// checkWritable creates dir and proves a file can be created in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}

	f, err := os.CreateTemp(dir, ".genome_downloader-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}

	name := f.Name()
	f.Close()

	return os.Remove(name)
}

func errorType(err error) string {
	var (
		netErr   *assembly.NetworkError
		parseErr *assembly.ParseError
		cfgErr   *assembly.ConfigurationError
	)

	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "other"
	}
}
