// Package planner expands selected records into fetch tasks, one per
// record and requested format, using each assembly's checksum manifest to
// find file names and expected MD5 sums.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/remote"
	"github.com/italolelis/genome_downloader/internal/selection"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

// Task is one immutable unit of download work.
type Task struct {
	Record      assembly.Record
	Section     string
	Group       string
	Format      assembly.Format
	Filename    string
	URL         string
	ExpectedMD5 string
	LocalPath   string
}

// GapReason explains why a record/format pair has no task.
type GapReason string

const (
	GapMissingFormat     GapReason = "missing-format"
	GapNoRemoteDirectory GapReason = "no-remote-directory"
	GapManifestMissing   GapReason = "manifest-missing"

	// GapManifestUnavailable means the manifest could not be fetched even
	// after retries. Unlike the other reasons it is a failure, not a hole
	// in the remote repository.
	GapManifestUnavailable GapReason = "manifest-unavailable"
)

// Gap is a requested record/format pair the remote side does not cover.
type Gap struct {
	Accession string
	Format    string
	Reason    GapReason
	Err       error
}

// Failed reports whether the gap stems from a fetch failure rather than
// from content missing on the remote side.
func (g Gap) Failed() bool {
	return g.Reason == GapManifestUnavailable
}

// Fetcher downloads text documents.
type Fetcher interface {
	GetText(ctx context.Context, operation, url string) (string, error)
}

// Options configures a Planner.
type Options struct {
	OutputDir string

	// FlatOutput places every file directly under OutputDir.
	FlatOutput bool

	// Parallel bounds concurrent manifest fetches.
	// Default: 1
	Parallel int

	// MaxAttempts bounds manifest fetch attempts on network failures.
	// Default: 3
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the delay between attempts.
	// Defaults: 1s, 30s
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Telemetry *telemetry.Telemetry
}

// Planner builds fetch plans.
type Planner struct {
	fetcher Fetcher
	opts    Options
}

// New creates a Planner.
func New(fetcher Fetcher, opts Options) *Planner {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}

	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}

	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}

	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	return &Planner{fetcher: fetcher, opts: opts}
}

// Plan returns tasks in record order, then format order. Records lacking a
// format, a remote directory or a manifest produce gaps instead of tasks, as
// do records whose manifest stayed unreachable (see Gap.Failed). Only
// cancellation of ctx is returned as an error.
func (p *Planner) Plan(ctx context.Context, set selection.Set, formats []assembly.Format) ([]Task, []Gap, error) {
	logger := logctx.LoggerFromContext(ctx).With("section", set.Section, "group", set.Group)

	manifests := make([]Manifest, len(set.Records))
	manifestErrs := make([]error, len(set.Records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallel)

	for i := range set.Records {
		rec := &set.Records[i]
		if !rec.Downloadable() {
			continue
		}

		g.Go(func() error {
			text, err := p.fetchManifest(gctx, rec)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}

				manifestErrs[i] = err

				return nil
			}

			manifests[i] = ParseManifest(text)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		tasks []Task
		gaps  []Gap
	)

	addGap := func(gap Gap) {
		level := slog.LevelWarn
		if gap.Failed() {
			level = slog.LevelError
		}

		logger.Log(ctx, level, "coverage gap",
			"accession", gap.Accession,
			"format", gap.Format,
			"reason", string(gap.Reason),
			"err", gap.Err,
		)
		p.opts.Telemetry.RecordCoverageGap(ctx, string(gap.Reason))

		gaps = append(gaps, gap)
	}

	for i := range set.Records {
		rec := &set.Records[i]

		for _, f := range formats {
			switch {
			case !rec.Downloadable():
				addGap(Gap{Accession: rec.Accession, Format: f.Name, Reason: GapNoRemoteDirectory})

				continue
			case errors.Is(manifestErrs[i], remote.ErrNotFound):
				addGap(Gap{Accession: rec.Accession, Format: f.Name, Reason: GapManifestMissing, Err: manifestErrs[i]})

				continue
			case manifestErrs[i] != nil:
				addGap(Gap{Accession: rec.Accession, Format: f.Name, Reason: GapManifestUnavailable, Err: manifestErrs[i]})

				continue
			}

			entry, ok := manifests[i].Lookup(f)
			if !ok {
				addGap(Gap{Accession: rec.Accession, Format: f.Name, Reason: GapMissingFormat})

				continue
			}

			tasks = append(tasks, Task{
				Record:      *rec,
				Section:     set.Section,
				Group:       set.Group,
				Format:      f,
				Filename:    entry.Filename,
				URL:         rec.BaseURL() + "/" + entry.Filename,
				ExpectedMD5: entry.MD5,
				LocalPath:   p.localPath(set, rec, entry.Filename),
			})
		}
	}

	logger.Info("fetch plan ready", "records", len(set.Records), "tasks", len(tasks), "gaps", len(gaps))

	return tasks, gaps, nil
}

// fetchManifest retries network failures with exponential backoff. Missing
// or forbidden manifests fail on the first attempt.
func (p *Planner) fetchManifest(ctx context.Context, rec *assembly.Record) (string, error) {
	url := rec.BaseURL() + "/" + ManifestName

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.InitialBackoff
	bo.MaxInterval = p.opts.MaxBackoff

	return backoff.Retry(ctx, func() (string, error) {
		text, err := p.fetcher.GetText(ctx, remote.OpFetchManifest, url)
		if err != nil && remote.Permanent(err) {
			return "", backoff.Permanent(err)
		}

		return text, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logctx.LoggerFromContext(ctx).Debug("retrying manifest fetch",
				"accession", rec.Accession,
				"wait", wait.String(),
				"err", err,
			)
		}),
	)
}

func (p *Planner) localPath(set selection.Set, rec *assembly.Record, filename string) string {
	if p.opts.FlatOutput {
		return filepath.Join(p.opts.OutputDir, filename)
	}

	return filepath.Join(p.opts.OutputDir, set.Section, set.Group, rec.Accession, filename)
}
