// Package downloader executes fetch plans: a bounded pool of tasks, each
// driven through an explicit retry state machine, writing through temp files
// that are renamed into place only once their MD5 checks out.
package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/downloader/progress"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/planner"
	"github.com/italolelis/genome_downloader/internal/remote"
	"github.com/italolelis/genome_downloader/internal/storage"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

const (
	dirPerm = 0o755

	progressInterval = int64(64 * 1024 * 1024) // 64MB
)

// ErrDestination marks local filesystem failures, which are never retried.
var ErrDestination = errors.New("destination not writable")

// Status is the terminal result of a task.
type Status string

const (
	StatusFetched  Status = "fetched"
	StatusUpToDate Status = "skipped-up-to-date"
	StatusDryRun   Status = "skipped-dry-run"
	StatusFailed   Status = "failed"
)

// Outcome is the result of executing one task.
type Outcome struct {
	Task     planner.Task
	Status   Status
	Path     string
	Attempts int
	Bytes    int64
	Err      error
}

// Succeeded reports whether the task left a verified file (or would have,
// in dry-run mode).
func (o Outcome) Succeeded() bool {
	return o.Status != StatusFailed
}

// Source opens remote files.
type Source interface {
	Open(ctx context.Context, operation, url string) (io.ReadCloser, int64, error)
}

// Options configures a Downloader.
type Options struct {
	// Parallel is the number of tasks executing at once. Must be >= 1.
	Parallel int

	DryRun bool

	// MaxAttempts bounds transfer attempts per task on network failures.
	// Default: 3
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the delay between attempts.
	// Defaults: 1s, 30s
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Ledger, when set, records verified files and lets the up-to-date check
	// skip re-hashing files it already vouched for.
	Ledger storage.DownloadRepository

	Telemetry *telemetry.Telemetry
}

// Downloader runs fetch tasks.
type Downloader struct {
	src  Source
	opts Options
}

// New validates opts and returns a Downloader.
func New(src Source, opts Options) (*Downloader, error) {
	if opts.Parallel < 1 {
		return nil, &assembly.ConfigurationError{Option: "parallel", Reason: fmt.Sprintf("must be at least 1, got %d", opts.Parallel)}
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

	return &Downloader{src: src, opts: opts}, nil
}

// Run executes tasks and returns one outcome per task, in input order. A
// failing task never stops its siblings. Once ctx is cancelled no new task
// starts; the ones not started are reported failed with the context error.
func (d *Downloader) Run(ctx context.Context, tasks []planner.Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	if d.opts.DryRun {
		for i, t := range tasks {
			outcomes[i] = Outcome{Task: t, Status: StatusDryRun, Path: t.LocalPath}
		}

		return outcomes
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.Info("starting downloads", "tasks", len(tasks), "parallel", d.opts.Parallel)

	var wg errgroup.Group

	sem := make(chan struct{}, d.opts.Parallel)

	started := 0

dispatch:
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		started++

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			outcomes[i] = d.runTask(ctx, tasks[i])

			return nil
		})
	}

	_ = wg.Wait()

	for i := started; i < len(tasks); i++ {
		outcomes[i] = Outcome{Task: tasks[i], Status: StatusFailed, Path: tasks[i].LocalPath, Err: ctx.Err()}
	}

	if started < len(tasks) {
		logger.Warn("run cancelled before all tasks started", "not_started", len(tasks)-started)
	}

	return outcomes
}

func (d *Downloader) runTask(ctx context.Context, t planner.Task) Outcome {
	ctx, logger := logctx.With(ctx, "accession", t.Record.Accession, "format", t.Format.Name)
	start := time.Now()

	out := d.execute(ctx, t)

	d.opts.Telemetry.RecordDownload(ctx, string(out.Status), time.Since(start))

	switch out.Status {
	case StatusFailed:
		logger.Error("download failed", "file", t.LocalPath, "attempts", out.Attempts, "err", out.Err)
	case StatusUpToDate:
		logger.Debug("file up to date", "file", t.LocalPath)
	case StatusFetched:
		logger.Info("downloaded and verified file",
			"file", t.LocalPath,
			"size", humanize.Bytes(uint64(out.Bytes)),
			"attempts", out.Attempts,
		)
	}

	return out
}

// execute drives the state machine of one task to a terminal state.
func (d *Downloader) execute(ctx context.Context, t planner.Task) Outcome {
	logger := logctx.LoggerFromContext(ctx)
	out := Outcome{Task: t, Path: t.LocalPath}

	if d.upToDate(ctx, t) {
		out.Status = StatusUpToDate

		return out
	}

	m := newMachine(d.opts.MaxAttempts, d.opts.InitialBackoff, d.opts.MaxBackoff)

	for !m.state.terminal() {
		switch m.state {
		case statePending:
			m.begin()
		case stateRetrying:
			delay := m.nextDelay()

			logger.Warn("retrying download",
				"reason", string(m.lastRetry),
				"attempt", m.attempts+1,
				"delay", delay.String(),
				"err", m.lastErr,
			)
			d.opts.Telemetry.RecordRetry(ctx, string(m.lastRetry))

			timer := time.NewTimer(delay)

			select {
			case <-ctx.Done():
				timer.Stop()
				m.fail(ctx.Err())

				continue
			case <-timer.C:
			}

			m.begin()
		case stateInFlight:
			n, err := d.attempt(ctx, t)
			if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
				m.fail(ctxErr)

				continue
			}

			out.Bytes = n
			m.complete(err)
		}
	}

	out.Attempts = m.attempts

	if m.state == stateFailed {
		out.Status = StatusFailed
		out.Err = m.lastErr

		return out
	}

	out.Status = StatusFetched
	d.track(ctx, t, out.Bytes)

	return out
}

// attempt performs one transfer into a temp file beside the destination and
// renames it into place once the MD5 matches.
func (d *Downloader) attempt(ctx context.Context, t planner.Task) (int64, error) {
	var written int64

	err := d.opts.Telemetry.InstrumentDownload(ctx, t.Format.Name, func(ctx context.Context) error {
		logger := logctx.LoggerFromContext(ctx)

		body, size, err := d.src.Open(ctx, remote.OpFetchFile, t.URL)
		if err != nil {
			return err
		}
		defer body.Close()

		dir := filepath.Dir(t.LocalPath)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("%w: %w", ErrDestination, err)
		}

		tmp, err := os.CreateTemp(dir, filepath.Base(t.LocalPath)+".*.part")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDestination, err)
		}

		committed := false

		defer func() {
			if !committed {
				tmp.Close()
				os.Remove(tmp.Name())
			}
		}()

		if size > 0 {
			logger.Debug("downloading file", "url", t.URL, "size", humanize.Bytes(uint64(size)))
		}

		hash := md5.New()
		pr := progress.NewReader(body, size, progressInterval, func(read, total int64) {
			if total > 0 {
				logger.Debug("download progress",
					"downloaded", humanize.Bytes(uint64(read)),
					"total", humanize.Bytes(uint64(total)),
					"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
			} else {
				logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(read)))
			}
		})

		written, err = io.Copy(io.MultiWriter(tmp, hash), pr)
		if err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				return fmt.Errorf("%w: %w", ErrDestination, err)
			}

			return &assembly.NetworkError{Operation: remote.OpFetchFile, URL: t.URL, Err: err}
		}

		d.opts.Telemetry.RecordDownloadBytes(ctx, written)

		if actual := hex.EncodeToString(hash.Sum(nil)); actual != t.ExpectedMD5 {
			return &assembly.ChecksumMismatchError{Path: t.LocalPath, Expected: t.ExpectedMD5, Actual: actual}
		}

		if err := tmp.Close(); err != nil {
			return fmt.Errorf("%w: %w", ErrDestination, err)
		}

		if err := os.Rename(tmp.Name(), t.LocalPath); err != nil {
			return fmt.Errorf("%w: %w", ErrDestination, err)
		}

		committed = true

		return nil
	})

	return written, err
}

// upToDate reports whether the destination already holds the expected
// content. A ledger entry matching the expected MD5, the file size and a
// modification time no later than the recorded download avoids hashing.
func (d *Downloader) upToDate(ctx context.Context, t planner.Task) bool {
	info, err := os.Stat(t.LocalPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if d.opts.Ledger != nil {
		rec, err := d.opts.Ledger.GetDownload(ctx, t.LocalPath)
		if err == nil && rec.MD5 == t.ExpectedMD5 && rec.Size == info.Size() && !info.ModTime().After(rec.DownloadedAt) {
			return true
		}
	}

	sum, err := fileMD5(t.LocalPath)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to hash existing file", "file", t.LocalPath, "err", err)

		return false
	}

	return sum == t.ExpectedMD5
}

func (d *Downloader) track(ctx context.Context, t planner.Task, size int64) {
	if d.opts.Ledger == nil {
		return
	}

	err := d.opts.Ledger.TrackDownload(ctx, storage.DownloadRecord{
		FilePath:     t.LocalPath,
		Accession:    t.Record.Accession,
		Section:      t.Section,
		Group:        t.Group,
		Format:       t.Format.Name,
		MD5:          t.ExpectedMD5,
		Size:         size,
		DownloadedAt: time.Now(),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record download in ledger", "file", t.LocalPath, "err", err)
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
