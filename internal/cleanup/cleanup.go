// Package cleanup removes debris left in the destination tree by an
// interrupted run.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/storage"
)

// PartialSuffix marks in-progress download temp files.
const PartialSuffix = ".part"

// Report summarizes a cleanup pass.
type Report struct {
	Removed int
	Bytes   int64
}

// DeletePartialFiles removes "*.part" files under dir whose modification time
// is older than keepDuration. A missing dir is not an error.
func DeletePartialFiles(ctx context.Context, dir string, keepDuration time.Duration) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var report Report

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		// the mirror only holds links, never partial files
		if d.IsDir() && d.Name() == "human_readable" {
			return filepath.SkipDir
		}

		if d.IsDir() || !strings.HasSuffix(d.Name(), PartialSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // already deleted
			}

			return err
		}

		if now.Sub(info.ModTime()) < keepDuration {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete partial file", "file", path, "err", err)

			return err
		}

		report.Removed++
		report.Bytes += info.Size()

		logger.Debug("deleted partial file", "file", path, "size", humanize.Bytes(uint64(info.Size())))

		return nil
	})
	if err != nil {
		return report, err
	}

	if report.Removed > 0 {
		logger.Info("removed partial downloads", "files", report.Removed, "size", humanize.Bytes(uint64(report.Bytes)))
	}

	return report, nil
}

// PruneLedger forgets ledger entries whose files no longer exist, so the
// ledger never vouches for a file that was deleted by hand.
func PruneLedger(ctx context.Context, repo storage.DownloadRepository) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := repo.GetDownloads(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0

	for _, rec := range records {
		if _, err := os.Stat(rec.FilePath); err == nil || !errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err := repo.ForgetDownload(ctx, rec.FilePath); err != nil {
			logger.Error("failed to forget missing download", "file", rec.FilePath, "err", err)

			return pruned, err
		}

		pruned++
	}

	if pruned > 0 {
		logger.Info("pruned ledger entries for missing files", "entries", pruned)
	}

	return pruned, nil
}
