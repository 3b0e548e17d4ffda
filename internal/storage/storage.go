// Package storage defines the download ledger: a record of every file that
// was fetched and verified, keyed by its local path.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotTracked is returned when the ledger has no entry for a path.
var ErrNotTracked = errors.New("download not tracked")

// DownloadRecord represents a verified file on disk.
type DownloadRecord struct {
	FilePath     string
	Accession    string
	Section      string
	Group        string
	Format       string
	MD5          string
	Size         int64
	DownloadedAt time.Time
}

// DownloadReadRepository reads ledger entries.
type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
	GetDownload(ctx context.Context, filePath string) (DownloadRecord, error)
}

// DownloadWriteRepository records verified files.
type DownloadWriteRepository interface {
	TrackDownload(ctx context.Context, rec DownloadRecord) error
	ForgetDownload(ctx context.Context, filePath string) error
}

// DownloadRepository is the full ledger.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
