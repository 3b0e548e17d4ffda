package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/genome_downloader/internal/storage"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDownload retrieves one download with telemetry. A missing entry is not
// counted as a failed operation.
func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, filePath string) (storage.DownloadRecord, error) {
	var (
		result   storage.DownloadRecord
		notFound bool
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownload(ctx, filePath)
		if err == storage.ErrNotTracked {
			notFound = true

			return nil
		}

		return err
	})

	switch {
	case err != nil:
		return storage.DownloadRecord{}, err
	case notFound:
		return storage.DownloadRecord{}, storage.ErrNotTracked
	}

	return result, nil
}

// TrackDownload records a verified download with telemetry.
func (r *InstrumentedDownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, rec)
	})
}

// ForgetDownload removes a download with telemetry.
func (r *InstrumentedDownloadRepository) ForgetDownload(ctx context.Context, filePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "forget_download", func(ctx context.Context) error {
		return r.repo.ForgetDownload(ctx, filePath)
	})
}
