package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/genome_downloader/internal/storage"
)

const selectColumns = `file_path, accession, section, grp, format, md5, size, downloaded_at`

type DownloadReadRepository struct {
	db *sql.DB
}

func NewDownloadReadRepository(dbConn *sql.DB) *DownloadReadRepository {
	return &DownloadReadRepository{db: dbConn}
}

func (r *DownloadReadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM downloads ORDER BY file_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

// GetDownload returns the entry for filePath or storage.ErrNotTracked.
func (r *DownloadReadRepository) GetDownload(ctx context.Context, filePath string) (storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM downloads WHERE file_path = ?`, filePath)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, storage.ErrNotTracked
	}

	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.DownloadRecord, error) {
	var (
		record       storage.DownloadRecord
		downloadedAt string
	)

	err := s.Scan(
		&record.FilePath,
		&record.Accession,
		&record.Section,
		&record.Group,
		&record.Format,
		&record.MD5,
		&record.Size,
		&downloadedAt,
	)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	record.DownloadedAt, err = time.Parse(time.RFC3339Nano, downloadedAt)
	if err != nil {
		return storage.DownloadRecord{}, fmt.Errorf("parse downloaded_at of %s: %w", record.FilePath, err)
	}

	return record, nil
}
