package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/genome_downloader/internal/storage"
)

// DownloadWriteRepository implements storage.DownloadWriteRepository
// and stores download records in SQLite.
type DownloadWriteRepository struct {
	db *sql.DB
}

func NewDownloadWriteRepository(db *sql.DB) *DownloadWriteRepository {
	return &DownloadWriteRepository{db: db}
}

// TrackDownload inserts or replaces the entry for rec.FilePath.
func (r *DownloadWriteRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (file_path, accession, section, grp, format, md5, size, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			accession = excluded.accession,
			section = excluded.section,
			grp = excluded.grp,
			format = excluded.format,
			md5 = excluded.md5,
			size = excluded.size,
			downloaded_at = excluded.downloaded_at
	`,
		rec.FilePath, rec.Accession, rec.Section, rec.Group, rec.Format, rec.MD5, rec.Size,
		rec.DownloadedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

// ForgetDownload removes the entry for filePath, if any.
func (r *DownloadWriteRepository) ForgetDownload(ctx context.Context, filePath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE file_path = ?`, filePath)

	return err
}
