package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const dirPerm = 0o755

// InitDB opens the SQLite ledger at path and creates the downloads table if
// it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		file_path TEXT UNIQUE NOT NULL,
		accession TEXT NOT NULL,
		section TEXT NOT NULL,
		grp TEXT NOT NULL,
		format TEXT NOT NULL,
		md5 TEXT NOT NULL,
		size INTEGER NOT NULL,
		downloaded_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS downloads_accession ON downloads (accession)`); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
