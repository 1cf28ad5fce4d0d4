package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/caarmen/image-resizer/pkg/imaging"
	"github.com/caarmen/image-resizer/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS resized_images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	image_format TEXT NOT NULL,
	scale_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	written_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_resized_images_key
	ON resized_images(url, width, height, image_format, scale_type);
CREATE INDEX IF NOT EXISTS idx_resized_images_written_at ON resized_images(written_at);
`

// SQLiteIndex is the persistent Index, shared by every process using the same cache directory
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (and creates if needed) the index database at path
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	// busy_timeout is per connection, so it goes in the DSN for every pooled connection
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index DB: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// non-fatal, readers just lose concurrency
		logging.Logger.Warn("Failed to enable WAL on index DB", zap.Error(err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index DB ping failed: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Get retrieves the record for key
func (s *SQLiteIndex) Get(ctx context.Context, key Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, mime_type, written_at FROM resized_images
		WHERE url = ? AND width = ? AND height = ? AND image_format = ? AND scale_type = ?`,
		key.URL, key.Width, key.Height, string(key.Format), string(key.Scale))

	rec := Record{Key: key}
	var writtenAt int64
	if err := row.Scan(&rec.FilePath, &rec.MimeType, &writtenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	rec.WrittenAt = time.Unix(0, writtenAt)
	return &rec, nil
}

// Upsert creates or updates the record for rec.Key
func (s *SQLiteIndex) Upsert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resized_images (url, width, height, image_format, scale_type, file_path, mime_type, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url, width, height, image_format, scale_type) DO UPDATE SET
			file_path = excluded.file_path,
			mime_type = excluded.mime_type,
			written_at = excluded.written_at`,
		rec.URL, rec.Width, rec.Height, string(rec.Format), string(rec.Scale),
		rec.FilePath, rec.MimeType, rec.WrittenAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert index record: %w", err)
	}
	return nil
}

// SelectOlderThan returns every record written at or before cutoff, oldest first
func (s *SQLiteIndex) SelectOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, width, height, image_format, scale_type, file_path, mime_type, written_at
		FROM resized_images WHERE written_at <= ? ORDER BY written_at`,
		cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec           Record
			format, scale string
			writtenAt     int64
		)
		if err := rows.Scan(&rec.URL, &rec.Width, &rec.Height, &format, &scale,
			&rec.FilePath, &rec.MimeType, &writtenAt); err != nil {
			return nil, fmt.Errorf("failed to scan index record: %w", err)
		}
		rec.Format = imaging.Format(format)
		rec.Scale = imaging.ScaleType(scale)
		rec.WrittenAt = time.Unix(0, writtenAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes records in a single transaction
func (s *SQLiteIndex) Delete(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for index removal: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		DELETE FROM resized_images
		WHERE url = ? AND width = ? AND height = ? AND image_format = ? AND scale_type = ? AND written_at = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare index removal: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, rec := range records {
		result, err := stmt.ExecContext(ctx, rec.URL, rec.Width, rec.Height,
			string(rec.Format), string(rec.Scale), rec.WrittenAt.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("failed to delete index record: %w", err)
		}
		n, _ := result.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit index deletions: %w", err)
	}
	return int(deleted), nil
}

// Close closes the database
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
