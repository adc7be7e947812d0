package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS staging_meta (
	key            TEXT PRIMARY KEY,
	total_records  INTEGER NOT NULL,
	loaded_records INTEGER NOT NULL,
	total_chunks   INTEGER NOT NULL,
	saved_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS staging_chunks (
	key         TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	data        BLOB NOT NULL,
	PRIMARY KEY (key, chunk_index)
);`

// SQLite is a Store in a local sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		dsn = "file:" + abs + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers, which sqlite needs anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(fmt.Errorf("create schema: %w", err))
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveMeta(ctx context.Context, key string, meta Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staging_meta (key, total_records, loaded_records, total_chunks, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			total_records = excluded.total_records,
			loaded_records = excluded.loaded_records,
			total_chunks = excluded.total_chunks,
			saved_at = excluded.saved_at`,
		key, meta.TotalRecords, meta.LoadedRecords, meta.TotalChunks, meta.Timestamp.UnixMilli())
	return Error.Wrap(err)
}

func (s *SQLite) LoadMeta(ctx context.Context, key string) (Meta, error) {
	var (
		meta    Meta
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT total_records, loaded_records, total_chunks, saved_at
		FROM staging_meta WHERE key = ?`, key,
	).Scan(&meta.TotalRecords, &meta.LoadedRecords, &meta.TotalChunks, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, notFound("meta " + key)
	}
	if err != nil {
		return Meta{}, Error.Wrap(err)
	}
	meta.Timestamp = time.UnixMilli(savedAt)
	return meta, nil
}

func (s *SQLite) SaveChunk(ctx context.Context, key string, index int, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staging_chunks (key, chunk_index, data) VALUES (?, ?, ?)
		ON CONFLICT(key, chunk_index) DO UPDATE SET data = excluded.data`,
		key, index, data)
	return Error.Wrap(err)
}

func (s *SQLite) LoadChunk(ctx context.Context, key string, index int) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM staging_chunks WHERE key = ? AND chunk_index = ?`, key, index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(fmt.Sprintf("chunk %s/%d", key, index))
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

func (s *SQLite) Clear(ctx context.Context, key string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM staging_chunks WHERE key = ?`, key); err != nil {
		return Error.Wrap(err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM staging_meta WHERE key = ?`, key); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(tx.Commit())
}

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ms := cutoff.UnixMilli()
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM staging_chunks
		WHERE key IN (SELECT key FROM staging_meta WHERE saved_at < ?)`, ms); err != nil {
		return 0, Error.Wrap(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM staging_meta WHERE saved_at < ?`, ms)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return 0, Error.Wrap(err)
	}
	return int(affected), nil
}

func (s *SQLite) Close() error {
	return Error.Wrap(s.db.Close())
}
