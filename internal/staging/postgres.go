package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS staging_meta (
	key            TEXT PRIMARY KEY,
	total_records  INTEGER NOT NULL,
	loaded_records INTEGER NOT NULL,
	total_chunks   INTEGER NOT NULL,
	saved_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS staging_chunks (
	key         TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	data        BYTEA NOT NULL,
	PRIMARY KEY (key, chunk_index)
);`

// Postgres is a Store in a PostgreSQL database, for deployments that run
// more than one server behind a sticky load balancer.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url, verifies the connection and creates the
// staging tables if they do not exist.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	if url == "" {
		return nil, Error.New("postgres staging requires a database URL")
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("parse database URL: %w", err))
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, Error.Wrap(fmt.Errorf("ping: %w", err))
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, Error.Wrap(fmt.Errorf("create schema: %w", err))
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) SaveMeta(ctx context.Context, key string, meta Meta) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO staging_meta (key, total_records, loaded_records, total_chunks, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			total_records = EXCLUDED.total_records,
			loaded_records = EXCLUDED.loaded_records,
			total_chunks = EXCLUDED.total_chunks,
			saved_at = EXCLUDED.saved_at`,
		key, meta.TotalRecords, meta.LoadedRecords, meta.TotalChunks, meta.Timestamp)
	return Error.Wrap(err)
}

func (p *Postgres) LoadMeta(ctx context.Context, key string) (Meta, error) {
	var meta Meta
	err := p.pool.QueryRow(ctx, `
		SELECT total_records, loaded_records, total_chunks, saved_at
		FROM staging_meta WHERE key = $1`, key,
	).Scan(&meta.TotalRecords, &meta.LoadedRecords, &meta.TotalChunks, &meta.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Meta{}, notFound("meta " + key)
	}
	if err != nil {
		return Meta{}, Error.Wrap(err)
	}
	return meta, nil
}

func (p *Postgres) SaveChunk(ctx context.Context, key string, index int, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO staging_chunks (key, chunk_index, data) VALUES ($1, $2, $3)
		ON CONFLICT (key, chunk_index) DO UPDATE SET data = EXCLUDED.data`,
		key, index, data)
	return Error.Wrap(err)
}

func (p *Postgres) LoadChunk(ctx context.Context, key string, index int) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM staging_chunks WHERE key = $1 AND chunk_index = $2`, key, index,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(fmt.Sprintf("chunk %s/%d", key, index))
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

func (p *Postgres) Clear(ctx context.Context, key string) error {
	return Error.Wrap(pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM staging_chunks WHERE key = $1`, key); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM staging_meta WHERE key = $1`, key)
		return err
	}))
}

func (p *Postgres) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM staging_chunks
			WHERE key IN (SELECT key FROM staging_meta WHERE saved_at < $1)`, cutoff); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM staging_meta WHERE saved_at < $1`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return int(n), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
