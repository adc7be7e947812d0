// Package staging persists oversized import batches between requests.
//
// An import too large to hand back in one response is written as numbered
// chunks under a key (the workspace id) together with a small Meta record.
// Nothing here is durable by contract: callers must cope with missing or
// stale entries, and the stores are not meant to be shared across processes.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/zeebo/errs"
)

// Error is the class of every error returned by a store.
var Error = errs.Class("staging")

// ErrNotFound is returned when a key or chunk has nothing stored.
var ErrNotFound = errors.New("not found")

// Meta describes one staged batch.
type Meta struct {
	TotalRecords  int       `json:"totalRecords"`
	LoadedRecords int       `json:"loadedRecords"`
	TotalChunks   int       `json:"totalChunks"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store is a key-value store of staged batches.
type Store interface {
	SaveMeta(ctx context.Context, key string, meta Meta) error
	LoadMeta(ctx context.Context, key string) (Meta, error)
	SaveChunk(ctx context.Context, key string, index int, data []byte) error
	LoadChunk(ctx context.Context, key string, index int) ([]byte, error)
	// Clear removes the meta and every chunk of key. Clearing a missing key
	// is not an error.
	Clear(ctx context.Context, key string) error
	// Prune removes every batch saved before cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// appName names the XDG data subdirectory.
const appName = "movimentacao"

// DefaultSQLitePath returns the default database file under the XDG data
// directory, creating parent directories as needed.
func DefaultSQLitePath() (string, error) {
	path, err := xdg.DataFile(filepath.Join(appName, "staging.db"))
	if err != nil {
		return "", Error.Wrap(err)
	}
	return path, nil
}

// Open opens a store for driver. For sqlite an empty dsn selects
// DefaultSQLitePath; for memory dsn is ignored.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "sqlite3", "":
		if dsn == "" {
			path, err := DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			dsn = path
		} else if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, Error.Wrap(err)
			}
		}
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, Error.New("unknown driver %q", driver)
	}
}

func notFound(what string) error {
	return Error.Wrap(fmt.Errorf("%s: %w", what, ErrNotFound))
}
