package taskstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"

	"docflow/internal/config"
	"docflow/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sqlx.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the task database under the configured
// data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.TaskDBPath())
}

// OpenPath opens the task database at an explicit path.
func OpenPath(path string) (*Store, error) {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("task migrations: %w", err)
	}
	db, err := sqlitedb.Open(context.Background(), path, migrations)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
