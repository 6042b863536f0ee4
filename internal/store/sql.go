package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLStore keeps blobs in a kv_blobs table. It works with the sqlite driver
// on device and with postgres.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenSQL connects with driver ("sqlite" or "postgres") and applies migrations.
func OpenSQL(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == "sqlite" {
		// a single connection keeps ":memory:" databases shared
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection and runs migrations.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv_blobs (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
	}
	if s.db.DriverName() == "sqlite" {
		migrations[0] = `CREATE TABLE IF NOT EXISTS kv_blobs (
            key TEXT PRIMARY KEY,
            value BLOB NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	s.logger.Debug("kv migrations applied", zap.String("driver", s.db.DriverName()))
	return nil
}

// Get loads the blob stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM kv_blobs WHERE key=?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", key, err)
	}
	return value, true, nil
}

// Set upserts the blob stored under key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO kv_blobs (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`),
		key, value, time.Now().UTC())
	return wrap("set", key, err)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
