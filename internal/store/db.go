package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// sqlKV is a single-table document store shared by the SQL backends; only
// the statements differ between dialects.
type sqlKV struct {
	db     *sql.DB
	schema string
	get    string
	upsert string
	del    string
}

func (s *sqlKV) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.schema)
	return err
}

func (s *sqlKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, s.get, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(value), nil
}

func (s *sqlKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.upsert, key, string(value))
	return err
}

func (s *sqlKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.del, key)
	return err
}

func (s *sqlKV) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PostgresKV stores documents in a kv_store table.
type PostgresKV struct {
	sqlKV
}

// NewPostgresKV creates the kv_store table if needed.
func NewPostgresKV(ctx context.Context, db *sql.DB) (*PostgresKV, error) {
	kv := &PostgresKV{sqlKV{
		db: db,
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		get: `SELECT value FROM kv_store WHERE key = $1`,
		upsert: `INSERT INTO kv_store (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		del: `DELETE FROM kv_store WHERE key = $1`,
	}}
	if err := kv.migrate(ctx); err != nil {
		return nil, err
	}
	return kv, nil
}
