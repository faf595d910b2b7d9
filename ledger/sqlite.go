package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS balances (
	key TEXT PRIMARY KEY,
	balance TEXT NOT NULL,
	last_updated TEXT NOT NULL
);
`

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Balance, error) {
	var r record
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, last_updated FROM balances WHERE key = ?`, key,
	).Scan(&r.Balance, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("select balance: %w", err)
	}
	return r.decode()
}

func (s *SQLite) Put(ctx context.Context, key string, b Balance) error {
	r := encode(b)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (key, balance, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET balance = excluded.balance, last_updated = excluded.last_updated`,
		key, r.Balance, r.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
