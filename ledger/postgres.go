package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS fxhook_balances (
	key TEXT PRIMARY KEY,
	balance NUMERIC(20, 2) NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
`

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Postgres shares the balance between processes. WithLock holds a
// transaction-scoped advisory lock on the key while fn runs, and Get/Put
// called with that context join the transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Store  = (*Postgres)(nil)
	_ Locker = (*Postgres)(nil)
)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}

func (p *Postgres) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "fxhook:"+key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return fn(context.WithValue(ctx, txKey{}, tx))
}

func (p *Postgres) Get(ctx context.Context, key string) (Balance, error) {
	var r record
	err := p.conn(ctx).QueryRow(ctx, `
		SELECT balance::text, to_char(last_updated AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM fxhook_balances WHERE key = $1`, key,
	).Scan(&r.Balance, &r.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("select balance: %w", err)
	}
	return r.decode()
}

func (p *Postgres) Put(ctx context.Context, key string, b Balance) error {
	r := encode(b)
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO fxhook_balances (key, balance, last_updated) VALUES ($1, $2::numeric, $3::timestamptz)
		ON CONFLICT (key) DO UPDATE SET balance = EXCLUDED.balance, last_updated = EXCLUDED.last_updated`,
		key, r.Balance, r.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
