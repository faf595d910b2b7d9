package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db  *sql.DB
	max int
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string, maxRecords int) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLite{db: db, max: capOf(maxRecords)}, nil
}

func (j *SQLite) Append(ctx context.Context, t TradeRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, instrument, side, units, entry_price, balance_before, realized_pl, balance_after, order_id, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Instrument, string(t.Side), t.Units,
		t.EntryPrice.String(), t.BalanceBefore.String(), t.RealizedPL.String(), t.BalanceAfter.String(),
		t.OrderID, t.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM trades
		WHERE seq NOT IN (SELECT seq FROM trades ORDER BY seq DESC LIMIT ?)`, j.max)
	if err != nil {
		return fmt.Errorf("truncate trades: %w", err)
	}
	return tx.Commit()
}

func (j *SQLite) Recent(ctx context.Context, n int) ([]TradeRecord, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM (SELECT * FROM trades ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var side, entry, before, pl, after, ts string
		var err error
		if err = rows.Scan(&rec.ID, &rec.Instrument, &side, &rec.Units,
			&entry, &before, &pl, &after, &rec.OrderID, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Side = market.Side(side)
		if rec.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("trade %s entry_price: %w", rec.ID, err)
		}
		if rec.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, fmt.Errorf("trade %s balance_before: %w", rec.ID, err)
		}
		if rec.RealizedPL, err = decimal.NewFromString(pl); err != nil {
			return nil, fmt.Errorf("trade %s realized_pl: %w", rec.ID, err)
		}
		if rec.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("trade %s balance_after: %w", rec.ID, err)
		}
		if rec.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("trade %s time: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
