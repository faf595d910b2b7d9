package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL UNIQUE,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	units INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	balance_before TEXT NOT NULL,
	realized_pl TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	order_id TEXT NOT NULL,
	time TEXT NOT NULL
);
`

const tradeColumns = `trade_id, instrument, side, units, entry_price, balance_before, realized_pl, balance_after, order_id, time`

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
