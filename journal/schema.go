package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	quantity REAL NOT NULL,
	capital_snapshot REAL NOT NULL,
	confidence REAL NOT NULL,
	sl_price REAL NOT NULL,
	tp_price REAL NOT NULL,
	status TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	exit_price REAL NOT NULL DEFAULT 0,
	exit_time DATETIME,
	realized_pnl REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades(symbol, status);
CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
`

const tradeColumns = `id, symbol, side, entry_price, quantity, capital_snapshot, confidence,
	sl_price, tp_price, status, open_time, exit_price, exit_time, realized_pnl, reason`
