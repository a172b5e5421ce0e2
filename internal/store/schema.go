package store

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	initial_cash REAL NOT NULL,
	cash REAL NOT NULL,
	day_open_value REAL NOT NULL,
	day_anchor DATETIME NOT NULL,
	week_open_value REAL NOT NULL,
	week_anchor DATETIME NOT NULL,
	peak_value REAL NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	symbol TEXT NOT NULL,
	sector TEXT NOT NULL,
	quantity REAL NOT NULL,
	avg_entry_price REAL NOT NULL,
	current_price REAL NOT NULL,
	realized_pl REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id);

CREATE TABLE IF NOT EXISTS exit_criteria (
	id TEXT PRIMARY KEY,
	position_id TEXT NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT '',
	value REAL NOT NULL DEFAULT 0,
	level INTEGER NOT NULL DEFAULT 0,
	deadline DATETIME,
	indicator TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_criteria_position ON exit_criteria(position_id);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	sector TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	fees REAL NOT NULL,
	stop_loss REAL NOT NULL,
	realized_pl REAL NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL,
	executed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_portfolio_time ON trades(portfolio_id, executed_at);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	taken_at DATETIME NOT NULL,
	total_value REAL NOT NULL,
	cash REAL NOT NULL,
	positions_value REAL NOT NULL,
	unrealized_pl REAL NOT NULL,
	realized_pl REAL NOT NULL,
	daily_pl REAL NOT NULL,
	total_pl REAL NOT NULL,
	drawdown_pct REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_portfolio_time ON snapshots(portfolio_id, taken_at);
`
