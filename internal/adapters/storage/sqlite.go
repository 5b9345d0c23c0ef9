package storage

// sqlite.go: ledger local en un único fichero.
//
// Estrategia:
//   - Registros upstream (`fills`, `funding`, `liquidations`, `closed_pnl`, `price_bars`): UNA fila por
//     clave estable (UPSERT). Re-sincronizar la ventana de solape no duplica nada.
//   - `trades` + `trade_legs`: derivados, se reemplazan por símbolo en cada rebuild.
//   - `sync_state`: checkpoint por clave; `last_ms` solo avanza (MAX en el UPSERT).
//   - `sync_runs`: una fila por intento, también los fallidos. Prune al arrancar (> 90d).
//   - `account_snapshots` + `snapshot_positions`: foto de cuenta por instante, solo se añade.
//   - Tiempos en milisegundos UTC (INTEGER): ordenación exacta y sin parseos.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
    id           TEXT PRIMARY KEY,
    venue_id     TEXT    NOT NULL DEFAULT '',
    order_id     TEXT    NOT NULL DEFAULT '',
    venue        TEXT    NOT NULL,
    account      TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    price        REAL    NOT NULL,
    size         REAL    NOT NULL,
    fee          REAL    NOT NULL DEFAULT 0,
    fee_currency TEXT    NOT NULL DEFAULT '',
    ts_ms        INTEGER NOT NULL,
    status       TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS funding (
    id            TEXT PRIMARY KEY,
    venue_id      TEXT    NOT NULL DEFAULT '',
    venue         TEXT    NOT NULL,
    account       TEXT    NOT NULL,
    symbol        TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    rate          REAL    NOT NULL DEFAULT 0,
    position_size REAL    NOT NULL DEFAULT 0,
    price         REAL    NOT NULL DEFAULT 0,
    value         REAL    NOT NULL DEFAULT 0,
    ts_ms         INTEGER NOT NULL,
    trade_id      TEXT
);

CREATE TABLE IF NOT EXISTS liquidations (
    id            TEXT PRIMARY KEY,
    venue_id      TEXT    NOT NULL DEFAULT '',
    venue         TEXT    NOT NULL,
    account       TEXT    NOT NULL,
    symbol        TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    size          REAL    NOT NULL,
    entry_price   REAL    NOT NULL DEFAULT 0,
    exit_price    REAL    NOT NULL DEFAULT 0,
    total_pnl     REAL    NOT NULL DEFAULT 0,
    fee           REAL    NOT NULL DEFAULT 0,
    liquidate_fee REAL    NOT NULL DEFAULT 0,
    exit_type     TEXT    NOT NULL DEFAULT '',
    ts_ms         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_pnl (
    id         TEXT PRIMARY KEY,
    venue_id   TEXT    NOT NULL DEFAULT '',
    venue      TEXT    NOT NULL,
    account    TEXT    NOT NULL,
    symbol     TEXT    NOT NULL,
    side       TEXT    NOT NULL,
    size       REAL    NOT NULL,
    exit_price REAL    NOT NULL DEFAULT 0,
    total_pnl  REAL    NOT NULL DEFAULT 0,
    fee        REAL    NOT NULL DEFAULT 0,
    exit_type  TEXT    NOT NULL DEFAULT '',
    ts_ms      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_snapshots (
    venue             TEXT    NOT NULL,
    account           TEXT    NOT NULL,
    ts_ms             INTEGER NOT NULL,
    total_equity      REAL    NOT NULL DEFAULT 0,
    available_balance REAL    NOT NULL DEFAULT 0,
    margin_balance    REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (venue, account, ts_ms)
);

CREATE TABLE IF NOT EXISTS snapshot_positions (
    venue       TEXT    NOT NULL,
    account     TEXT    NOT NULL,
    ts_ms       INTEGER NOT NULL,
    symbol      TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    size        REAL    NOT NULL,
    entry_price REAL    NOT NULL DEFAULT 0,
    unrealized  REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (venue, account, ts_ms, symbol)
);

CREATE TABLE IF NOT EXISTS price_bars (
    venue     TEXT    NOT NULL,
    symbol    TEXT    NOT NULL,
    timeframe TEXT    NOT NULL,
    start_ms  INTEGER NOT NULL,
    open      REAL    NOT NULL,
    high      REAL    NOT NULL,
    low       REAL    NOT NULL,
    close     REAL    NOT NULL,
    volume    REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (venue, symbol, timeframe, start_ms)
);

CREATE TABLE IF NOT EXISTS trades (
    id           TEXT PRIMARY KEY,
    venue        TEXT    NOT NULL,
    account      TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    entry_ms     INTEGER NOT NULL,
    exit_ms      INTEGER NOT NULL,
    entry_price  REAL    NOT NULL,
    exit_price   REAL    NOT NULL,
    entry_size   REAL    NOT NULL,
    exit_size    REAL    NOT NULL,
    max_size     REAL    NOT NULL,
    realized_pnl REAL    NOT NULL,
    fees         REAL    NOT NULL DEFAULT 0,
    funding      REAL    NOT NULL DEFAULT 0,
    net_pnl      REAL    NOT NULL,
    mae          REAL,
    mfe          REAL,
    etd          REAL,
    first_seen   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_legs (
    trade_id TEXT    NOT NULL,
    seq      INTEGER NOT NULL,
    fill_id  TEXT    NOT NULL,
    role     TEXT    NOT NULL,
    side     TEXT    NOT NULL,
    price    REAL    NOT NULL,
    size     REAL    NOT NULL,
    fee      REAL    NOT NULL DEFAULT 0,
    ts_ms    INTEGER NOT NULL,
    PRIMARY KEY (trade_id, seq)
);

CREATE TABLE IF NOT EXISTS sync_state (
    key             TEXT PRIMARY KEY,
    endpoint        TEXT    NOT NULL,
    venue           TEXT    NOT NULL,
    account         TEXT    NOT NULL,
    scope           TEXT    NOT NULL DEFAULT '',
    last_ms         INTEGER NOT NULL,
    last_id         TEXT    NOT NULL DEFAULT '',
    last_success_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id             TEXT PRIMARY KEY,
    key            TEXT    NOT NULL,
    endpoint       TEXT    NOT NULL,
    venue          TEXT    NOT NULL,
    account        TEXT    NOT NULL,
    scope          TEXT    NOT NULL DEFAULT '',
    status         TEXT    NOT NULL,
    error          TEXT    NOT NULL DEFAULT '',
    started_ms     INTEGER NOT NULL,
    finished_ms    INTEGER NOT NULL,
    pages          INTEGER NOT NULL DEFAULT 0,
    fetched        INTEGER NOT NULL DEFAULT 0,
    accepted       INTEGER NOT NULL DEFAULT 0,
    rejected       INTEGER NOT NULL DEFAULT 0,
    reject_reasons TEXT    NOT NULL DEFAULT '{}',
    throttled      INTEGER NOT NULL DEFAULT 0,
    cap_detected   INTEGER NOT NULL DEFAULT 0,
    oldest_ms      INTEGER,
    newest_ms      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_fills_stream   ON fills(venue, account, symbol, ts_ms);
CREATE INDEX IF NOT EXISTS idx_funding_stream ON funding(venue, account, ts_ms);
CREATE INDEX IF NOT EXISTS idx_liq_stream     ON liquidations(venue, account, ts_ms);
CREATE INDEX IF NOT EXISTS idx_pnl_stream     ON closed_pnl(venue, account, ts_ms);
CREATE INDEX IF NOT EXISTS idx_trades_stream  ON trades(venue, account, symbol);
CREATE INDEX IF NOT EXISTS idx_trades_exit    ON trades(exit_ms DESC);
CREATE INDEX IF NOT EXISTS idx_runs_key       ON sync_runs(key, started_ms DESC);
`

const retentionRuns = 90 * 24 * time.Hour // diagnósticos de sync: 90 días

// SQLiteStorage implementa ports.LedgerStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia diagnósticos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina runs antiguos; los checkpoints y registros nunca se borran.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := s.now().Add(-retentionRuns)
	s.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_ms < ?`, cutoff.UnixMilli())
}

// --- helpers internos ---

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// nullMillis mapea el tiempo cero a NULL.
func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMillis(v.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
