package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/slurrr/trade-journal/internal/domain"
)

// UpsertClosedPnL persiste los cierres que reporta el venue.
func (s *SQLiteStorage) UpsertClosedPnL(ctx context.Context, records []domain.ClosedPnL) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	return s.upsert(ctx, "storage.UpsertClosedPnL", `
		INSERT INTO closed_pnl
			(id, venue_id, venue, account, symbol, side, size, exit_price, total_pnl, fee, exit_type, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size       = excluded.size,
			exit_price = excluded.exit_price,
			total_pnl  = excluded.total_pnl,
			fee        = excluded.fee,
			exit_type  = excluded.exit_type,
			ts_ms      = excluded.ts_ms
	`, len(records), func(i int) (string, []any) {
		c := records[i]
		id := c.ID
		if id == "" {
			id = c.Key()
		}
		return id, []any{
			id, c.VenueID, c.Venue, c.Account, c.Symbol, string(c.Side), c.Size,
			c.ExitPrice, c.TotalPnL, c.Fee, c.ExitType, toMillis(c.Timestamp),
		}
	})
}

// ListClosedPnL devuelve los cierres de una cuenta ordenados por tiempo.
func (s *SQLiteStorage) ListClosedPnL(ctx context.Context, venue, account string) ([]domain.ClosedPnL, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, venue, account, symbol, side, size, exit_price, total_pnl, fee, exit_type, ts_ms
		FROM closed_pnl
		WHERE venue = ? AND account = ?
		ORDER BY ts_ms, id
	`, venue, account)
	if err != nil {
		return nil, fmt.Errorf("storage.ListClosedPnL: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedPnL
	for rows.Next() {
		var c domain.ClosedPnL
		var side string
		var ts int64
		if err := rows.Scan(
			&c.ID, &c.VenueID, &c.Venue, &c.Account, &c.Symbol, &side, &c.Size,
			&c.ExitPrice, &c.TotalPnL, &c.Fee, &c.ExitType, &ts,
		); err != nil {
			return nil, fmt.Errorf("storage.ListClosedPnL: scan row: %w", err)
		}
		c.Side = domain.PositionSide(side)
		c.Timestamp = fromMillis(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveSnapshot guarda la foto de cuenta y sus posiciones en una transacción.
// Repetir el mismo instante la sobrescribe.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := toMillis(snap.Timestamp)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_snapshots (venue, account, ts_ms, total_equity, available_balance, margin_balance)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue, account, ts_ms) DO UPDATE SET
			total_equity      = excluded.total_equity,
			available_balance = excluded.available_balance,
			margin_balance    = excluded.margin_balance
	`, snap.Venue, snap.Account, ts, snap.TotalEquity, snap.AvailableBalance, snap.MarginBalance); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: %s/%s: %w", snap.Venue, snap.Account, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_positions WHERE venue = ? AND account = ? AND ts_ms = ?`,
		snap.Venue, snap.Account, ts,
	); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: clear positions: %w", err)
	}
	for _, p := range snap.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_positions (venue, account, ts_ms, symbol, side, size, entry_price, unrealized)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.Venue, snap.Account, ts, p.Symbol, string(p.Side), p.Size, p.EntryPrice, p.Unrealized); err != nil {
			return fmt.Errorf("storage.SaveSnapshot: position %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: commit: %w", err)
	}
	return nil
}

// LatestSnapshot devuelve la foto más reciente de la cuenta o domain.ErrNotFound.
func (s *SQLiteStorage) LatestSnapshot(ctx context.Context, venue, account string) (domain.AccountSnapshot, error) {
	snap := domain.AccountSnapshot{Venue: venue, Account: account}
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts_ms, total_equity, available_balance, margin_balance
		FROM account_snapshots
		WHERE venue = ? AND account = ?
		ORDER BY ts_ms DESC
		LIMIT 1
	`, venue, account).Scan(&ts, &snap.TotalEquity, &snap.AvailableBalance, &snap.MarginBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccountSnapshot{}, fmt.Errorf("storage.LatestSnapshot: %s/%s: %w", venue, account, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("storage.LatestSnapshot: %s/%s: %w", venue, account, err)
	}
	snap.Timestamp = fromMillis(ts)

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, size, entry_price, unrealized
		FROM snapshot_positions
		WHERE venue = ? AND account = ? AND ts_ms = ?
		ORDER BY symbol
	`, venue, account, ts)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("storage.LatestSnapshot: positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.PositionSnapshot
		var side string
		if err := rows.Scan(&p.Symbol, &side, &p.Size, &p.EntryPrice, &p.Unrealized); err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("storage.LatestSnapshot: scan position: %w", err)
		}
		p.Side = domain.PositionSide(side)
		snap.Positions = append(snap.Positions, p)
	}
	return snap, rows.Err()
}
