package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// ReplaceTrades hace upsert de los trades de un símbolo y borra, en la misma
// transacción, los que el rebuild ya no produce (sus IDs cambiaron o
// desaparecieron). first_seen se conserva entre rebuilds.
func (s *SQLiteStorage) ReplaceTrades(ctx context.Context, venue, account, symbol string, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.ReplaceTrades: begin tx: %w", err)
	}
	defer tx.Rollback()

	keep := make([]any, 0, len(trades)+3)
	keep = append(keep, venue, account, symbol)
	for _, t := range trades {
		keep = append(keep, t.ID)
	}
	notIn := ""
	if len(trades) > 0 {
		notIn = " AND id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(trades)), ",") + ")"
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM trade_legs WHERE trade_id IN (
			SELECT id FROM trades WHERE venue = ? AND account = ? AND symbol = ?
		)`, venue, account, symbol); err != nil {
		return fmt.Errorf("storage.ReplaceTrades: delete legs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM trades WHERE venue = ? AND account = ? AND symbol = ?`+notIn, keep...); err != nil {
		return fmt.Errorf("storage.ReplaceTrades: delete stale: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades
			(id, venue, account, symbol, side, status, entry_ms, exit_ms, entry_price,
			 exit_price, entry_size, exit_size, max_size, realized_pnl, fees, funding,
			 net_pnl, mae, mfe, etd, first_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			max_size     = excluded.max_size,
			fees         = excluded.fees,
			funding      = excluded.funding,
			net_pnl      = excluded.net_pnl,
			mae          = excluded.mae,
			mfe          = excluded.mfe,
			etd          = excluded.etd,
			updated_at   = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("storage.ReplaceTrades: prepare trade: %w", err)
	}
	defer tradeStmt.Close()

	legStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_legs (trade_id, seq, fill_id, role, side, price, size, fee, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.ReplaceTrades: prepare leg: %w", err)
	}
	defer legStmt.Close()

	now := s.now().UnixMilli()
	for _, t := range trades {
		var mae, mfe, etd sql.NullFloat64
		if t.Excursion != nil {
			mae = sql.NullFloat64{Float64: t.Excursion.MAE, Valid: true}
			mfe = sql.NullFloat64{Float64: t.Excursion.MFE, Valid: true}
			etd = sql.NullFloat64{Float64: t.Excursion.ETD, Valid: true}
		}
		if _, err := tradeStmt.ExecContext(ctx,
			t.ID, t.Venue, t.Account, t.Symbol, string(t.Side), string(t.Status),
			toMillis(t.EntryTime), toMillis(t.ExitTime), t.EntryPrice, t.ExitPrice,
			t.EntrySize, t.ExitSize, t.MaxSize, t.RealizedPnL, t.Fees, t.Funding,
			t.NetPnL(), mae, mfe, etd,
			now, // first_seen: ignorado en ON CONFLICT
			now,
		); err != nil {
			return fmt.Errorf("storage.ReplaceTrades: upsert %s: %w", t.ID, err)
		}
		for i, l := range t.Legs {
			if _, err := legStmt.ExecContext(ctx,
				t.ID, i, l.FillID, string(l.Role), string(l.Side), l.Price, l.Size, l.Fee,
				toMillis(l.Timestamp),
			); err != nil {
				return fmt.Errorf("storage.ReplaceTrades: insert leg %s/%d: %w", t.ID, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.ReplaceTrades: commit: %w", err)
	}
	return nil
}

// SetFundingAttribution reescribe trade_id de todos los eventos de la cuenta:
// primero se limpia, luego se aplica el mapa fundingID → tradeID.
func (s *SQLiteStorage) SetFundingAttribution(ctx context.Context, venue, account string, byFundingID map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SetFundingAttribution: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE funding SET trade_id = NULL WHERE venue = ? AND account = ?`, venue, account); err != nil {
		return fmt.Errorf("storage.SetFundingAttribution: reset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE funding SET trade_id = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("storage.SetFundingAttribution: prepare: %w", err)
	}
	defer stmt.Close()

	for fundingID, tradeID := range byFundingID {
		if _, err := stmt.ExecContext(ctx, tradeID, fundingID); err != nil {
			return fmt.Errorf("storage.SetFundingAttribution: update %s: %w", fundingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SetFundingAttribution: commit: %w", err)
	}
	return nil
}

const tradeColumns = `
	id, venue, account, symbol, side, status, entry_ms, exit_ms, entry_price,
	exit_price, entry_size, exit_size, max_size, realized_pnl, fees, funding,
	mae, mfe, etd`

// GetTrade devuelve un trade con sus legs. domain.ErrNotFound si no existe.
func (s *SQLiteStorage) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: scan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, role, side, price, size, fee, ts_ms
		FROM trade_legs WHERE trade_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: query legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.TradeLeg
		var role, side string
		var ts int64
		if err := rows.Scan(&l.FillID, &role, &side, &l.Price, &l.Size, &l.Fee, &ts); err != nil {
			return domain.Trade{}, fmt.Errorf("storage.GetTrade: scan leg: %w", err)
		}
		l.Role = domain.LegRole(role)
		l.Side = domain.Side(side)
		l.Timestamp = fromMillis(ts)
		t.Legs = append(t.Legs, l)
	}
	return t, rows.Err()
}

// ListTrades devuelve trades sin legs, los cerrados más recientemente primero.
func (s *SQLiteStorage) ListTrades(ctx context.Context, filter ports.TradeFilter) ([]domain.Trade, error) {
	var where []string
	var args []any
	if filter.Venue != "" {
		where = append(where, "venue = ?")
		args = append(args, filter.Venue)
	}
	if filter.Account != "" {
		where = append(where, "account = ?")
		args = append(args, filter.Account)
	}
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if !filter.From.IsZero() {
		where = append(where, "exit_ms >= ?")
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		where = append(where, "exit_ms < ?")
		args = append(args, filter.To.UnixMilli())
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY exit_ms DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListTrades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListTrades: scan row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (domain.Trade, error) {
	var t domain.Trade
	var side, status string
	var entry, exit int64
	var mae, mfe, etd sql.NullFloat64
	if err := row.Scan(
		&t.ID, &t.Venue, &t.Account, &t.Symbol, &side, &status, &entry, &exit,
		&t.EntryPrice, &t.ExitPrice, &t.EntrySize, &t.ExitSize, &t.MaxSize,
		&t.RealizedPnL, &t.Fees, &t.Funding, &mae, &mfe, &etd,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.PositionSide(side)
	t.Status = domain.TradeStatus(status)
	t.EntryTime = fromMillis(entry)
	t.ExitTime = fromMillis(exit)
	if mae.Valid && mfe.Valid && etd.Valid {
		t.Excursion = &domain.Excursion{MAE: mae.Float64, MFE: mfe.Float64, ETD: etd.Float64}
	}
	return t, nil
}
