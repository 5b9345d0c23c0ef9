package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// UpsertFills persiste fills por clave estable. Devuelve cuántas filas se escribieron.
func (s *SQLiteStorage) UpsertFills(ctx context.Context, fills []domain.Fill) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	return s.upsert(ctx, "storage.UpsertFills", `
		INSERT INTO fills
			(id, venue_id, order_id, venue, account, symbol, side, price, size,
			 fee, fee_currency, ts_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id     = excluded.order_id,
			symbol       = excluded.symbol,
			side         = excluded.side,
			price        = excluded.price,
			size         = excluded.size,
			fee          = excluded.fee,
			fee_currency = excluded.fee_currency,
			ts_ms        = excluded.ts_ms,
			status       = excluded.status
	`, len(fills), func(i int) (string, []any) {
		f := fills[i]
		id := f.ID
		if id == "" {
			id = f.Key()
		}
		return id, []any{
			id, f.VenueID, f.OrderID, f.Venue, f.Account, f.Symbol, string(f.Side),
			f.Price, f.Size, f.Fee, f.FeeCurrency, toMillis(f.Timestamp), f.Status,
		}
	})
}

// UpsertFunding persiste eventos de funding. La atribución (trade_id) no se
// toca: solo la escribe SetFundingAttribution.
func (s *SQLiteStorage) UpsertFunding(ctx context.Context, events []domain.FundingEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	return s.upsert(ctx, "storage.UpsertFunding", `
		INSERT INTO funding
			(id, venue_id, venue, account, symbol, side, rate, position_size, price, value, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol        = excluded.symbol,
			side          = excluded.side,
			rate          = excluded.rate,
			position_size = excluded.position_size,
			price         = excluded.price,
			value         = excluded.value,
			ts_ms         = excluded.ts_ms
	`, len(events), func(i int) (string, []any) {
		e := events[i]
		id := e.ID
		if id == "" {
			id = e.Key()
		}
		return id, []any{
			id, e.VenueID, e.Venue, e.Account, e.Symbol, string(e.Side),
			e.Rate, e.PositionSize, e.Price, e.Value, toMillis(e.Timestamp),
		}
	})
}

// UpsertLiquidations persiste cierres forzados.
func (s *SQLiteStorage) UpsertLiquidations(ctx context.Context, events []domain.Liquidation) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	return s.upsert(ctx, "storage.UpsertLiquidations", `
		INSERT INTO liquidations
			(id, venue_id, venue, account, symbol, side, size, entry_price, exit_price,
			 total_pnl, fee, liquidate_fee, exit_type, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size          = excluded.size,
			entry_price   = excluded.entry_price,
			exit_price    = excluded.exit_price,
			total_pnl     = excluded.total_pnl,
			fee           = excluded.fee,
			liquidate_fee = excluded.liquidate_fee,
			exit_type     = excluded.exit_type,
			ts_ms         = excluded.ts_ms
	`, len(events), func(i int) (string, []any) {
		l := events[i]
		id := l.ID
		if id == "" {
			id = l.Key()
		}
		return id, []any{
			id, l.VenueID, l.Venue, l.Account, l.Symbol, string(l.Side), l.Size,
			l.EntryPrice, l.ExitPrice, l.TotalPnL, l.Fee, l.LiquidateFee, l.ExitType,
			toMillis(l.Timestamp),
		}
	})
}

// UpsertPriceBars persiste velas. Clave: (venue, symbol, timeframe, start).
func (s *SQLiteStorage) UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	return s.upsert(ctx, "storage.UpsertPriceBars", `
		INSERT INTO price_bars (venue, symbol, timeframe, start_ms, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue, symbol, timeframe, start_ms) DO UPDATE SET
			open   = excluded.open,
			high   = excluded.high,
			low    = excluded.low,
			close  = excluded.close,
			volume = excluded.volume
	`, len(bars), func(i int) (string, []any) {
		b := bars[i]
		return b.Symbol + "@" + b.Start.UTC().Format(time.RFC3339), []any{
			b.Venue, b.Symbol, string(b.Timeframe), toMillis(b.Start),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		}
	})
}

// upsert ejecuta un statement preparado por cada registro dentro de una transacción.
func (s *SQLiteStorage) upsert(ctx context.Context, op, query string, n int, row func(i int) (string, []any)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare: %w", op, err)
	}
	defer stmt.Close()

	for i := range n {
		id, args := row(i)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("%s: upsert %s: %w", op, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return n, nil
}

// ListAccounts devuelve los pares (venue, account) con fills almacenados.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]ports.AccountRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT venue, account FROM fills ORDER BY venue, account`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListAccounts: query: %w", err)
	}
	defer rows.Close()

	var refs []ports.AccountRef
	for rows.Next() {
		var r ports.AccountRef
		if err := rows.Scan(&r.Venue, &r.Account); err != nil {
			return nil, fmt.Errorf("storage.ListAccounts: scan row: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ListSymbols devuelve los símbolos con fills para una cuenta.
func (s *SQLiteStorage) ListSymbols(ctx context.Context, venue, account string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM fills WHERE venue = ? AND account = ? ORDER BY symbol`,
		venue, account)
	if err != nil {
		return nil, fmt.Errorf("storage.ListSymbols: query: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("storage.ListSymbols: scan row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// ListFills devuelve los fills de un stream ordenados por tiempo.
func (s *SQLiteStorage) ListFills(ctx context.Context, venue, account, symbol string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, order_id, venue, account, symbol, side, price, size,
		       fee, fee_currency, ts_ms, status
		FROM fills
		WHERE venue = ? AND account = ? AND symbol = ?
		ORDER BY ts_ms, id
	`, venue, account, symbol)
	if err != nil {
		return nil, fmt.Errorf("storage.ListFills: query: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var ts int64
		if err := rows.Scan(
			&f.ID, &f.VenueID, &f.OrderID, &f.Venue, &f.Account, &f.Symbol, &side,
			&f.Price, &f.Size, &f.Fee, &f.FeeCurrency, &ts, &f.Status,
		); err != nil {
			return nil, fmt.Errorf("storage.ListFills: scan row: %w", err)
		}
		f.Side = domain.Side(side)
		f.Timestamp = fromMillis(ts)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListFunding devuelve los eventos de funding de una cuenta ordenados por tiempo.
func (s *SQLiteStorage) ListFunding(ctx context.Context, venue, account string) ([]domain.FundingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, venue, account, symbol, side, rate, position_size,
		       price, value, ts_ms, trade_id
		FROM funding
		WHERE venue = ? AND account = ?
		ORDER BY ts_ms, id
	`, venue, account)
	if err != nil {
		return nil, fmt.Errorf("storage.ListFunding: query: %w", err)
	}
	defer rows.Close()

	var events []domain.FundingEvent
	for rows.Next() {
		var e domain.FundingEvent
		var side string
		var ts int64
		var tradeID sql.NullString
		if err := rows.Scan(
			&e.ID, &e.VenueID, &e.Venue, &e.Account, &e.Symbol, &side, &e.Rate,
			&e.PositionSize, &e.Price, &e.Value, &ts, &tradeID,
		); err != nil {
			return nil, fmt.Errorf("storage.ListFunding: scan row: %w", err)
		}
		e.Side = domain.PositionSide(side)
		e.Timestamp = fromMillis(ts)
		e.TradeID = tradeID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListLiquidations devuelve las liquidaciones de una cuenta, las más recientes primero.
func (s *SQLiteStorage) ListLiquidations(ctx context.Context, venue, account string) ([]domain.Liquidation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, venue, account, symbol, side, size, entry_price, exit_price,
		       total_pnl, fee, liquidate_fee, exit_type, ts_ms
		FROM liquidations
		WHERE venue = ? AND account = ?
		ORDER BY ts_ms DESC
	`, venue, account)
	if err != nil {
		return nil, fmt.Errorf("storage.ListLiquidations: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Liquidation
	for rows.Next() {
		var l domain.Liquidation
		var side string
		var ts int64
		if err := rows.Scan(
			&l.ID, &l.VenueID, &l.Venue, &l.Account, &l.Symbol, &side, &l.Size,
			&l.EntryPrice, &l.ExitPrice, &l.TotalPnL, &l.Fee, &l.LiquidateFee,
			&l.ExitType, &ts,
		); err != nil {
			return nil, fmt.Errorf("storage.ListLiquidations: scan row: %w", err)
		}
		l.Side = domain.PositionSide(side)
		l.Timestamp = fromMillis(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

// PriceBars devuelve velas con start en [from, to].
func (s *SQLiteStorage) PriceBars(ctx context.Context, venue, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ms, open, high, low, close, volume
		FROM price_bars
		WHERE venue = ? AND symbol = ? AND timeframe = ? AND start_ms BETWEEN ? AND ?
		ORDER BY start_ms
	`, venue, symbol, string(tf), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.PriceBars: query: %w", err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		b := domain.PriceBar{Venue: venue, Symbol: symbol, Timeframe: tf}
		var start int64
		if err := rows.Scan(&start, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("storage.PriceBars: scan row: %w", err)
		}
		b.Start = fromMillis(start)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
