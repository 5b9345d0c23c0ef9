package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurrr/trade-journal/internal/adapters/storage"
	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeFill(venueID string, side domain.Side, price, size float64, at time.Duration) domain.Fill {
	f := domain.Fill{
		VenueID:   venueID,
		Venue:     "hyperliquid",
		Account:   "0xabc",
		Symbol:    "BTC-USDC",
		Side:      side,
		Price:     price,
		Size:      size,
		Fee:       0.1,
		Timestamp: t0.Add(at),
	}
	f.ID = f.Key()
	return f
}

func makeTrade(id string, exit time.Duration) domain.Trade {
	return domain.Trade{
		ID: id, Venue: "hyperliquid", Account: "0xabc", Symbol: "BTC-USDC",
		Side: domain.Long, Status: domain.TradeClosed,
		EntryTime: t0, ExitTime: t0.Add(exit),
		EntryPrice: 100, ExitPrice: 110, EntrySize: 1, ExitSize: 1, MaxSize: 1,
		RealizedPnL: 10, Fees: 0.2,
		Legs: []domain.TradeLeg{
			{FillID: "f1", Role: domain.LegEntry, Side: domain.SideBuy, Price: 100, Size: 1, Fee: 0.1, Timestamp: t0},
			{FillID: "f2", Role: domain.LegExit, Side: domain.SideSell, Price: 110, Size: 1, Fee: 0.1, Timestamp: t0.Add(exit)},
		},
	}
}

func TestSQLiteStorage_UpsertFillsIsIdempotent(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	fills := []domain.Fill{
		makeFill("1", domain.SideBuy, 100, 1, 0),
		makeFill("2", domain.SideSell, 110, 1, time.Minute),
	}
	n, err := db.UpsertFills(ctx, fills)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-sync de la ventana de solape: mismas claves, sin duplicados.
	_, err = db.UpsertFills(ctx, fills)
	require.NoError(t, err)

	got, err := db.ListFills(ctx, "hyperliquid", "0xabc", "BTC-USDC")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, fills[0].ID, got[0].ID)
	assert.Equal(t, domain.SideBuy, got[0].Side)
	assert.Equal(t, t0, got[0].Timestamp)
	assert.Equal(t, t0.Add(time.Minute), got[1].Timestamp)
}

func TestSQLiteStorage_AccountsAndSymbols(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	eth := makeFill("3", domain.SideBuy, 3000, 1, 0)
	eth.Symbol = "ETH-USDC"
	eth.ID = eth.Key()
	_, err := db.UpsertFills(ctx, []domain.Fill{makeFill("1", domain.SideBuy, 100, 1, 0), eth})
	require.NoError(t, err)

	accounts, err := db.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ports.AccountRef{{Venue: "hyperliquid", Account: "0xabc"}}, accounts)

	symbols, err := db.ListSymbols(ctx, "hyperliquid", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDC", "ETH-USDC"}, symbols)
}

func TestSQLiteStorage_CheckpointNeverMovesBackwards(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	key := domain.SyncKey{Endpoint: domain.EndpointFills, Venue: "hyperliquid", Account: "0xabc"}

	_, err := db.GetCheckpoint(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, db.AdvanceCheckpoint(ctx, domain.Checkpoint{
		Key: key, LastTimestamp: t0.Add(time.Hour), LastID: "b", LastSuccessAt: t0,
	}))
	require.NoError(t, db.AdvanceCheckpoint(ctx, domain.Checkpoint{
		Key: key, LastTimestamp: t0, LastID: "a", LastSuccessAt: t0.Add(2 * time.Hour),
	}))

	cp, err := db.GetCheckpoint(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), cp.LastTimestamp)
	assert.Equal(t, "b", cp.LastID)
	assert.Equal(t, t0.Add(2*time.Hour), cp.LastSuccessAt)
}

func TestSQLiteStorage_SyncStatus(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	fills := domain.SyncKey{Endpoint: domain.EndpointFills, Venue: "apex", Account: "acc"}
	funding := domain.SyncKey{Endpoint: domain.EndpointFunding, Venue: "apex", Account: "acc"}

	require.NoError(t, db.AdvanceCheckpoint(ctx, domain.Checkpoint{Key: fills, LastTimestamp: t0, LastSuccessAt: t0}))
	require.NoError(t, db.SaveSyncRun(ctx, domain.SyncRun{
		ID: "r1", Key: fills, Status: domain.RunSucceeded, StartedAt: t0, FinishedAt: t0.Add(time.Second),
		Accepted: 3, Rejected: 1, RejectReasons: map[string]int{"missing symbol": 1},
		OldestObserved: t0.Add(-time.Hour),
	}))
	require.NoError(t, db.SaveSyncRun(ctx, domain.SyncRun{
		ID: "r2", Key: funding, Status: domain.RunFailed, Error: "boom", CapDetected: true,
		StartedAt: t0, FinishedAt: t0.Add(time.Second),
	}))

	statuses, err := db.ListSyncStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, fills, statuses[0].Key)
	require.NotNil(t, statuses[0].Checkpoint)
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, 1, statuses[0].LastRun.RejectReasons["missing symbol"])
	assert.Equal(t, t0.Add(-time.Hour), statuses[0].LastRun.OldestObserved)

	assert.Equal(t, funding, statuses[1].Key)
	assert.Nil(t, statuses[1].Checkpoint)
	require.NotNil(t, statuses[1].LastRun)
	assert.True(t, statuses[1].LastRun.CapDetected)
	assert.Equal(t, domain.RunFailed, statuses[1].LastRun.Status)
}

func TestSQLiteStorage_ReplaceTradesRemovesStale(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceTrades(ctx, "hyperliquid", "0xabc", "BTC-USDC",
		[]domain.Trade{makeTrade("t1", time.Hour), makeTrade("t2", 2*time.Hour)}))

	keep := makeTrade("t2", 2*time.Hour)
	keep.Excursion = &domain.Excursion{MAE: -5, MFE: 15, ETD: 5}
	require.NoError(t, db.ReplaceTrades(ctx, "hyperliquid", "0xabc", "BTC-USDC", []domain.Trade{keep}))

	trades, err := db.ListTrades(ctx, ports.TradeFilter{Venue: "hyperliquid"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t2", trades[0].ID)
	require.NotNil(t, trades[0].Excursion)
	assert.InDelta(t, 15.0, trades[0].Excursion.MFE, 1e-9)

	_, err = db.GetTrade(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := db.GetTrade(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, domain.LegExit, got.Legs[1].Role)
	assert.InDelta(t, 9.8, got.NetPnL(), 1e-9)
}

func TestSQLiteStorage_ReplaceTradesEmptyClearsSymbol(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceTrades(ctx, "hyperliquid", "0xabc", "BTC-USDC", []domain.Trade{makeTrade("t1", time.Hour)}))
	require.NoError(t, db.ReplaceTrades(ctx, "hyperliquid", "0xabc", "BTC-USDC", nil))

	trades, err := db.ListTrades(ctx, ports.TradeFilter{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSQLiteStorage_ListTradesFilter(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	require.NoError(t, db.ReplaceTrades(ctx, "hyperliquid", "0xabc", "BTC-USDC", []domain.Trade{
		makeTrade("t1", time.Hour), makeTrade("t2", 2*time.Hour), makeTrade("t3", 3*time.Hour),
	}))

	trades, err := db.ListTrades(ctx, ports.TradeFilter{From: t0.Add(90 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t3", trades[0].ID)
}

func TestSQLiteStorage_FundingAttribution(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	ev := domain.FundingEvent{
		VenueID: "tx1", Venue: "hyperliquid", Account: "0xabc", Symbol: "BTC-USDC",
		Side: domain.Long, Rate: 0.0001, PositionSize: 1, Value: -0.5, Timestamp: t0,
	}
	ev.ID = ev.Key()
	_, err := db.UpsertFunding(ctx, []domain.FundingEvent{ev})
	require.NoError(t, err)

	require.NoError(t, db.SetFundingAttribution(ctx, "hyperliquid", "0xabc", map[string]string{ev.ID: "t1"}))
	// Re-sync no borra la atribución.
	_, err = db.UpsertFunding(ctx, []domain.FundingEvent{ev})
	require.NoError(t, err)

	events, err := db.ListFunding(ctx, "hyperliquid", "0xabc")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].TradeID)

	require.NoError(t, db.SetFundingAttribution(ctx, "hyperliquid", "0xabc", nil))
	events, err = db.ListFunding(ctx, "hyperliquid", "0xabc")
	require.NoError(t, err)
	assert.Empty(t, events[0].TradeID)
}

func TestSQLiteStorage_PriceBarsRange(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	var bars []domain.PriceBar
	for i := range 5 {
		bars = append(bars, domain.PriceBar{
			Venue: "hyperliquid", Symbol: "BTC-USDC", Timeframe: domain.CanonicalTimeframe,
			Start: t0.Add(time.Duration(i) * time.Minute), Open: 100, High: 101, Low: 99, Close: 100,
		})
	}
	_, err := db.UpsertPriceBars(ctx, bars)
	require.NoError(t, err)
	_, err = db.UpsertPriceBars(ctx, bars[:2])
	require.NoError(t, err)

	got, err := db.PriceBars(ctx, "hyperliquid", "BTC-USDC", domain.CanonicalTimeframe, t0.Add(time.Minute), t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, t0.Add(time.Minute), got[0].Start)
}

func TestSQLiteStorage_Liquidations(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	liq := domain.Liquidation{
		VenueID: "l1", Venue: "apex", Account: "acc", Symbol: "ETH-USDT", Side: domain.Long,
		Size: 2, EntryPrice: 3000, ExitPrice: 2700, TotalPnL: -600, ExitType: "LIQUIDATE", Timestamp: t0,
	}
	_, err := db.UpsertLiquidations(ctx, []domain.Liquidation{liq, liq})
	require.NoError(t, err)

	got, err := db.ListLiquidations(ctx, "apex", "acc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "apex:acc:l1", got[0].ID)
	assert.Equal(t, domain.Long, got[0].Side)
}

func TestSQLiteStorage_EmptyWrites(t *testing.T) {
	db := newDB(t)
	n, err := db.UpsertFills(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
