package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurrr/trade-journal/internal/adapters/storage"
	"github.com/slurrr/trade-journal/internal/application/syncer"
	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

const account = "0xabc"

// fakeFills sirve páginas por cursor y falla las primeras llamadas con errs.
type fakeFills struct {
	mu       sync.Mutex
	venue    string
	pages    map[string]ports.Page[domain.Fill]
	errs     []error
	requests []ports.PageRequest
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeFills) Venue() string { return f.venue }

func (f *fakeFills) FetchFills(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Fill], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err != nil {
		return ports.Page[domain.Fill]{}, err
	}
	return f.pages[req.Cursor], nil
}

func (f *fakeFills) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newFill(id string, at time.Duration) domain.Fill {
	return domain.Fill{
		VenueID: id, Venue: "hyperliquid", Account: account, Symbol: "BTC-USDC",
		Side: domain.SideBuy, Price: 100, Size: 1, Timestamp: t0.Add(at),
	}
}

func setup(t *testing.T) (*storage.SQLiteStorage, *syncer.Coordinator) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := syncer.Config{
		Overlap:    time.Hour,
		MaxPages:   10,
		PageLimit:  2,
		Retry:      syncer.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		StallLimit: 2,
	}
	return db, syncer.NewCoordinator(db, syncer.NewLimiters(nil, 0), cfg)
}

func fillsKey() domain.SyncKey {
	return domain.SyncKey{Endpoint: domain.EndpointFills, Venue: "hyperliquid", Account: account}
}

func TestCoordinator_PaginatesValidatesAndCheckpoints(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()

	bad := newFill("bad", 3*time.Minute)
	bad.Symbol = ""
	src := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"":   {Records: []domain.Fill{newFill("1", 0), newFill("2", time.Minute)}, Next: "c1"},
		"c1": {Records: []domain.Fill{newFill("3", 2*time.Minute), bad}, Done: true},
	}}

	run, err := coord.Run(ctx, syncer.FillsTask(src, db, account))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 4, run.Fetched)
	assert.Equal(t, 3, run.Accepted)
	assert.Equal(t, 1, run.Rejected)
	assert.Equal(t, 1, run.RejectReasons["invalid fill: missing symbol"])
	assert.Equal(t, t0, run.OldestObserved)
	assert.True(t, src.requests[0].Since.IsZero())

	cp, err := db.GetCheckpoint(ctx, fillsKey())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Minute), cp.LastTimestamp)
	assert.Equal(t, "hyperliquid:0xabc:3", cp.LastID)

	fills, err := db.ListFills(ctx, "hyperliquid", account, "BTC-USDC")
	require.NoError(t, err)
	assert.Len(t, fills, 3)

	// El segundo run arranca en checkpoint menos solape y re-upserta sin duplicar.
	src.requests = nil
	_, err = coord.Run(ctx, syncer.FillsTask(src, db, account))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Minute-time.Hour), src.requests[0].Since)

	fills, err = db.ListFills(ctx, "hyperliquid", account, "BTC-USDC")
	require.NoError(t, err)
	assert.Len(t, fills, 3)
}

func TestCoordinator_RetriesTransientErrors(t *testing.T) {
	db, coord := setup(t)
	src := &fakeFills{
		venue: "hyperliquid",
		errs:  []error{fmt.Errorf("%w: http 429", domain.ErrThrottled)},
		pages: map[string]ports.Page[domain.Fill]{"": {Records: []domain.Fill{newFill("1", 0)}, Done: true}},
	}

	run, err := coord.Run(context.Background(), syncer.FillsTask(src, db, account))
	require.NoError(t, err)
	assert.Equal(t, 1, run.Throttled)
	assert.Equal(t, 2, src.calls())
	assert.Equal(t, 1, run.Accepted)
}

func TestCoordinator_RetriesExhausted(t *testing.T) {
	db, coord := setup(t)
	transient := fmt.Errorf("%w: http 503", domain.ErrTransient)
	src := &fakeFills{venue: "hyperliquid", errs: []error{transient, transient, transient}}

	run, err := coord.Run(context.Background(), syncer.FillsTask(src, db, account))
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, 3, src.calls())

	_, err = db.GetCheckpoint(context.Background(), fillsKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_FailureNeverMovesCheckpoint(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()

	ok := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"": {Records: []domain.Fill{newFill("1", 0)}, Done: true},
	}}
	_, err := coord.Run(ctx, syncer.FillsTask(ok, db, account))
	require.NoError(t, err)

	// La página uno se guarda y la dos falla con un payload fatal.
	broken := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"": {Records: []domain.Fill{newFill("2", time.Hour)}, Next: "c1"},
	}}
	failing := &failAfter{fakeFills: broken, after: 1, err: fmt.Errorf("%w: code 20016", domain.ErrPayload)}

	run, err := coord.Run(ctx, syncer.FillsTask(failing, db, account))
	require.ErrorIs(t, err, domain.ErrPayload)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, 2, failing.calls(), "payload errors are not retried")

	cp, err := db.GetCheckpoint(ctx, fillsKey())
	require.NoError(t, err)
	assert.Equal(t, t0, cp.LastTimestamp)

	statuses, err := db.ListSyncStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, domain.RunFailed, statuses[0].LastRun.Status)
}

// failAfter devuelve err en cada llamada después de las primeras n.
type failAfter struct {
	*fakeFills
	after int
	err   error
}

func (f *failAfter) FetchFills(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Fill], error) {
	page, err := f.fakeFills.FetchFills(ctx, req)
	if f.calls() > f.after {
		return ports.Page[domain.Fill]{}, f.err
	}
	return page, err
}

func TestCoordinator_CapDetected(t *testing.T) {
	db, coord := setup(t)
	src := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"": {Records: []domain.Fill{newFill("1", 0), newFill("2", time.Minute)}, Next: ""},
	}}

	run, err := coord.Run(context.Background(), syncer.FillsTask(src, db, account))
	require.ErrorIs(t, err, domain.ErrCapDetected)
	assert.True(t, run.CapDetected)
	assert.Equal(t, 2, src.calls())

	_, err = db.GetCheckpoint(context.Background(), fillsKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_NewestFirstStopsBehindWindow(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()

	first := &fakeFills{venue: "apex", pages: map[string]ports.Page[domain.Fill]{
		"": {Records: []domain.Fill{newFill("9", 10*time.Hour)}, Done: true},
	}}
	_, err := coord.Run(ctx, syncer.FillsTask(first, db, account))
	require.NoError(t, err)

	// La ventana empieza en t0+9h. La primera página ya llega a t0+8h: "p1" no se pide.
	src := &fakeFills{venue: "apex", pages: map[string]ports.Page[domain.Fill]{
		"":   {Records: []domain.Fill{newFill("11", 11*time.Hour), newFill("8", 8*time.Hour)}, Next: "p1"},
		"p1": {Records: []domain.Fill{newFill("7", 7*time.Hour)}, Next: "p2"},
		"p2": {Records: []domain.Fill{newFill("6", 6*time.Hour)}, Done: true},
	}}
	run, err := coord.Run(ctx, syncer.FillsTask(src, db, account))
	require.NoError(t, err)
	assert.Equal(t, 1, run.Pages)
	assert.Equal(t, 1, src.calls())

	cp, err := db.GetCheckpoint(ctx, domain.SyncKey{Endpoint: domain.EndpointFills, Venue: "apex", Account: account})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(11*time.Hour), cp.LastTimestamp)
}

func TestCoordinator_PageBudgetOnUnorderedSourceFails(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	coord := syncer.NewCoordinator(db, nil, syncer.Config{MaxPages: 1, Retry: syncer.RetryPolicy{Attempts: 1}})

	src := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"":   {Records: []domain.Fill{newFill("1", 0)}, Next: "c1"},
		"c1": {Records: []domain.Fill{newFill("2", time.Minute)}, Done: true},
	}}
	_, err = coord.Run(context.Background(), syncer.FillsTask(src, db, account))
	require.ErrorIs(t, err, syncer.ErrPageBudget)
	assert.Contains(t, err.Error(), "raise sync.max_pages")

	_, err = db.GetCheckpoint(context.Background(), fillsKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPool_SingleFlightPerKey(t *testing.T) {
	db, coord := setup(t)
	pool := syncer.NewPool(coord, 4)

	src := &fakeFills{
		venue:   "hyperliquid",
		pages:   map[string]ports.Page[domain.Fill]{"": {Records: []domain.Fill{newFill("1", 0)}, Done: true}},
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	task := syncer.FillsTask(src, db, account)

	var wg sync.WaitGroup
	reports := make([]syncer.Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0] = pool.Run(context.Background(), task)
	}()
	<-src.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1] = pool.Run(context.Background(), task)
	}()
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, 1, src.calls())
	assert.True(t, reports[1].Shared)
	assert.Equal(t, reports[0].Run.ID, reports[1].Run.ID)
}

func TestPool_FailuresAreIsolated(t *testing.T) {
	db, coord := setup(t)
	pool := syncer.NewPool(coord, 2)

	good := &fakeFills{venue: "hyperliquid", pages: map[string]ports.Page[domain.Fill]{
		"": {Records: []domain.Fill{newFill("1", 0)}, Done: true},
	}}
	bad := &fakeFills{venue: "apex", errs: []error{errors.New("boom")}}

	reports := pool.RunAll(context.Background(), []syncer.Task{
		syncer.FillsTask(bad, db, "acc"),
		syncer.FillsTask(good, db, account),
	})
	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.Equal(t, "apex", reports[0].Key.Venue)
	assert.NoError(t, reports[1].Err)
	assert.Equal(t, 1, reports[1].Run.Accepted)
}

func TestLimiters_SharedPerVenue(t *testing.T) {
	l := syncer.NewLimiters(map[string]float64{"apex": 5}, 0)
	assert.Same(t, l.For("apex"), l.For("apex"))
	assert.NotSame(t, l.For("apex"), l.For("hyperliquid"))
	assert.InDelta(t, 5.0, float64(l.For("apex").Limit()), 1e-9)
}

// fakeLiquidations sirve páginas por cursor.
type fakeLiquidations struct {
	pages map[string]ports.Page[domain.Liquidation]
	calls int
}

func (f *fakeLiquidations) Venue() string { return "apex" }

func (f *fakeLiquidations) FetchLiquidations(_ context.Context, req ports.PageRequest) (ports.Page[domain.Liquidation], error) {
	f.calls++
	return f.pages[req.Cursor], nil
}

func TestCoordinator_FilteredPagesStopAtWindow(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()
	key := domain.SyncKey{Endpoint: domain.EndpointLiquidations, Venue: "apex", Account: account}
	require.NoError(t, db.AdvanceCheckpoint(ctx, domain.Checkpoint{Key: key, LastTimestamp: t0.Add(10 * time.Hour), LastSuccessAt: t0}))

	liq := domain.Liquidation{
		VenueID: "l1", Venue: "apex", Account: account, Symbol: "BTC-USDT",
		Side: domain.Long, Size: 1, Timestamp: t0.Add(11 * time.Hour),
	}
	// El adapter filtra los cierres normales: páginas llenas con pocos o ningún registro.
	src := &fakeLiquidations{pages: map[string]ports.Page[domain.Liquidation]{
		"":  {Records: []domain.Liquidation{liq}, Next: "1", Oldest: t0.Add(10 * time.Hour)},
		"1": {Next: "2", Oldest: t0.Add(8 * time.Hour)},
		"2": {Next: "3", Oldest: t0.Add(6 * time.Hour)},
		"3": {Next: "4", Oldest: t0.Add(4 * time.Hour)},
	}}
	run, err := coord.Run(ctx, syncer.LiquidationsTask(src, db, account))
	require.NoError(t, err)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 1, run.Accepted)

	cp, err := db.GetCheckpoint(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(11*time.Hour), cp.LastTimestamp)
}

// windowFills simula una fuente ascendente por ventanas, con alcance por símbolo.
type windowFills struct {
	*fakeFills
	scope string
}

func (w *windowFills) AscendingPages() bool { return true }
func (w *windowFills) Scope() string        { return w.scope }

func TestCoordinator_ThroughAdvancesEmptyWindows(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()

	src := &windowFills{scope: "BTCUSDT", fakeFills: &fakeFills{venue: "binance", pages: map[string]ports.Page[domain.Fill]{
		"":   {Next: "w1", Through: t0},
		"w1": {Records: []domain.Fill{newFill("1", time.Hour)}, Next: "w2", Through: t0.Add(2 * time.Hour)},
		"w2": {Next: "w3", Through: t0.Add(5 * time.Hour), Done: true},
	}}}
	task := syncer.FillsTask(src, db, account)
	assert.Equal(t, "fills:binance:0xabc:BTCUSDT", task.Key().String())

	run, err := coord.Run(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Pages)

	cp, err := db.GetCheckpoint(ctx, task.Key())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Hour), cp.LastTimestamp)
}

func TestCoordinator_AscendingBudgetKeepsProgress(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	coord := syncer.NewCoordinator(db, nil, syncer.Config{MaxPages: 2, Retry: syncer.RetryPolicy{Attempts: 1}})

	src := &windowFills{scope: "ETHUSDT", fakeFills: &fakeFills{venue: "binance", pages: map[string]ports.Page[domain.Fill]{
		"":   {Next: "w1", Through: t0},
		"w1": {Next: "w2", Through: t0.Add(7 * 24 * time.Hour)},
		"w2": {Records: []domain.Fill{newFill("1", 8*24*time.Hour)}, Done: true},
	}}}
	task := syncer.FillsTask(src, db, account)
	_, err = coord.Run(context.Background(), task)
	require.NoError(t, err)

	cp, err := db.GetCheckpoint(context.Background(), task.Key())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(7*24*time.Hour), cp.LastTimestamp)
}

type fakeSnapshots struct {
	snap domain.AccountSnapshot
	err  error
}

func (f *fakeSnapshots) Venue() string { return "hyperliquid" }

func (f *fakeSnapshots) FetchSnapshot(context.Context, string) (domain.AccountSnapshot, error) {
	return f.snap, f.err
}

func TestCoordinator_SnapshotTask(t *testing.T) {
	db, coord := setup(t)
	ctx := context.Background()

	src := &fakeSnapshots{snap: domain.AccountSnapshot{
		Timestamp: t0, TotalEquity: 1000,
		Positions: []domain.PositionSnapshot{{Symbol: "BTC-USDC", Side: domain.Long, Size: 1}},
	}}
	task := syncer.SnapshotTask(src, db, account)
	assert.Equal(t, "snapshots:hyperliquid:0xabc", task.Key().String())

	run, err := coord.Run(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Accepted)

	snap, err := db.LatestSnapshot(ctx, "hyperliquid", account)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, snap.TotalEquity)
	require.Len(t, snap.Positions, 1)

	cp, err := db.GetCheckpoint(ctx, task.Key())
	require.NoError(t, err)
	assert.Equal(t, t0, cp.LastTimestamp)

	// Posición sin lado: se rechaza y no se guarda nada nuevo.
	src.snap = domain.AccountSnapshot{Timestamp: t0.Add(time.Hour), Positions: []domain.PositionSnapshot{{Symbol: "ETH-USDC", Size: 1}}}
	run, err = coord.Run(ctx, task)
	require.Error(t, err)
	assert.Equal(t, 1, run.Rejected)
	snap, err = db.LatestSnapshot(ctx, "hyperliquid", account)
	require.NoError(t, err)
	assert.Equal(t, t0, snap.Timestamp)
}
