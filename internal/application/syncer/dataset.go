package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// Task es una clave de sync ligada a su fuente y su store.
type Task interface {
	Key() domain.SyncKey
	run(ctx context.Context, c *Coordinator, run *domain.SyncRun) error
}

// dataset describe cómo descargar, validar, clavar y persistir un tipo de registro.
type dataset[T any] struct {
	key       domain.SyncKey
	ascending bool
	fetch     func(context.Context, ports.PageRequest) (ports.Page[T], error)
	validate  func(T) error
	prepare   func(T) (T, string) // fija la clave persistida y la devuelve
	upsert    func(context.Context, []T) (int, error)
	timestamp func(T) time.Time
}

func (d *dataset[T]) Key() domain.SyncKey { return d.key }

func (d *dataset[T]) run(ctx context.Context, c *Coordinator, run *domain.SyncRun) error {
	return runDataset(ctx, c, d, run)
}

func ascending(src any) bool {
	p, ok := src.(ports.AscendingPager)
	return ok && p.AscendingPages()
}

func syncKey(endpoint domain.Endpoint, src ports.Venue, account string) domain.SyncKey {
	key := domain.SyncKey{Endpoint: endpoint, Venue: src.Venue(), Account: account}
	if s, ok := src.(ports.Scoped); ok {
		key.Scope = s.Scope()
	}
	return key
}

// FillsTask sincroniza los fills de account desde src.
func FillsTask(src ports.FillSource, store ports.RecordStorage, account string) Task {
	return &dataset[domain.Fill]{
		key:       syncKey(domain.EndpointFills, src, account),
		ascending: ascending(src),
		fetch:     src.FetchFills,
		validate:  domain.ValidateFill,
		prepare: func(f domain.Fill) (domain.Fill, string) {
			f.ID = f.Key()
			return f, f.ID
		},
		upsert:    store.UpsertFills,
		timestamp: func(f domain.Fill) time.Time { return f.Timestamp },
	}
}

// FundingTask sincroniza los pagos de funding de account desde src.
func FundingTask(src ports.FundingSource, store ports.RecordStorage, account string) Task {
	return &dataset[domain.FundingEvent]{
		key:       syncKey(domain.EndpointFunding, src, account),
		ascending: ascending(src),
		fetch:     src.FetchFunding,
		validate:  domain.ValidateFunding,
		prepare: func(e domain.FundingEvent) (domain.FundingEvent, string) {
			e.ID = e.Key()
			return e, e.ID
		},
		upsert:    store.UpsertFunding,
		timestamp: func(e domain.FundingEvent) time.Time { return e.Timestamp },
	}
}

// LiquidationsTask sincroniza los cierres forzados de account desde src.
func LiquidationsTask(src ports.LiquidationSource, store ports.RecordStorage, account string) Task {
	return &dataset[domain.Liquidation]{
		key:       syncKey(domain.EndpointLiquidations, src, account),
		ascending: ascending(src),
		fetch:     src.FetchLiquidations,
		validate:  domain.ValidateLiquidation,
		prepare: func(l domain.Liquidation) (domain.Liquidation, string) {
			l.ID = l.Key()
			return l, l.ID
		},
		upsert:    store.UpsertLiquidations,
		timestamp: func(l domain.Liquidation) time.Time { return l.Timestamp },
	}
}

// ClosedPnLTask sincroniza los cierres de posición que reporta el venue.
func ClosedPnLTask(src ports.ClosedPnLSource, store ports.RecordStorage, account string) Task {
	return &dataset[domain.ClosedPnL]{
		key:       syncKey(domain.EndpointClosedPnL, src, account),
		ascending: ascending(src),
		fetch:     src.FetchClosedPnL,
		validate:  domain.ValidateClosedPnL,
		prepare: func(r domain.ClosedPnL) (domain.ClosedPnL, string) {
			r.ID = r.Key()
			return r, r.ID
		},
		upsert:    store.UpsertClosedPnL,
		timestamp: func(r domain.ClosedPnL) time.Time { return r.Timestamp },
	}
}

// snapshotTask descarga el estado de cuenta una vez por run.
type snapshotTask struct {
	key   domain.SyncKey
	src   ports.SnapshotSource
	store ports.SnapshotStorage
}

// SnapshotTask guarda una foto de balances y posiciones de account.
func SnapshotTask(src ports.SnapshotSource, store ports.SnapshotStorage, account string) Task {
	return &snapshotTask{key: syncKey(domain.EndpointSnapshots, src, account), src: src, store: store}
}

func (t *snapshotTask) Key() domain.SyncKey { return t.key }

func (t *snapshotTask) run(ctx context.Context, c *Coordinator, run *domain.SyncRun) error {
	snap, err := retryFetch(ctx, c.limiters.For(t.key.Venue), c.cfg.Retry, run, func(ctx context.Context) (domain.AccountSnapshot, error) {
		return t.src.FetchSnapshot(ctx, t.key.Account)
	})
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	run.Pages, run.Fetched = 1, 1

	snap.Venue, snap.Account = t.key.Venue, t.key.Account
	if snap.Timestamp.IsZero() {
		snap.Timestamp = c.now().UTC()
	}
	if err := domain.ValidateSnapshot(snap); err != nil {
		var rejects domain.Rejections
		rejects.Add(err)
		run.Rejected = rejects.Total
		for reason, n := range rejects.ByReason {
			run.RejectReasons[reason] = n
		}
		return err
	}
	if err := t.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	run.Accepted = 1
	run.OldestObserved, run.NewestObserved = snap.Timestamp, snap.Timestamp

	return c.store.AdvanceCheckpoint(ctx, domain.Checkpoint{
		Key:           t.key,
		LastTimestamp: snap.Timestamp,
		LastSuccessAt: c.now().UTC(),
	})
}
