// Package syncer baja los datasets de cada venue al store local, una clave
// con checkpoint cada vez.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// ErrPageBudget: una fuente no ascendente agotó sync.max_pages antes de cubrir
// la ventana. El checkpoint no se mueve.
var ErrPageBudget = errors.New("page budget exhausted before the window was covered")

// Config agrupa los parámetros del coordinador.
type Config struct {
	Overlap   time.Duration // ventana que se re-descarga tras el checkpoint
	MaxPages  int           // páginas por run, 0 = sin límite
	PageLimit int           // registros por petición, orientativo
	Retry     RetryPolicy
	// StallLimit es cuántas páginas seguidas pueden repetir el cursor antes de
	// fallar como cap detectado.
	StallLimit int
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		Overlap:    24 * time.Hour,
		MaxPages:   100,
		PageLimit:  2000,
		Retry:      RetryPolicy{Attempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		StallLimit: 2,
	}
}

// Coordinator ejecuta tareas de sync. Es seguro en concurrencia; el Pool añade
// paralelismo acotado y single-flight por clave.
type Coordinator struct {
	store    ports.CheckpointStorage
	limiters *Limiters
	cfg      Config
	now      func() time.Time
}

// NewCoordinator crea un Coordinator.
func NewCoordinator(store ports.CheckpointStorage, limiters *Limiters, cfg Config) *Coordinator {
	if cfg.StallLimit <= 0 {
		cfg.StallLimit = 2
	}
	if limiters == nil {
		limiters = NewLimiters(nil, 0)
	}
	return &Coordinator{store: store, limiters: limiters, cfg: cfg, now: time.Now}
}

// Run ejecuta un intento de sync y lo registra como SyncRun. El checkpoint solo
// avanza si todas las páginas se descargaron y guardaron; cualquier error lo
// deja intacto y el siguiente run vuelve a cubrir la misma ventana.
func (c *Coordinator) Run(ctx context.Context, task Task) (domain.SyncRun, error) {
	key := task.Key()
	run := domain.SyncRun{
		ID:            uuid.NewString(),
		Key:           key,
		StartedAt:     c.now().UTC(),
		RejectReasons: make(map[string]int),
	}

	err := task.run(ctx, c, &run)

	run.FinishedAt = c.now().UTC()
	run.Status = domain.RunSucceeded
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		run.CapDetected = run.CapDetected || errors.Is(err, domain.ErrCapDetected)
	}

	// El run se guarda aunque ctx esté cancelado.
	if saveErr := c.store.SaveSyncRun(context.WithoutCancel(ctx), run); saveErr != nil {
		slog.Warn("could not record sync run", "key", key.String(), "err", saveErr)
	}

	if err != nil {
		attrs := []any{
			"key", key.String(),
			"pages", run.Pages,
			"accepted", run.Accepted,
			"cap_detected", run.CapDetected,
			"err", err,
		}
		if errors.Is(err, ErrPageBudget) {
			attrs = append(attrs, "hint", "raise sync.max_pages")
		}
		slog.Error("sync failed", attrs...)
		return run, fmt.Errorf("syncer.Run: %s: %w", key, err)
	}
	slog.Info("sync complete",
		"key", key.String(),
		"pages", run.Pages,
		"fetched", run.Fetched,
		"accepted", run.Accepted,
		"rejected", run.Rejected,
		"throttled", run.Throttled,
	)
	return run, nil
}

// window calcula el inicio: checkpoint menos solape, sin bajar del epoch.
func (c *Coordinator) window(ctx context.Context, key domain.SyncKey) (since time.Time, prev *domain.Checkpoint, err error) {
	cp, err := c.store.GetCheckpoint(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, nil, nil
	}
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if cp.LastTimestamp.IsZero() {
		return time.Time{}, &cp, nil
	}
	since = cp.LastTimestamp.Add(-c.cfg.Overlap)
	if epoch := time.UnixMilli(0).UTC(); since.Before(epoch) {
		since = epoch
	}
	return since, &cp, nil
}

func runDataset[T any](ctx context.Context, c *Coordinator, d *dataset[T], run *domain.SyncRun) error {
	since, prev, err := c.window(ctx, d.key)
	if err != nil {
		return err
	}

	req := ports.PageRequest{
		Account: d.key.Account,
		Since:   since,
		Until:   c.now().UTC(),
		Limit:   c.cfg.PageLimit,
	}
	limiter := c.limiters.For(d.key.Venue)

	var (
		rejects domain.Rejections
		newest  time.Time
		lastID  string
		covered time.Time
		stalls  int
	)
	defer func() {
		run.Rejected = rejects.Total
		for reason, n := range rejects.ByReason {
			run.RejectReasons[reason] = n
		}
	}()

	for {
		if c.cfg.MaxPages > 0 && run.Pages >= c.cfg.MaxPages {
			if !d.ascending {
				return fmt.Errorf("%w: %d pages, raise sync.max_pages", ErrPageBudget, c.cfg.MaxPages)
			}
			slog.Warn("page budget exhausted, resuming next run", "key", d.key.String(), "pages", run.Pages)
			break
		}

		page, err := retryFetch(ctx, limiter, c.cfg.Retry, run, func(ctx context.Context) (ports.Page[T], error) {
			return d.fetch(ctx, req)
		})
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", run.Pages+1, err)
		}
		run.Pages++
		run.Fetched += len(page.Records)
		if page.Through.After(covered) {
			covered = page.Through
		}

		accepted := make([]T, 0, len(page.Records))
		for _, rec := range page.Records {
			if err := d.validate(rec); err != nil {
				rejects.Add(err)
				slog.Debug("record rejected", "key", d.key.String(), "err", err)
				continue
			}
			rec, id := d.prepare(rec)
			ts := d.timestamp(rec).UTC()
			if run.OldestObserved.IsZero() || ts.Before(run.OldestObserved) {
				run.OldestObserved = ts
			}
			if ts.After(run.NewestObserved) {
				run.NewestObserved = ts
			}
			if !ts.Before(newest) {
				newest, lastID = ts, id
			}
			accepted = append(accepted, rec)
		}
		if len(accepted) > 0 {
			n, err := d.upsert(ctx, accepted)
			if err != nil {
				return fmt.Errorf("store page %d: %w", run.Pages, err)
			}
			run.Accepted += n
		}

		if page.Done {
			break
		}
		// Las fuentes por número de página devuelven lo más nuevo primero: si la
		// página ya llega antes de la ventana, el resto del historial también.
		if !d.ascending && reached(page, d.timestamp, since) {
			slog.Debug("window covered", "key", d.key.String(), "pages", run.Pages)
			break
		}
		if page.Next == req.Cursor {
			stalls++
			if stalls >= c.cfg.StallLimit {
				run.CapDetected = true
				return fmt.Errorf("%w: cursor %q repeated %d times", domain.ErrCapDetected, req.Cursor, stalls)
			}
			continue
		}
		stalls = 0
		req.Cursor = page.Next
	}

	// Through cuenta como progreso aunque la ventana no trajera registros.
	if covered.After(newest) {
		newest, lastID = covered, ""
	}
	cp := domain.Checkpoint{
		Key:           d.key,
		LastTimestamp: newest,
		LastID:        lastID,
		LastSuccessAt: c.now().UTC(),
	}
	if prev != nil && prev.LastTimestamp.After(newest) {
		cp.LastTimestamp, cp.LastID = prev.LastTimestamp, prev.LastID
	}
	if err := c.store.AdvanceCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// reached indica si la página llega a instantes anteriores a since. Usa el
// timestamp crudo de la página cuando el adapter filtró filas.
func reached[T any](page ports.Page[T], ts func(T) time.Time, since time.Time) bool {
	if since.IsZero() {
		return false
	}
	oldest := page.Oldest
	for _, r := range page.Records {
		if t := ts(r); oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return !oldest.IsZero() && oldest.Before(since)
}
