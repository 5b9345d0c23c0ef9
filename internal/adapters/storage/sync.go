package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slurrr/trade-journal/internal/domain"
)

// GetCheckpoint devuelve el checkpoint de una clave o domain.ErrNotFound.
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, key domain.SyncKey) (domain.Checkpoint, error) {
	cp := domain.Checkpoint{Key: key}
	var last, success int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_ms, last_id, last_success_ms FROM sync_state WHERE key = ?`, key.String(),
	).Scan(&last, &cp.LastID, &success)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, fmt.Errorf("storage.GetCheckpoint: %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("storage.GetCheckpoint: %s: %w", key, err)
	}
	cp.LastTimestamp = fromMillis(last)
	cp.LastSuccessAt = fromMillis(success)
	return cp, nil
}

// AdvanceCheckpoint guarda el checkpoint. last_ms nunca retrocede: si el valor
// nuevo es menor se conserva el anterior (y su last_id), pero last_success_ms
// siempre se actualiza.
func (s *SQLiteStorage) AdvanceCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	k := cp.Key
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, endpoint, venue, account, scope, last_ms, last_id, last_success_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_id         = CASE WHEN excluded.last_ms >= sync_state.last_ms
			                       THEN excluded.last_id ELSE sync_state.last_id END,
			last_ms         = MAX(sync_state.last_ms, excluded.last_ms),
			last_success_ms = excluded.last_success_ms
	`, k.String(), string(k.Endpoint), k.Venue, k.Account, k.Scope,
		toMillis(cp.LastTimestamp), cp.LastID, toMillis(cp.LastSuccessAt),
	); err != nil {
		return fmt.Errorf("storage.AdvanceCheckpoint: %s: %w", k, err)
	}
	return nil
}

// SaveSyncRun persiste un intento de sync (exitoso o no).
func (s *SQLiteStorage) SaveSyncRun(ctx context.Context, run domain.SyncRun) error {
	reasons, err := json.Marshal(run.RejectReasons)
	if err != nil {
		return fmt.Errorf("storage.SaveSyncRun: encode reasons: %w", err)
	}
	if run.RejectReasons == nil {
		reasons = []byte("{}")
	}

	k := run.Key
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, key, endpoint, venue, account, scope, status, error, started_ms, finished_ms,
			 pages, fetched, accepted, rejected, reject_reasons, throttled, cap_detected,
			 oldest_ms, newest_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			error        = excluded.error,
			finished_ms  = excluded.finished_ms,
			pages        = excluded.pages,
			fetched      = excluded.fetched,
			accepted     = excluded.accepted,
			rejected     = excluded.rejected,
			reject_reasons = excluded.reject_reasons,
			throttled    = excluded.throttled,
			cap_detected = excluded.cap_detected,
			oldest_ms    = excluded.oldest_ms,
			newest_ms    = excluded.newest_ms
	`, run.ID, k.String(), string(k.Endpoint), k.Venue, k.Account, k.Scope, string(run.Status), run.Error,
		toMillis(run.StartedAt), toMillis(run.FinishedAt), run.Pages, run.Fetched, run.Accepted,
		run.Rejected, string(reasons), run.Throttled, boolInt(run.CapDetected),
		nullMillis(run.OldestObserved), nullMillis(run.NewestObserved),
	); err != nil {
		return fmt.Errorf("storage.SaveSyncRun: %s: %w", run.ID, err)
	}
	return nil
}

// ListSyncStatus une, por clave, el checkpoint con el último run registrado.
func (s *SQLiteStorage) ListSyncStatus(ctx context.Context) ([]domain.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, venue, account, scope FROM sync_state
		UNION
		SELECT endpoint, venue, account, scope FROM sync_runs
		ORDER BY venue, account, endpoint, scope
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListSyncStatus: query keys: %w", err)
	}

	var keys []domain.SyncKey
	for rows.Next() {
		var k domain.SyncKey
		var endpoint string
		if err := rows.Scan(&endpoint, &k.Venue, &k.Account, &k.Scope); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.ListSyncStatus: scan key: %w", err)
		}
		k.Endpoint = domain.Endpoint(endpoint)
		keys = append(keys, k)
	}
	// Una sola conexión: hay que liberar el cursor antes de las consultas por clave.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListSyncStatus: iterate keys: %w", err)
	}

	out := make([]domain.SyncStatus, 0, len(keys))
	for _, k := range keys {
		st := domain.SyncStatus{Key: k}
		cp, err := s.GetCheckpoint(ctx, k)
		switch {
		case err == nil:
			st.Checkpoint = &cp
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("storage.ListSyncStatus: %w", err)
		}

		run, err := s.lastRun(ctx, k)
		switch {
		case err == nil:
			st.LastRun = &run
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("storage.ListSyncStatus: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *SQLiteStorage) lastRun(ctx context.Context, key domain.SyncKey) (domain.SyncRun, error) {
	run := domain.SyncRun{Key: key}
	var status, reasons string
	var started, finished int64
	var capDetected int
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, error, started_ms, finished_ms, pages, fetched, accepted,
		       rejected, reject_reasons, throttled, cap_detected, oldest_ms, newest_ms
		FROM sync_runs WHERE key = ?
		ORDER BY started_ms DESC, rowid DESC
		LIMIT 1
	`, key.String()).Scan(
		&run.ID, &status, &run.Error, &started, &finished, &run.Pages, &run.Fetched,
		&run.Accepted, &run.Rejected, &reasons, &run.Throttled, &capDetected, &oldest, &newest,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncRun{}, fmt.Errorf("storage.lastRun: %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("storage.lastRun: %s: %w", key, err)
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	run.CapDetected = capDetected == 1
	run.OldestObserved = fromNullMillis(oldest)
	run.NewestObserved = fromNullMillis(newest)
	if err := json.Unmarshal([]byte(reasons), &run.RejectReasons); err != nil {
		return domain.SyncRun{}, fmt.Errorf("storage.lastRun: decode reasons: %w", err)
	}
	return run, nil
}
