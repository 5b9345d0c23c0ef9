package ports

import (
	"context"

	"github.com/slurrr/trade-journal/internal/domain"
)

// Notifier informa al usuario del resultado de una pasada de sync.
type Notifier interface {
	// NotifySyncRuns recibe un run por clave, en orden de tareas.
	NotifySyncRuns(ctx context.Context, runs []domain.SyncRun) error
}
