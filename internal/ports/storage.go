package ports

import (
	"context"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
)

// RecordStorage persiste registros validados. Toda escritura es un upsert por
// la clave estable, así que re-descargar el solape no duplica nada.
type RecordStorage interface {
	UpsertFills(ctx context.Context, fills []domain.Fill) (int, error)
	UpsertFunding(ctx context.Context, events []domain.FundingEvent) (int, error)
	UpsertLiquidations(ctx context.Context, events []domain.Liquidation) (int, error)
	UpsertClosedPnL(ctx context.Context, records []domain.ClosedPnL) (int, error)
	UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int, error)
}

// SnapshotStorage guarda snapshots de cuenta.
type SnapshotStorage interface {
	SaveSnapshot(ctx context.Context, snap domain.AccountSnapshot) error
	// LatestSnapshot devuelve domain.ErrNotFound si la cuenta no tiene ninguno.
	LatestSnapshot(ctx context.Context, venue, account string) (domain.AccountSnapshot, error)
}

// CheckpointStorage guarda el progreso por clave y los runs.
type CheckpointStorage interface {
	// GetCheckpoint devuelve domain.ErrNotFound si la clave nunca terminó bien.
	GetCheckpoint(ctx context.Context, key domain.SyncKey) (domain.Checkpoint, error)
	// AdvanceCheckpoint escribe cp; la marca guardada nunca retrocede.
	AdvanceCheckpoint(ctx context.Context, cp domain.Checkpoint) error
	SaveSyncRun(ctx context.Context, run domain.SyncRun) error
	ListSyncStatus(ctx context.Context) ([]domain.SyncStatus, error)
}

// LedgerReader expone las entradas de la reconstrucción.
type LedgerReader interface {
	ListAccounts(ctx context.Context) ([]AccountRef, error)
	ListSymbols(ctx context.Context, venue, account string) ([]string, error)
	ListFills(ctx context.Context, venue, account, symbol string) ([]domain.Fill, error)
	ListFunding(ctx context.Context, venue, account string) ([]domain.FundingEvent, error)
	ListLiquidations(ctx context.Context, venue, account string) ([]domain.Liquidation, error)
	ListClosedPnL(ctx context.Context, venue, account string) ([]domain.ClosedPnL, error)
	PriceBars(ctx context.Context, venue, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.PriceBar, error)
}

// TradeStorage persiste trades finalizados.
type TradeStorage interface {
	// ReplaceTrades hace upsert de los trades de un símbolo y borra los de ese
	// símbolo cuyos IDs ya no se producen.
	ReplaceTrades(ctx context.Context, venue, account, symbol string, trades []domain.Trade) error
	SetFundingAttribution(ctx context.Context, venue, account string, byFundingID map[string]string) error
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]domain.Trade, error)
}

// LedgerStorage es todo lo que necesitan los servicios de sync y ledger.
type LedgerStorage interface {
	RecordStorage
	SnapshotStorage
	CheckpointStorage
	LedgerReader
	TradeStorage
	Close() error
}

// AccountRef es un par (venue, account) con fills guardados.
type AccountRef struct {
	Venue   string
	Account string
}

// TradeFilter acota ListTrades. El valor cero significa "cualquiera".
type TradeFilter struct {
	Venue   string
	Account string
	Symbol  string
	From    time.Time // exit >= From
	To      time.Time // exit < To
	Limit   int
}
