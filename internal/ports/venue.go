package ports

import (
	"context"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
)

// PageRequest es una petición de una descarga paginada.
type PageRequest struct {
	Account string
	Since   time.Time // cero en el primer run
	Until   time.Time
	Cursor  string // "" en la primera página; si no, Page.Next de la anterior
	Limit   int
}

// Page es una página de registros normalizados, aún sin validar.
type Page[T any] struct {
	Records []T
	// Next es el cursor de la siguiente petición. Si es igual al de la
	// petición, el venue no dejó avanzar la paginación.
	Next string
	// Done indica que el venue no tiene más para esta ventana.
	Done bool
	// Oldest es el timestamp más antiguo de la respuesta cruda, cuando el
	// adapter descarta filas antes de devolver Records. Cero: se usa Records.
	Oldest time.Time
	// Through indica que todo lo anterior a este instante ya se devolvió.
	// Cero si la fuente no lo sabe.
	Through time.Time
}

// Venue nombra el upstream de una fuente.
type Venue interface {
	Venue() string
}

// FillSource pagina los fills ejecutados de una cuenta.
type FillSource interface {
	Venue
	FetchFills(ctx context.Context, req PageRequest) (Page[domain.Fill], error)
}

// FundingSource pagina pagos y cargos de funding.
type FundingSource interface {
	Venue
	FetchFunding(ctx context.Context, req PageRequest) (Page[domain.FundingEvent], error)
}

// LiquidationSource pagina los cierres forzados.
type LiquidationSource interface {
	Venue
	FetchLiquidations(ctx context.Context, req PageRequest) (Page[domain.Liquidation], error)
}

// ClosedPnLSource pagina los cierres de posición que calcula el venue.
type ClosedPnLSource interface {
	Venue
	FetchClosedPnL(ctx context.Context, req PageRequest) (Page[domain.ClosedPnL], error)
}

// SnapshotSource devuelve el estado actual de la cuenta.
type SnapshotSource interface {
	Venue
	FetchSnapshot(ctx context.Context, account string) (domain.AccountSnapshot, error)
}

// PriceBarSource devuelve velas que cubren [start, end] para un símbolo.
type PriceBarSource interface {
	Venue
	FetchPriceBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.PriceBar, error)
}

// AscendingPager lo implementan las fuentes cuyas páginas avanzan en el tiempo.
// Un run cortado por el presupuesto de páginas puede avanzar el checkpoint.
type AscendingPager interface {
	AscendingPages() bool
}

// Scoped lo implementan las fuentes que parten un endpoint en varios streams,
// cada uno con su checkpoint.
type Scoped interface {
	Scope() string
}
