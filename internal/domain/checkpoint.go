package domain

import (
	"fmt"
	"time"
)

// Endpoint nombra un dataset sincronizado.
type Endpoint string

const (
	EndpointFills        Endpoint = "fills"
	EndpointFunding      Endpoint = "funding"
	EndpointLiquidations Endpoint = "liquidations"
	EndpointSnapshots    Endpoint = "snapshots"
	EndpointClosedPnL    Endpoint = "closed_pnl"
)

// SyncKey identifica un stream con checkpoint propio. Scope separa streams
// del mismo endpoint y cuenta, p.ej. un símbolo en Binance.
type SyncKey struct {
	Endpoint Endpoint
	Venue    string
	Account  string
	Scope    string
}

func (k SyncKey) String() string {
	if k.Scope == "" {
		return fmt.Sprintf("%s:%s:%s", k.Endpoint, k.Venue, k.Account)
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Endpoint, k.Venue, k.Account, k.Scope)
}

// Checkpoint es la marca de agua de una clave. Solo avanza, y solo se escribe
// tras un run completo o, en fuentes ascendentes, hasta lo ya cubierto.
type Checkpoint struct {
	Key           SyncKey
	LastTimestamp time.Time
	LastID        string
	LastSuccessAt time.Time
}

// RunStatus es el resultado de un intento de sync.
type RunStatus string

const (
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// SyncRun registra un intento para diagnóstico. Los fallidos también se
// guardan y nunca tocan el checkpoint.
type SyncRun struct {
	ID             string
	Key            SyncKey
	Status         RunStatus
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Pages          int
	Fetched        int
	Accepted       int
	Rejected       int
	RejectReasons  map[string]int
	Throttled      int
	CapDetected    bool
	OldestObserved time.Time
	NewestObserved time.Time
}

// SyncStatus une el checkpoint de una clave con su último run.
type SyncStatus struct {
	Key        SyncKey
	Checkpoint *Checkpoint
	LastRun    *SyncRun
}
