package syncer

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiters reparte un token bucket por venue. Todas las tareas de un venue lo
// comparten: varias cuentas en paralelo no superan su presupuesto.
type Limiters struct {
	mu       sync.Mutex
	perVenue map[string]float64
	fallback float64
	burst    int
	byVenue  map[string]*rate.Limiter
}

// NewLimiters crea el registro. Tasas en peticiones por segundo; 0 o venue
// ausente usa fallback, y fallback 0 es sin límite.
func NewLimiters(perVenue map[string]float64, fallback float64) *Limiters {
	return &Limiters{
		perVenue: perVenue,
		fallback: fallback,
		burst:    1,
		byVenue:  make(map[string]*rate.Limiter),
	}
}

// For devuelve el limiter compartido del venue.
func (l *Limiters) For(venue string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.byVenue[venue]; ok {
		return lim
	}
	rps := l.perVenue[venue]
	if rps <= 0 {
		rps = l.fallback
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	lim := rate.NewLimiter(limit, l.burst)
	l.byVenue[venue] = lim
	return lim
}
