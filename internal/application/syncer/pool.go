package syncer

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/slurrr/trade-journal/internal/domain"
)

// Report es el resultado de una tarea dentro del pool.
type Report struct {
	Key    domain.SyncKey
	Run    domain.SyncRun
	Err    error
	Shared bool // se unió a un run en curso de la misma clave
}

// Pool ejecuta tareas con paralelismo acotado. Como mucho un run por clave en
// vuelo: una segunda petición espera y comparte su resultado.
type Pool struct {
	coord   *Coordinator
	workers int
	flight  singleflight.Group
}

// NewPool crea un Pool. Si workers <= 0 usa runtime.NumCPU().
func NewPool(coord *Coordinator, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{coord: coord, workers: workers}
}

// Run ejecuta una tarea bajo el single-flight de su clave.
func (p *Pool) Run(ctx context.Context, task Task) Report {
	key := task.Key()
	v, err, shared := p.flight.Do(key.String(), func() (any, error) {
		return p.coord.Run(ctx, task)
	})
	run, _ := v.(domain.SyncRun)
	return Report{Key: key, Run: run, Err: err, Shared: shared}
}

// RunAll ejecuta todas las tareas y devuelve un report por tarea, en orden.
// Una tarea fallida no cancela a las demás.
func (p *Pool) RunAll(ctx context.Context, tasks []Task) []Report {
	reports := make([]Report, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, task := range tasks {
		g.Go(func() error {
			reports[i] = p.Run(ctx, task)
			return nil
		})
	}
	g.Wait()
	return reports
}
