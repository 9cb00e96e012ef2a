package orchestrator

import (
	"context"
	"sync"

	"github.com/flockml/flock/pkg/flog"
)

// Listeners supervises the background completion listeners. Each listener
// outlives the HTTP request that started its job; failures land in the
// supervisor's log instead of vanishing with the goroutine.
type Listeners struct {
	log *flog.Logger
	wg  sync.WaitGroup
}

func NewListeners(log *flog.Logger) *Listeners {
	if log == nil {
		log = flog.NewDefault()
	}
	return &Listeners{log: log}
}

// Spawn runs fn on its own goroutine under a fresh background context; the
// triggering request's context must not cancel the listener.
func (l *Listeners) Spawn(name string, fn func(ctx context.Context) error) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := fn(context.Background()); err != nil {
			l.log.Error("completion listener failed", "job", name, "error", err)
		}
	}()
}

// Wait blocks until every spawned listener has returned. Used by shutdown
// and by tests that need to join listeners deterministically.
func (l *Listeners) Wait() {
	l.wg.Wait()
}
