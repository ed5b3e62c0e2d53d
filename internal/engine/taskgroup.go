package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TaskGroup supervises fire-and-forget work (long-term history writes)
// that is off the critical path but must be drained on graceful shutdown.
// Not a detached goroutine pool: Drain waits for in-flight tasks up to a
// bound.
type TaskGroup struct {
	wg     sync.WaitGroup
	log    *slog.Logger
	mu     sync.Mutex
	closed bool
}

func NewTaskGroup(log *slog.Logger) *TaskGroup {
	if log == nil {
		log = slog.Default()
	}
	return &TaskGroup{log: log}
}

// Go runs fn in the group. After Drain begins, new tasks run inline so
// nothing is silently dropped during shutdown.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context)) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		fn(context.Background())
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("taskgroup.panic", "task", name, "panic", r)
			}
		}()
		fn(context.Background())
	}()
}

// Drain blocks until all in-flight tasks finish or the timeout lapses.
func (g *TaskGroup) Drain(timeout time.Duration) bool {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		g.log.Warn("taskgroup.drain_timeout", "timeout", timeout)
		return false
	}
}
