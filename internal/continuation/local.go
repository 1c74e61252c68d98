package continuation

import (
	"context"
	"errors"
	"sync"

	"examforge/internal/logger"
)

var ErrDispatcherClosed = errors.New("continuation dispatcher is closed")

// LocalDispatcher runs continuations on detached goroutines in this process.
// Used when no Temporal cluster is configured.
type LocalDispatcher struct {
	mu      sync.Mutex
	handler func(ctx context.Context, c Continuation) error
	closed  bool
	wg      sync.WaitGroup
	log     *logger.Logger
}

func NewLocalDispatcher(log *logger.Logger) *LocalDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalDispatcher{log: log}
}

// Handle sets the function that runs a delivered continuation.
func (d *LocalDispatcher) Handle(fn func(ctx context.Context, c Continuation) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, c Continuation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.handler == nil {
		return errors.New("continuation handler not set")
	}
	run := d.handler
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(detached, c); err != nil {
			d.log.Warn("local continuation failed", "section_id", c.SectionID, "next_batch", c.NextBatch, "error", err)
		}
	}()
	return nil
}

// Close refuses new continuations and waits for running ones.
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Wait blocks until every dispatched continuation, including ones they
// dispatched in turn, has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
