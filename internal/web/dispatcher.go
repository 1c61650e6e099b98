package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
)

// dispatcher routes the check results to the handlers waiting for them.
type dispatcher struct {
	logger  *slog.Logger
	results <-chan *linkcheck.CheckResult

	// mu protects waiters.
	mu      *sync.Mutex
	waiters map[uuid.UUID]chan *linkcheck.CheckResult
}

// newDispatcher returns a new dispatcher reading results.
func newDispatcher(l *slog.Logger, results <-chan *linkcheck.CheckResult) (d *dispatcher) {
	return &dispatcher{
		logger:  l,
		results: results,
		mu:      &sync.Mutex{},
		waiters: map[uuid.UUID]chan *linkcheck.CheckResult{},
	}
}

// register returns the channel that receives the result of the request with
// id.  The caller must call unregister when it stops waiting.
func (d *dispatcher) register(id uuid.UUID) (ch <-chan *linkcheck.CheckResult) {
	c := make(chan *linkcheck.CheckResult, 1)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.waiters[id] = c

	return c
}

// unregister removes the waiter for id, if any.
func (d *dispatcher) unregister(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.waiters, id)
}

// run reads the results until ctx is canceled.  It is intended to be used as a
// goroutine.
func (d *dispatcher) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer slogutil.RecoverAndLog(ctx, d.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-d.results:
			if !ok {
				return
			}

			d.dispatch(ctx, res)
		}
	}
}

// dispatch sends res to its waiter.  Results nobody waits for anymore are
// dropped.
func (d *dispatcher) dispatch(ctx context.Context, res *linkcheck.CheckResult) {
	d.mu.Lock()
	c, ok := d.waiters[res.RequestID]
	delete(d.waiters, res.RequestID)
	d.mu.Unlock()

	if !ok {
		d.logger.DebugContext(ctx, "dropping result", "id", res.RequestID)

		return
	}

	// c is buffered and only receives a single value.
	c <- res
}
