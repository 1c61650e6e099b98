package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Default values for the pipeline configuration.
const (
	DefaultQueueSize           = 16
	DefaultMaxConcurrentChecks = 4
	DefaultRestartDelay        = 5 * time.Second
)

// PipelineConfig is the configuration structure for a [Pipeline].
type PipelineConfig struct {
	// Logger is used to log the processing of the requests.  It must not be
	// nil.
	Logger *slog.Logger

	// Checker checks the requested pages.  It must not be nil.
	Checker *Checker

	// RuleSets receives the rule-set updates.  It must not be nil.
	RuleSets *RuleSetStorage

	// Metrics is used to collect the statistics of the rule sets.  It must not
	// be nil.
	Metrics Metrics

	// QueueSize is the capacity of the requests and results channels.  It
	// must not be negative.
	QueueSize int

	// MaxConcurrentChecks is the maximum number of requests processed at the
	// same time.  It must be positive.
	MaxConcurrentChecks int64

	// RestartDelay is the delay before restarting a failed loop.  It must be
	// positive.
	RestartDelay time.Duration
}

// Pipeline processes check requests received from its requests channel and
// sends the results into its results channel.
type Pipeline struct {
	logger   *slog.Logger
	checker  *Checker
	ruleSets *RuleSetStorage
	metrics  Metrics

	requests chan *CheckRequest
	results  chan *CheckResult
	updates  chan []*filtering.RuleSet

	// checks limits the number of requests processed at the same time.
	checks *semaphore.Weighted

	// cancel stops the loops and the processing of the requests.  It is set
	// in Start.
	cancel context.CancelFunc

	// loops is used to wait for the loops.
	loops *sync.WaitGroup

	// inFlight is used to wait for the requests being processed.
	inFlight *sync.WaitGroup

	restartDelay time.Duration
}

// NewPipeline returns a new properly initialized *Pipeline.  c must not be nil.
func NewPipeline(c *PipelineConfig) (p *Pipeline) {
	return &Pipeline{
		logger:       c.Logger,
		checker:      c.Checker,
		ruleSets:     c.RuleSets,
		metrics:      c.Metrics,
		requests:     make(chan *CheckRequest, c.QueueSize),
		results:      make(chan *CheckResult, c.QueueSize),
		updates:      make(chan []*filtering.RuleSet, 1),
		checks:       semaphore.NewWeighted(c.MaxConcurrentChecks),
		cancel:       func() {},
		loops:        &sync.WaitGroup{},
		inFlight:     &sync.WaitGroup{},
		restartDelay: c.RestartDelay,
	}
}

// Requests returns the channel for the check requests.
func (p *Pipeline) Requests() (ch chan<- *CheckRequest) { return p.requests }

// Results returns the channel with the results of the check requests.  A
// result must be received for the pipeline to go on with the next ones.
func (p *Pipeline) Results() (ch <-chan *CheckResult) { return p.results }

// Updates returns the channel for the rule-set updates.  Each update replaces
// the previous rule sets.
func (p *Pipeline) Updates() (ch chan<- []*filtering.RuleSet) { return p.updates }

// type check
var _ service.Interface = (*Pipeline)(nil)

// Start implements the [service.Interface] interface for *Pipeline.  It starts
// the loops in their own goroutines.
func (p *Pipeline) Start(ctx context.Context) (err error) {
	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	p.loops.Add(2)
	go p.runLoop(ctx, "rule-set updates", p.listenRuleSetUpdates)
	go p.runLoop(ctx, "requests", p.processRequests)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Pipeline.  It
// stops the loops and waits for them and for the requests being processed.
func (p *Pipeline) Shutdown(ctx context.Context) (err error) {
	p.cancel()

	waitCh := make(chan struct{})
	go func() {
		p.loops.Wait()
		p.inFlight.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline: %w", ctx.Err())
	}
}

// loopFunc is a loop of the pipeline.  It returns when ctx is canceled or on
// an unrecoverable error.
type loopFunc func(ctx context.Context) (err error)

// runLoop runs loop until ctx is canceled, restarting it after
// p.restartDelay each time it fails.  It is intended to be used as a
// goroutine.
func (p *Pipeline) runLoop(ctx context.Context, name string, loop loopFunc) {
	defer p.loops.Done()

	l := p.logger.With("loop", name)
	for {
		err := runRecover(ctx, loop)
		if ctx.Err() != nil {
			l.DebugContext(ctx, "loop stopped")

			return
		}

		l.ErrorContext(ctx, "loop failed, restarting", "delay", p.restartDelay, slogutil.KeyError, err)

		t := time.NewTimer(p.restartDelay)
		select {
		case <-t.C:
			// Go on.
		case <-ctx.Done():
			t.Stop()

			return
		}
	}
}

// errLoopExited is returned by [runRecover] when a loop returns without an
// error before it's stopped.
const errLoopExited errors.Error = "loop exited"

// runRecover runs loop and turns a panic into an error.
func runRecover(ctx context.Context, loop loopFunc) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	err = loop(ctx)
	if err == nil && ctx.Err() == nil {
		return errLoopExited
	}

	return err
}

// listenRuleSetUpdates replaces the rule sets with the updates.
func (p *Pipeline) listenRuleSetUpdates(ctx context.Context) (err error) {
	for {
		select {
		case ruleSets := <-p.updates:
			p.setRuleSets(ctx, ruleSets)
		case <-ctx.Done():
			return nil
		}
	}
}

// setRuleSets replaces the rule sets and reports their numbers.
func (p *Pipeline) setRuleSets(ctx context.Context, ruleSets []*filtering.RuleSet) {
	first := !p.ruleSets.Loaded()
	p.ruleSets.Set(ruleSets)

	rules := 0
	for _, rs := range ruleSets {
		rules += rs.Len()
	}

	p.metrics.SetRuleSets(ctx, len(ruleSets), rules)

	if first {
		p.logger.InfoContext(ctx, "rule sets loaded, ready", "rule_sets", len(ruleSets), "rules", rules)
	} else {
		p.logger.InfoContext(ctx, "rule sets updated", "rule_sets", len(ruleSets), "rules", rules)
	}
}

// processRequests starts processing each received request in its own
// goroutine.
func (p *Pipeline) processRequests(ctx context.Context) (err error) {
	for {
		var req *CheckRequest
		select {
		case req = <-p.requests:
			// Go on.
		case <-ctx.Done():
			return nil
		}

		err = p.checks.Acquire(ctx, 1)
		if err != nil {
			p.logger.WarnContext(ctx, "dropping request", "id", req.ID, slogutil.KeyError, err)

			return nil
		}

		p.inFlight.Add(1)
		go p.handleRequest(ctx, req)
	}
}

// handleRequest checks the pages of req and sends the result.  It is intended
// to be used as a goroutine.
func (p *Pipeline) handleRequest(ctx context.Context, req *CheckRequest) {
	defer p.inFlight.Done()
	defer p.checks.Release(1)
	defer slogutil.RecoverAndLog(ctx, p.logger)

	l := p.logger.With("id", req.ID)
	l.InfoContext(ctx, "processing request", "urls", len(req.URLs))

	res := p.checkAll(ctx, req)

	select {
	case p.results <- res:
		l.InfoContext(ctx, "request processed", "reports", len(res.Reports), "failures", len(res.Failures))
	case <-ctx.Done():
		l.WarnContext(ctx, "dropping result", slogutil.KeyError, ctx.Err())
	}
}

// checkAll checks all pages of req concurrently.
func (p *Pipeline) checkAll(ctx context.Context, req *CheckRequest) (res *CheckResult) {
	res = &CheckResult{
		Reports:   make(map[string]*Report, len(req.URLs)),
		Failures:  map[string]error{},
		Modifier:  req.Modifier,
		RequestID: req.ID,
	}

	mu := &sync.Mutex{}
	g := &errgroup.Group{}
	for _, u := range req.URLs {
		g.Go(func() (err error) {
			r, checkErr := p.checker.Check(ctx, u)

			mu.Lock()
			defer mu.Unlock()

			if checkErr != nil {
				p.logger.WarnContext(ctx, "check failed", "url", u, slogutil.KeyError, checkErr)
				res.Failures[u] = checkErr
			} else {
				res.Reports[u] = r
			}

			return nil
		})
	}

	// The goroutines never return errors, since the failures are a part of
	// the result.
	_ = g.Wait()

	return res
}
