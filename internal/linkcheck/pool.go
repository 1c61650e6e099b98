package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// evalJob is a single report to build.
type evalJob struct {
	// resCh receives the result.  It must be buffered, so that the worker
	// never blocks on it.
	resCh chan evalResult

	title    string
	pageURL  string
	reqs     []*webreq.RequestInfo
	ruleSets []*filtering.RuleSet
}

// evalResult is the result of an [evalJob].
type evalResult struct {
	report *Report
	err    error
}

// evalPool is a pool of goroutines building reports, so that the evaluation of
// rules doesn't compete with the browser for the goroutines handling the
// checks.
type evalPool struct {
	logger *slog.Logger
	jobs   chan *evalJob
	done   chan struct{}
	wg     *sync.WaitGroup

	workers int
}

// newEvalPool returns a new pool with the given number of workers.  The
// workers aren't started.
func newEvalPool(logger *slog.Logger, workers int) (p *evalPool) {
	return &evalPool{
		logger:  logger,
		jobs:    make(chan *evalJob, workers),
		done:    make(chan struct{}),
		wg:      &sync.WaitGroup{},
		workers: workers,
	}
}

// start starts the workers.
func (p *evalPool) start(ctx context.Context) {
	p.wg.Add(p.workers)
	for range p.workers {
		go p.work(ctx)
	}
}

// stop stops the workers and waits for them to exit.
func (p *evalPool) stop() {
	close(p.done)
	p.wg.Wait()
}

// work builds reports until the pool is stopped.  It is intended to be used as
// a goroutine.
func (p *evalPool) work(ctx context.Context) {
	defer p.wg.Done()
	defer slogutil.RecoverAndLog(ctx, p.logger)

	for {
		select {
		case j := <-p.jobs:
			j.resCh <- p.run(j)
		case <-p.done:
			return
		}
	}
}

// run builds the report for j, turning a panic into an error.
func (p *evalPool) run(j *evalJob) (res evalResult) {
	defer func() {
		if v := recover(); v != nil {
			res = evalResult{
				err: fmt.Errorf("building report for %q: panic: %v", j.pageURL, v),
			}
		}
	}()

	return evalResult{
		report: BuildReport(j.title, j.pageURL, j.reqs, j.ruleSets),
	}
}

// evaluate builds the report in one of the workers and waits for it.
func (p *evalPool) evaluate(
	ctx context.Context,
	title string,
	pageURL string,
	reqs []*webreq.RequestInfo,
	ruleSets []*filtering.RuleSet,
) (r *Report, err error) {
	j := &evalJob{
		resCh:    make(chan evalResult, 1),
		title:    title,
		pageURL:  pageURL,
		reqs:     reqs,
		ruleSets: ruleSets,
	}

	select {
	case p.jobs <- j:
		// Go on.
	case <-ctx.Done():
		return nil, fmt.Errorf("queueing evaluation: %w", ctx.Err())
	}

	select {
	case res := <-j.resCh:
		return res.report, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for evaluation: %w", ctx.Err())
	}
}
