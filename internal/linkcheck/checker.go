package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/LinkCheck/internal/browser"
	"github.com/AdguardTeam/LinkCheck/internal/checkcache"
	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// CheckerConfig is the configuration structure for a [Checker].
type CheckerConfig struct {
	// Logger is used to log the checks.  It must not be nil.
	Logger *slog.Logger

	// Browser loads the checked pages.  It must not be nil.
	Browser browser.Browser

	// Cache is the cache of the reports.  It must not be nil.
	Cache *checkcache.Cache[*Report]

	// RuleSets holds the rule sets to evaluate the requests against.  It must
	// not be nil.
	RuleSets *RuleSetStorage

	// History stores the reports.  It must not be nil.
	History History

	// Metrics is used to collect the statistics of the checks.  It must not be
	// nil.
	Metrics Metrics

	// Clock is used to measure the duration of the checks.  It must not be
	// nil.
	Clock timeutil.Clock

	// NavigationRate is the maximum number of navigations per second.  If it
	// is zero, navigations aren't rate limited.
	NavigationRate float64

	// EvalWorkers is the number of goroutines building reports.  It must be
	// positive.
	EvalWorkers int

	// MaxConcurrentPages is the maximum number of pages open at the same time.
	// It must be positive.
	MaxConcurrentPages int64
}

// Checker checks pages using the cache, the browser, and the rule sets.
type Checker struct {
	logger   *slog.Logger
	browser  browser.Browser
	cache    *checkcache.Cache[*Report]
	ruleSets *RuleSetStorage
	history  History
	metrics  Metrics
	clock    timeutil.Clock
	pool     *evalPool
	pages    *semaphore.Weighted
	limiter  *rate.Limiter

	// done is closed on shutdown to cancel the running checks.
	done     chan struct{}
	doneOnce *sync.Once
}

// NewChecker returns a new properly initialized *Checker.  c must not be nil.
func NewChecker(c *CheckerConfig) (ch *Checker) {
	lim := rate.Inf
	if c.NavigationRate > 0 {
		lim = rate.Limit(c.NavigationRate)
	}

	return &Checker{
		logger:   c.Logger,
		browser:  c.Browser,
		cache:    c.Cache,
		ruleSets: c.RuleSets,
		history:  c.History,
		metrics:  c.Metrics,
		clock:    c.Clock,
		pool:     newEvalPool(c.Logger, c.EvalWorkers),
		pages:    semaphore.NewWeighted(c.MaxConcurrentPages),
		limiter:  rate.NewLimiter(lim, 1),
		done:     make(chan struct{}),
		doneOnce: &sync.Once{},
	}
}

// type check
var _ service.Interface = (*Checker)(nil)

// Start implements the [service.Interface] interface for *Checker.  It starts
// the evaluation workers.
func (c *Checker) Start(ctx context.Context) (err error) {
	c.pool.start(context.WithoutCancel(ctx))

	return nil
}

// Shutdown implements the [service.Interface] interface for *Checker.  It
// cancels the running checks and stops the evaluation workers.
func (c *Checker) Shutdown(_ context.Context) (err error) {
	c.doneOnce.Do(func() {
		close(c.done)
		c.pool.stop()
	})

	return nil
}

// Check returns the report about the page at rawURL.  Concurrent checks of the
// same URL share a single navigation.  If ctx is canceled, Check stops waiting,
// but the check goes on for the other callers and the cache.
func (c *Checker) Check(ctx context.Context, rawURL string) (r *Report, err error) {
	start := c.clock.Now()

	r, cached, err := c.cache.Get(ctx, rawURL, func(ctx context.Context) (r *Report, err error) {
		return c.check(ctx, rawURL)
	})

	status := CheckStatusChecked
	switch {
	case err != nil:
		status = CheckStatusFailed
	case cached:
		status = CheckStatusCached
	}

	c.metrics.ObserveCheck(ctx, status, c.clock.Now().Sub(start))

	if err != nil {
		return nil, fmt.Errorf("checking %q: %w", rawURL, err)
	}

	return r, nil
}

// check navigates to rawURL and builds the report about it.
func (c *Checker) check(ctx context.Context, rawURL string) (r *Report, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err = c.ruleSets.Wait(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	page, reqs, err := c.capture(ctx, rawURL)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	r, err = c.pool.evaluate(ctx, page.Title, page.URL, reqs, c.ruleSets.RuleSets())
	if err != nil {
		return nil, fmt.Errorf("evaluating: %w", err)
	}

	c.logger.DebugContext(
		ctx,
		"checked",
		"url", rawURL,
		"final_url", page.URL,
		"requests", len(reqs),
		"blocked", len(r.Requests),
	)

	c.metrics.ObserveBlocked(ctx, len(r.Requests))

	err = c.history.Record(ctx, rawURL, r)
	if err != nil {
		c.logger.ErrorContext(ctx, "recording history", "url", rawURL, slogutil.KeyError, err)
	}

	return r, nil
}

// capture loads the page at rawURL and returns the requests it made.
func (c *Checker) capture(
	ctx context.Context,
	rawURL string,
) (page *browser.Page, reqs []*webreq.RequestInfo, err error) {
	err = c.pages.Acquire(ctx, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for page slot: %w", err)
	}
	defer c.pages.Release(1)

	err = c.limiter.Wait(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for navigation rate: %w", err)
	}

	c.logger.InfoContext(ctx, "capturing requests", "url", rawURL)

	q := newRequestQueue()
	page, err = c.browser.Visit(ctx, rawURL, q.push)
	if err != nil {
		return nil, nil, fmt.Errorf("visiting: %w", err)
	}

	return page, q.drain(), nil
}
