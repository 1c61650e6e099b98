package rulelist

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
)

// Engine combines the rule sets of several filter lists.
type Engine struct {
	logger *slog.Logger

	// mu protects ruleSets and loaded.
	mu *sync.RWMutex

	// refreshMu makes sure that only one refresh takes place at a time.
	refreshMu *sync.Mutex

	refresh *refreshConfig

	// ruleSets are the rule sets of the filter lists in the order of filters.
	ruleSets []*filtering.RuleSet

	// filters is the data about the filter lists in this engine.
	filters []*Filter

	// loaded is true after the first refresh that produced rule sets.
	loaded bool
}

// EngineConfig is the configuration for an engine combining refreshable filter
// lists.
type EngineConfig struct {
	// Logger is used to log the refreshes.  It must not be nil.
	Logger *slog.Logger

	// Parser is used to parse the filter lists.  It must not be nil.
	Parser *Parser

	// HTTPClient is used to fetch the HTTP filter lists.  It must not be nil.
	HTTPClient *http.Client

	// Clock is used to get the time of the updates.  It must not be nil.
	Clock timeutil.Clock

	// CacheDir is the path to the directory used to cache filter-list files.
	// It must be set.
	CacheDir string

	// Filters is the data about the filter lists in this engine.  There must
	// be no other references to the elements of this slice.
	Filters []*Filter

	// MaxRuleListSize is the maximum size of a filter list.  It must be
	// greater than zero.
	MaxRuleListSize datasize.ByteSize
}

// NewEngine returns a new engine.  The engine is not refreshed, so a refresh
// should be performed before use.
func NewEngine(c *EngineConfig) (e *Engine) {
	return &Engine{
		logger:    c.Logger,
		mu:        &sync.RWMutex{},
		refreshMu: &sync.Mutex{},
		refresh: &refreshConfig{
			parser:   c.Parser,
			httpCli:  c.HTTPClient,
			now:      c.Clock.Now,
			cacheDir: c.CacheDir,
			parseBuf: make([]byte, DefaultRuleBufSize),
			maxSize:  c.MaxRuleListSize,
		},
		filters: c.Filters,
	}
}

// Filters returns the filter lists of e.  The returned slice must not be
// modified.
func (e *Engine) Filters() (filters []*Filter) {
	return e.filters
}

// RuleSets returns the current rule sets and true if at least one refresh has
// loaded them.  The returned slice must not be modified.
func (e *Engine) RuleSets() (ruleSets []*filtering.RuleSet, loaded bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.ruleSets, e.loaded
}

// Refresh updates all enabled filter lists in e.  changed is true if the rule
// sets have changed since the previous refresh.  Filter lists that fail to
// refresh keep their previous rule sets.  err contains the errors of all
// failed lists, unless the context is canceled, in which case err only
// contains the context error.
func (e *Engine) Refresh(ctx context.Context) (changed bool, err error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	changed, errs := e.process(ctx)
	if isOneTimeoutError(errs) {
		// Don't wrap the error since it's informative enough as is.
		return false, errs[0]
	}

	var ruleSets []*filtering.RuleSet
	for _, f := range e.filters {
		if rs := f.RuleSet(); f.enabled && rs != nil {
			ruleSets = append(ruleSets, rs)
		}
	}

	firstLoad := e.resetRuleSets(ruleSets)

	return changed || firstLoad, errors.Join(errs...)
}

// resetRuleSets sets the current rule sets.  firstLoad is true if this is the
// first time the rule sets are set, which only happens when there are rule
// sets or there are no enabled filter lists at all.
func (e *Engine) resetRuleSets(ruleSets []*filtering.RuleSet) (firstLoad bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ruleSets = slices.Clip(ruleSets)
	if e.loaded || (len(ruleSets) == 0 && e.hasEnabled()) {
		return false
	}

	e.loaded = true

	return true
}

// hasEnabled returns true if e has enabled filter lists.
func (e *Engine) hasEnabled() (ok bool) {
	return slices.ContainsFunc(e.filters, (*Filter).Enabled)
}

// isOneTimeoutError returns true if the sole error in errs is either
// [context.Canceled] or [context.DeadlineExceeded].
func isOneTimeoutError(errs []error) (ok bool) {
	if len(errs) != 1 {
		return false
	}

	err := errs[0]

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// process runs updates of all enabled filter lists.  All errors are logged as
// they appear, since the update can take a significant amount of time.  errs
// contains all errors that happened during the update, unless the context is
// canceled or its deadline is reached, in which case errs will only contain a
// single timeout error.
func (e *Engine) process(ctx context.Context) (changed bool, errs []error) {
	for i, f := range e.filters {
		if !f.enabled {
			continue
		}

		select {
		case <-ctx.Done():
			return false, []error{fmt.Errorf("timeout after updating %d filters: %w", i, ctx.Err())}
		default:
			// Go on.
		}

		fltChanged, err := e.processFilter(ctx, f)
		if err != nil {
			errs = append(errs, err)

			// Also log immediately, since the update can take a lot of time.
			e.logger.ErrorContext(
				ctx,
				"updating filter",
				"uid", f.uid,
				"url", f.url,
				slogutil.KeyError, err,
			)

			continue
		}

		changed = changed || fltChanged
	}

	return changed, errs
}

// processFilter runs an update of a single filter list.
func (e *Engine) processFilter(ctx context.Context, f *Filter) (changed bool, err error) {
	parseRes, changed, err := f.refresh(ctx, e.refresh)
	if err != nil {
		return false, fmt.Errorf("updating %s: %w", f.uid, err)
	}

	if !changed {
		e.logger.DebugContext(ctx, "no change", "uid", f.uid)

		return false, nil
	}

	e.logger.InfoContext(
		ctx,
		"updated filter",
		"uid", f.uid,
		"title", f.RuleSet().Title(),
		"rules", parseRes.RulesCount,
		"skipped", parseRes.SkippedCount,
		"cosmetic", parseRes.NoopCount,
	)

	return true, nil
}
