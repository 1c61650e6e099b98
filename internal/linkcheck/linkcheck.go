// Package linkcheck contains the checking of pages against the filter lists:
// the building of reports, the cache of the reports, and the pipeline
// processing the check requests.
package linkcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"
)

// ReportModifier is the requested form of the reply to a check request.
type ReportModifier string

// Valid [ReportModifier] values.
const (
	ReportModifierDetails ReportModifier = "details"
	ReportModifierSummary ReportModifier = "summary"
)

// NewReportModifier returns the report modifier parsed from s.  An empty s is
// [ReportModifierDetails].
func NewReportModifier(s string) (m ReportModifier, err error) {
	switch m = ReportModifier(s); m {
	case "":
		return ReportModifierDetails, nil
	case ReportModifierDetails, ReportModifierSummary:
		return m, nil
	default:
		return "", fmt.Errorf("report modifier: %w: %q", errors.ErrBadEnumValue, s)
	}
}

// CheckRequest is a request to check one or more pages.
type CheckRequest struct {
	// URLs are the URLs of the pages to check.  It must not be empty.
	URLs []string

	// Modifier is the requested form of the reply.
	Modifier ReportModifier

	// ID is the unique identifier of the request.
	ID uuid.UUID
}

// NewCheckRequest returns a new check request with a random ID.
func NewCheckRequest(urls []string, m ReportModifier) (req *CheckRequest, err error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("urls: %w", errors.ErrEmptyValue)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating id: %w", err)
	}

	return &CheckRequest{
		URLs:     urls,
		Modifier: m,
		ID:       id,
	}, nil
}

// CheckResult is the result of a [CheckRequest].
type CheckResult struct {
	// Reports are the reports about the successfully checked pages by their
	// requested URLs.
	Reports map[string]*Report

	// Failures are the errors of the pages that couldn't be checked by their
	// requested URLs.
	Failures map[string]error

	// Modifier is the requested form of the reply.
	Modifier ReportModifier

	// RequestID is the ID of the originating request.
	RequestID uuid.UUID
}

// History stores the reports of the completed checks.
type History interface {
	// Record stores r about the page requested with rawURL.
	Record(ctx context.Context, rawURL string, r *Report) (err error)
}

// EmptyHistory is a [History] that does nothing.
type EmptyHistory struct{}

// type check
var _ History = EmptyHistory{}

// Record implements the [History] interface for EmptyHistory.
func (EmptyHistory) Record(_ context.Context, _ string, _ *Report) (err error) { return nil }

// CheckStatus is the outcome of a single check for metrics.
type CheckStatus string

// Valid [CheckStatus] values.
const (
	CheckStatusCached  CheckStatus = "cached"
	CheckStatusChecked CheckStatus = "checked"
	CheckStatusFailed  CheckStatus = "failed"
)

// Metrics is the interface for the metrics of the checks.
type Metrics interface {
	// ObserveCheck records a finished check with the given status and
	// duration.
	ObserveCheck(ctx context.Context, status CheckStatus, dur time.Duration)

	// ObserveBlocked records the number of blocked requests of a page that
	// was checked, not taken from the cache.
	ObserveBlocked(ctx context.Context, n int)

	// SetRuleSets sets the number of the loaded rule sets and their rules.
	SetRuleSets(ctx context.Context, ruleSets, rules int)
}

// EmptyMetrics is a [Metrics] that does nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveCheck implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveCheck(_ context.Context, _ CheckStatus, _ time.Duration) {}

// ObserveBlocked implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveBlocked(_ context.Context, _ int) {}

// SetRuleSets implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetRuleSets(_ context.Context, _, _ int) {}

// RuleSetStorage holds the current rule sets.  The rule sets are replaced as a
// whole, so a reader always gets a consistent collection.
type RuleSetStorage struct {
	// mu protects ruleSets.
	mu       *sync.RWMutex
	ruleSets []*filtering.RuleSet

	// ready is closed after the first call to Set.
	ready     chan struct{}
	readyOnce *sync.Once
}

// NewRuleSetStorage returns a new storage without any rule sets.
func NewRuleSetStorage() (s *RuleSetStorage) {
	return &RuleSetStorage{
		mu:        &sync.RWMutex{},
		ready:     make(chan struct{}),
		readyOnce: &sync.Once{},
	}
}

// Set replaces the rule sets.  ruleSets must not be modified after calling
// Set.
func (s *RuleSetStorage) Set(ruleSets []*filtering.RuleSet) {
	s.mu.Lock()
	s.ruleSets = ruleSets
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// RuleSets returns the current rule sets.  The returned slice must not be
// modified.
func (s *RuleSetStorage) RuleSets() (ruleSets []*filtering.RuleSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ruleSets
}

// Wait blocks until the rule sets are set for the first time or ctx is
// canceled.
func (s *RuleSetStorage) Wait(ctx context.Context) (err error) {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for rule sets: %w", ctx.Err())
	}
}

// Loaded returns true if the rule sets have been set at least once.
func (s *RuleSetStorage) Loaded() (ok bool) {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}
