package rulelist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/service"
)

// DefaultRetryInterval is the default interval of the first retry after a
// failed refresh.
const DefaultRetryInterval = 1 * time.Minute

// UpdaterConfig is the configuration structure for an [Updater].
type UpdaterConfig struct {
	// Logger is used to log the updates.  It must not be nil.
	Logger *slog.Logger

	// Engine is the engine refreshed by the updater.  It must not be nil.
	Engine *Engine

	// Watcher notifies about changes of local filter lists.  It must not be
	// nil.
	Watcher ListWatcher

	// Updates receives the complete list of rule sets after every refresh
	// that changes them.  It must not be nil.
	Updates chan<- []*filtering.RuleSet

	// Interval is the interval between refreshes.  It must be positive.
	Interval time.Duration

	// RetryInterval is the interval of the first retry after a failed
	// refresh.  The following retry intervals are doubled up to Interval.  It
	// must be positive.
	RetryInterval time.Duration
}

// Updater periodically refreshes filter lists and sends the fresh rule sets
// to the consumer.
type Updater struct {
	logger  *slog.Logger
	engine  *Engine
	watcher ListWatcher
	updates chan<- []*filtering.RuleSet

	// done is closed on shutdown.
	done chan struct{}

	// wg is used to wait for the updates loop.
	wg *sync.WaitGroup

	interval      time.Duration
	retryInterval time.Duration
}

// NewUpdater returns a new properly initialized *Updater.  c must not be nil.
func NewUpdater(c *UpdaterConfig) (u *Updater) {
	return &Updater{
		logger:        c.Logger,
		engine:        c.Engine,
		watcher:       c.Watcher,
		updates:       c.Updates,
		done:          make(chan struct{}),
		wg:            &sync.WaitGroup{},
		interval:      c.Interval,
		retryInterval: c.RetryInterval,
	}
}

// type check
var _ service.Interface = (*Updater)(nil)

// Start implements the [service.Interface] interface for *Updater.  It
// registers the local filter lists in the watcher and starts the updates loop,
// which performs the first refresh immediately.
func (u *Updater) Start(ctx context.Context) (err error) {
	for _, f := range u.engine.Filters() {
		if !f.enabled || f.url.Scheme != urlutil.SchemeFile {
			continue
		}

		err = u.watcher.Add(f.url.Path)
		if err != nil {
			// Don't fail, since the file may be created later.
			u.logger.WarnContext(ctx, "watching list", "uid", f.uid, slogutil.KeyError, err)
		}
	}

	u.wg.Add(1)
	go u.updatesLoop(context.WithoutCancel(ctx))

	return nil
}

// Shutdown implements the [service.Interface] interface for *Updater.
func (u *Updater) Shutdown(ctx context.Context) (err error) {
	close(u.done)

	waitCh := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// updatesLoop refreshes the filter lists on a timer and on changes of the
// local lists.  It is intended to be used as a goroutine.
func (u *Updater) updatesLoop(ctx context.Context) {
	defer u.wg.Done()
	defer slogutil.RecoverAndLog(ctx, u.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-u.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	t := time.NewTimer(0)
	defer t.Stop()

	events := u.watcher.Events()
	ivl := u.interval
	for {
		select {
		case <-t.C:
			ivl = u.refresh(ctx, ivl)
		case _, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			u.logger.InfoContext(ctx, "local list changed, refreshing")
			ivl = u.refresh(ctx, ivl)
		case <-u.done:
			return
		}

		t.Reset(ivl)
	}
}

// refresh refreshes the filter lists, sends the changed rule sets, and returns
// the interval until the next refresh.  prev is the previous interval.
func (u *Updater) refresh(ctx context.Context, prev time.Duration) (next time.Duration) {
	changed, err := u.engine.Refresh(ctx)
	if err != nil {
		u.logger.ErrorContext(ctx, "refreshing filters", slogutil.KeyError, err)
	}

	ruleSets, loaded := u.engine.RuleSets()
	if loaded && changed {
		u.send(ctx, ruleSets)
	}

	if err == nil {
		return u.interval
	}

	return u.backoff(prev)
}

// backoff returns the next retry interval after a failed refresh.
func (u *Updater) backoff(prev time.Duration) (next time.Duration) {
	if prev >= u.interval {
		return min(u.retryInterval, u.interval)
	}

	return min(prev*2, u.interval)
}

// send sends the rule sets to the consumer, blocking until it receives them or
// the updater is shut down.
func (u *Updater) send(ctx context.Context, ruleSets []*filtering.RuleSet) {
	select {
	case u.updates <- ruleSets:
		u.logger.DebugContext(ctx, "sent rule sets", "num", len(ruleSets))
	case <-u.done:
		// Go on.
	}
}
