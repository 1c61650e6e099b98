package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultNavigationTimeout is the default maximum duration of a single page
// load.
const DefaultNavigationTimeout = 1 * time.Minute

// closeTimeout is the maximum duration of closing a page.
const closeTimeout = 10 * time.Second

// asyncCallStackDepth is the maximum depth of the asynchronous call stacks
// reported in request initiators.
const asyncCallStackDepth = 32

// errNotStarted is returned when a page is visited before the browser is
// started.
const errNotStarted errors.Error = "browser is not started"

// RodConfig is the configuration structure for a [Rod] browser.
type RodConfig struct {
	// Logger is used to log the browser operation.  It must not be nil.
	Logger *slog.Logger

	// ControlURL is the DevTools WebSocket URL of an already running browser.
	// If it is empty, a new browser is launched.
	ControlURL string

	// Bin is the path to the browser executable to launch.  If it is empty,
	// the browser is looked up or downloaded by the launcher.
	Bin string

	// NavigationTimeout is the maximum duration of a single page load.  It
	// must be positive.
	NavigationTimeout time.Duration

	// Headless, if true, launches the browser without a window.
	Headless bool
}

// Rod is a [Browser] that drives Chromium over the DevTools Protocol.
type Rod struct {
	logger *slog.Logger

	// mu protects browser and launcher.
	mu       *sync.RWMutex
	browser  *rod.Browser
	launcher *launcher.Launcher

	controlURL string
	bin        string
	timeout    time.Duration
	headless   bool
}

// NewRod returns a new browser that is not started yet.  c must not be nil.
func NewRod(c *RodConfig) (b *Rod) {
	return &Rod{
		logger:     c.Logger,
		mu:         &sync.RWMutex{},
		controlURL: c.ControlURL,
		bin:        c.Bin,
		timeout:    c.NavigationTimeout,
		headless:   c.Headless,
	}
}

// type check
var (
	_ Browser           = (*Rod)(nil)
	_ service.Interface = (*Rod)(nil)
)

// Start implements the [service.Interface] interface for *Rod.  It launches the
// browser, unless a control URL is configured, and connects to it.
func (b *Rod) Start(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "starting browser: %w") }()

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.controlURL
	if u == "" {
		l := launcher.New().Headless(b.headless)
		if b.bin != "" {
			l = l.Bin(b.bin)
		}

		u, err = l.Launch()
		if err != nil {
			return fmt.Errorf("launching: %w", err)
		}

		b.launcher = l
	}

	browser := rod.New().ControlURL(u)
	err = browser.Connect()
	if err != nil {
		return fmt.Errorf("connecting to %q: %w", u, err)
	}

	b.browser = browser
	b.logger.InfoContext(ctx, "connected", "control_url", u)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Rod.
func (b *Rod) Shutdown(ctx context.Context) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}

	err = b.browser.Close()
	b.browser = nil

	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}

	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}

	b.logger.InfoContext(ctx, "closed")

	return nil
}

// Visit implements the [Browser] interface for *Rod.
func (b *Rod) Visit(ctx context.Context, rawURL string, onReq RequestHandler) (p *Page, err error) {
	b.mu.RLock()
	browser := b.browser
	b.mu.RUnlock()

	if browser == nil {
		return nil, errNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	defer b.closePage(ctx, page)

	err = enableDomains(page)
	if err != nil {
		return nil, fmt.Errorf("preparing page: %w", err)
	}

	stop := b.subscribe(ctx, page, onReq)

	navErr := navigate(page, rawURL)
	stop()
	if navErr != nil {
		return nil, navigationError(navErr)
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("getting page info: %w", err)
	}

	return &Page{
		Title: info.Title,
		URL:   info.URL,
	}, nil
}

// navigationError returns err wrapped into [ErrNavigation].
func navigationError(err error) (wrapped error) {
	return fmt.Errorf("%w: %w", ErrNavigation, err)
}

// closeContext returns the context for closing a page opened with ctx.  It
// isn't canceled together with ctx, so the page is closed even after the
// navigation has timed out.
func closeContext(ctx context.Context) (closeCtx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
}

// closePage closes page, logging the error if there is one.
func (b *Rod) closePage(ctx context.Context, page *rod.Page) {
	closeCtx, cancel := closeContext(ctx)
	defer cancel()

	err := page.Context(closeCtx).Close()
	if err != nil {
		b.logger.WarnContext(ctx, "closing page", slogutil.KeyError, err)
	}
}

// enableDomains enables the DevTools domains used to capture the requests with
// their initiators.
func enableDomains(page *rod.Page) (err error) {
	_, err = proto.DebuggerEnable{}.Call(page)
	if err != nil {
		return fmt.Errorf("enabling debugger: %w", err)
	}

	err = proto.DebuggerSetAsyncCallStackDepth{MaxDepth: asyncCallStackDepth}.Call(page)
	if err != nil {
		return fmt.Errorf("setting async call stack depth: %w", err)
	}

	err = proto.NetworkEnable{}.Call(page)
	if err != nil {
		return fmt.Errorf("enabling network: %w", err)
	}

	return nil
}

// navigate loads rawURL in page and waits for the load event.
func navigate(page *rod.Page, rawURL string) (err error) {
	err = page.Navigate(rawURL)
	if err != nil {
		return err
	}

	return page.WaitLoad()
}

// subscribe starts calling onReq for every request page makes.  stop cancels
// the subscription and waits until the last call to onReq returns.
func (b *Rod) subscribe(ctx context.Context, page *rod.Page, onReq RequestHandler) (stop func()) {
	subCtx, cancel := context.WithCancel(ctx)
	wait := page.Context(subCtx).EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		ri, err := toRequestInfo(e)
		if err != nil {
			b.logger.DebugContext(ctx, "converting request event", slogutil.KeyError, err)

			return
		}

		onReq(ri)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer slogutil.RecoverAndLog(ctx, b.logger)

		wait()
	}()

	return func() {
		cancel()
		<-done
	}
}

// toRequestInfo converts a DevTools event into a request information through
// their common JSON form.
func toRequestInfo(e *proto.NetworkRequestWillBeSent) (ri *webreq.RequestInfo, err error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}

	ri = &webreq.RequestInfo{}
	err = json.Unmarshal(b, ri)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	if ri.Request == nil {
		return nil, errors.Error("no request in event")
	}

	return ri, nil
}
