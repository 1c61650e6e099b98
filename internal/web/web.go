// Package web contains the HTTP control API of LinkCheck.
//
// NOTE: Packages other than cmd must not import this package, as it imports
// most other packages.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/history"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Path constants.
const (
	PathHealthCheck = "/health-check"
	PathCheck       = "/control/check"
	PathStatus      = "/control/status"
	PathHistory     = "/control/history"
	PathMetrics     = "/metrics"
)

// Pipeline is the source and the destination of the checks.
type Pipeline interface {
	// Requests returns the channel for check requests.
	Requests() (ch chan<- *linkcheck.CheckRequest)

	// Results returns the channel with check results.
	Results() (ch <-chan *linkcheck.CheckResult)
}

// type check
var _ Pipeline = (*linkcheck.Pipeline)(nil)

// HistoryStorage returns the completed checks.
type HistoryStorage interface {
	// List returns at most limit entries, newest first.  If limit is not
	// positive, all entries are returned.
	List(ctx context.Context, limit int) (entries []*history.Entry, err error)
}

// type check
var _ HistoryStorage = (*history.DB)(nil)

// Config is the configuration structure for the web [Service].
type Config struct {
	// Logger is used to log the operation of the service.  It must not be nil.
	Logger *slog.Logger

	// Pipeline processes the check requests.  It must not be nil.
	Pipeline Pipeline

	// RuleSets is used for the status reply.  It must not be nil.
	RuleSets *linkcheck.RuleSetStorage

	// History is used for the history reply.  It must not be nil.
	History HistoryStorage

	// Gatherer is the source of the exposed metrics.  It must not be nil.
	Gatherer prometheus.Gatherer

	// Address is the TCP address to listen on.  It must not be empty.
	Address string

	// Timeout is the timeout for reading requests.  It must be positive.
	Timeout time.Duration

	// CheckTimeout is the maximum time to wait for a check result.  It must
	// be positive.
	CheckTimeout time.Duration
}

// Service is the HTTP control API service.
type Service struct {
	logger       *slog.Logger
	pipeline     Pipeline
	ruleSets     *linkcheck.RuleSetStorage
	history      HistoryStorage
	dispatcher   *dispatcher
	srv          *http.Server
	cancel       context.CancelFunc
	wg           *sync.WaitGroup
	checkTimeout time.Duration

	// addrMu protects addr.
	addrMu *sync.Mutex
	addr   net.Addr
}

// New returns a new properly initialized *Service.  c must not be nil.
func New(c *Config) (svc *Service) {
	svc = &Service{
		logger:   c.Logger,
		pipeline: c.Pipeline,
		ruleSets: c.RuleSets,
		history:  c.History,
		dispatcher: newDispatcher(
			c.Logger.With(slogutil.KeyPrefix, "dispatcher"),
			c.Pipeline.Results(),
		),
		wg:           &sync.WaitGroup{},
		checkTimeout: c.CheckTimeout,
		addrMu:       &sync.Mutex{},
	}

	svc.srv = &http.Server{
		Addr:              c.Address,
		Handler:           svc.newMux(c.Gatherer),
		ReadTimeout:       c.Timeout,
		ReadHeaderTimeout: c.Timeout,
		IdleTimeout:       c.Timeout,
		WriteTimeout:      c.Timeout + c.CheckTimeout,
		ErrorLog:          slog.NewLogLogger(c.Logger.Handler(), slog.LevelError),
	}

	return svc
}

// route is a single HTTP API route.
type route struct {
	handler http.HandlerFunc
	method  string
	pattern string
	isJSON  bool
}

// newMux returns a new HTTP request multiplexer for the service.
func (svc *Service) newMux(g prometheus.Gatherer) (mux *http.ServeMux) {
	mux = http.NewServeMux()

	routes := []route{{
		handler: svc.handleGetHealthCheck,
		method:  http.MethodGet,
		pattern: PathHealthCheck,
		isJSON:  false,
	}, {
		handler: svc.handlePostCheck,
		method:  http.MethodPost,
		pattern: PathCheck,
		isJSON:  true,
	}, {
		handler: svc.handleGetStatus,
		method:  http.MethodGet,
		pattern: PathStatus,
		isJSON:  true,
	}, {
		handler: svc.handleGetHistory,
		method:  http.MethodGet,
		pattern: PathHistory,
		isJSON:  true,
	}, {
		handler: promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP,
		method:  http.MethodGet,
		pattern: PathMetrics,
		isJSON:  false,
	}}

	for _, r := range routes {
		var hdlr http.Handler = r.handler
		if r.isJSON {
			hdlr = jsonMw(hdlr)
		}

		mux.Handle(r.method+" "+r.pattern, svc.logMw(gziphandler.GzipHandler(hdlr)))
	}

	return mux
}

// handleGetHealthCheck is the handler for the GET /health-check HTTP API.
func (svc *Service) handleGetHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeText(r.Context(), svc.logger, w, "OK")
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It returns
// after the listener is bound.
func (svc *Service) Start(ctx context.Context) (err error) {
	l, err := net.Listen("tcp", svc.srv.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", svc.srv.Addr, err)
	}

	svc.addrMu.Lock()
	svc.addr = l.Addr()
	svc.addrMu.Unlock()

	dispCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	svc.cancel = cancel

	svc.wg.Add(2)
	go svc.dispatcher.run(dispCtx, svc.wg)
	go svc.serve(dispCtx, l)

	svc.logger.InfoContext(ctx, "listening", "addr", l.Addr())

	return nil
}

// serve runs the HTTP server on l.
func (svc *Service) serve(ctx context.Context, l net.Listener) {
	defer svc.wg.Done()
	defer slogutil.RecoverAndLog(ctx, svc.logger)

	err := svc.srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		svc.logger.ErrorContext(ctx, "serving", slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *Service.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "shutting down web: %w") }()

	err = svc.srv.Shutdown(ctx)
	if svc.cancel != nil {
		svc.cancel()
	}

	svc.wg.Wait()

	return err
}

// Addr returns the address the service listens on.  It returns nil until
// Start has successfully finished.
func (svc *Service) Addr() (addr net.Addr) {
	svc.addrMu.Lock()
	defer svc.addrMu.Unlock()

	return svc.addr
}
