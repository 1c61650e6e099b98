package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/browser"
	"github.com/AdguardTeam/LinkCheck/internal/checkcache"
	"github.com/AdguardTeam/LinkCheck/internal/configmgr"
	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/LinkCheck/internal/history"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/LinkCheck/internal/metrics"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// listFetchTimeout is the timeout for fetching a single filter list.
const listFetchTimeout = 1 * time.Minute

// app contains the components shared by the commands.
type app struct {
	logger   *slog.Logger
	engine   *rulelist.Engine
	ruleSets *linkcheck.RuleSetStorage
	browser  *browser.Rod
	checker  *linkcheck.Checker
	history  *history.DB
	metrics  *metrics.Check
	registry *prometheus.Registry
}

// newApp assembles the components from conf.  a.history must be closed after
// use.
func newApp(ctx context.Context, l *slog.Logger, conf *configmgr.Config) (a *app, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mtrc, err := metrics.NewCheck(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	for _, dir := range []string{conf.Filtering.CacheDir, filepath.Dir(conf.History.File)} {
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	engine, err := newEngine(l, conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	clock := timeutil.SystemClock{}
	chk := conf.Check
	cacheConf := &checkcache.Config{
		Clock:    clock,
		MaxAge:   time.Duration(chk.MaxCacheAge),
		Capacity: chk.CacheCapacity,
	}

	err = cacheConf.Validate()
	if err != nil {
		return nil, fmt.Errorf("check cache: %w", err)
	}

	hist, err := history.New(ctx, &history.Config{
		Logger: l.With(slogutil.KeyPrefix, "history"),
		Clock:  clock,
		Path:   conf.History.File,
		Size:   conf.History.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}

	b := browser.NewRod(&browser.RodConfig{
		Logger:            l.With(slogutil.KeyPrefix, "browser"),
		ControlURL:        conf.Browser.ControlURL,
		Bin:               conf.Browser.Bin,
		NavigationTimeout: time.Duration(chk.NavigationTimeout),
		Headless:          conf.Browser.Headless,
	})

	storage := linkcheck.NewRuleSetStorage()
	checker := linkcheck.NewChecker(&linkcheck.CheckerConfig{
		Logger:             l.With(slogutil.KeyPrefix, "checker"),
		Browser:            b,
		Cache:              checkcache.New[*linkcheck.Report](cacheConf),
		RuleSets:           storage,
		History:            hist,
		Metrics:            mtrc,
		Clock:              clock,
		NavigationRate:     chk.NavigationRate,
		EvalWorkers:        chk.EvalWorkers,
		MaxConcurrentPages: chk.MaxConcurrentPages,
	})

	return &app{
		logger:   l,
		engine:   engine,
		ruleSets: storage,
		browser:  b,
		checker:  checker,
		history:  hist,
		metrics:  mtrc,
		registry: reg,
	}, nil
}

// newEngine returns a new filter-list engine for the filters in conf.
func newEngine(l *slog.Logger, conf *configmgr.Config) (e *rulelist.Engine, err error) {
	filters := make([]*rulelist.Filter, 0, len(conf.Filters))
	for i, fc := range conf.Filters {
		var f *rulelist.Filter
		f, err = newFilter(fc)
		if err != nil {
			return nil, fmt.Errorf("filters: at index %d: %w", i, err)
		}

		filters = append(filters, f)
	}

	fltConf := conf.Filtering
	parser := rulelist.NewParser(&rulelist.ParserConfig{
		Logger: l.With(slogutil.KeyPrefix, "parser"),
		Compiler: filtering.NewCompiler(&filtering.CompilerConfig{
			PatternCacheSize: fltConf.PatternCacheSize,
		}),
	})

	return rulelist.NewEngine(&rulelist.EngineConfig{
		Logger: l.With(slogutil.KeyPrefix, "rulelist"),
		Parser: parser,
		HTTPClient: &http.Client{
			Timeout: listFetchTimeout,
		},
		Clock:           timeutil.SystemClock{},
		CacheDir:        fltConf.CacheDir,
		Filters:         filters,
		MaxRuleListSize: fltConf.MaxRuleListSize,
	}), nil
}

// newFilter returns a new filter list from c.  The UID is derived from the URL.
func newFilter(c *configmgr.FilterConfig) (f *rulelist.Filter, err error) {
	u, err := c.ParseURL()
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return rulelist.NewFilter(&rulelist.FilterConfig{
		URL:     u,
		Name:    c.Name,
		UID:     rulelist.NewURLUID(u),
		Enabled: c.Enabled,
	})
}
