package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/configmgr"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/LinkCheck/internal/version"
	"github.com/AdguardTeam/LinkCheck/internal/web"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/spf13/cobra"
)

// newRunCmd returns the command running the checking service.
func newRunCmd() (cmd *cobra.Command) {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the checking service with the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			confFile, verbose, err := commonFlags(cmd)
			if err != nil {
				return err
			}

			return runService(cmd.Context(), confFile, verbose)
		},
	}
}

// commonFlags returns the values of the persistent flags.
func commonFlags(cmd *cobra.Command) (confFile string, verbose bool, err error) {
	confFile, err = cmd.Flags().GetString("config")
	if err != nil {
		return "", false, err
	}

	verbose, err = cmd.Flags().GetBool("verbose")

	return confFile, verbose, err
}

// runService runs all services until the process receives a shutdown signal.
func runService(ctx context.Context, confFile string, verbose bool) (err error) {
	conf, err := configmgr.Read(confFile)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	l, out := newLogger(conf.Log, verbose)
	if out != nil {
		defer slogutil.CloseAndLog(ctx, l, out, slog.LevelError)
	}

	defer slogutil.RecoverAndLog(ctx, l)

	l.InfoContext(ctx, "starting linkcheck", "version", version.Version(), "pid", os.Getpid())

	a, err := newApp(ctx, l, conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}
	defer func() { err = errors.WithDeferred(err, a.history.Close()) }()

	mgr, err := newRunServices(l, conf, a)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = mgr.Start(sigCtx)
	if err == nil {
		l.InfoContext(ctx, "started")

		<-sigCtx.Done()

		l.InfoContext(ctx, "received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()

	err = errors.Join(err, mgr.Shutdown(shutdownCtx))
	if err == nil {
		l.InfoContext(ctx, "stopped")
	}

	return err
}

// newRunServices returns the service manager with the services of the run
// command in the order of their start.
func newRunServices(
	l *slog.Logger,
	conf *configmgr.Config,
	a *app,
) (mgr *serviceMgr, err error) {
	watcher, err := rulelist.NewFileWatcher(l.With(slogutil.KeyPrefix, "watcher"))
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	chk := conf.Check
	pipeline := linkcheck.NewPipeline(&linkcheck.PipelineConfig{
		Logger:              l.With(slogutil.KeyPrefix, "pipeline"),
		Checker:             a.checker,
		RuleSets:            a.ruleSets,
		Metrics:             a.metrics,
		QueueSize:           chk.QueueSize,
		MaxConcurrentChecks: chk.MaxConcurrentChecks,
		RestartDelay:        time.Duration(chk.RestartDelay),
	})

	updater := rulelist.NewUpdater(&rulelist.UpdaterConfig{
		Logger:        l.With(slogutil.KeyPrefix, "updater"),
		Engine:        a.engine,
		Watcher:       watcher,
		Updates:       pipeline.Updates(),
		Interval:      time.Duration(conf.Filtering.UpdateInterval),
		RetryInterval: time.Duration(conf.Filtering.RetryInterval),
	})

	webSvc := web.New(&web.Config{
		Logger:       l.With(slogutil.KeyPrefix, "web"),
		Pipeline:     pipeline,
		RuleSets:     a.ruleSets,
		History:      a.history,
		Gatherer:     a.registry,
		Address:      conf.HTTP.Address,
		Timeout:      time.Duration(conf.HTTP.Timeout),
		CheckTimeout: time.Duration(conf.HTTP.CheckTimeout),
	})

	return newServiceMgr(
		l.With(slogutil.KeyPrefix, "svcmgr"),
		conf.PIDFile,
		&namedService{Interface: a.browser, name: "browser"},
		&namedService{Interface: watcher, name: "watcher"},
		&namedService{Interface: a.checker, name: "checker"},
		&namedService{Interface: pipeline, name: "pipeline"},
		&namedService{Interface: updater, name: "updater"},
		&namedService{Interface: webSvc, name: "web"},
	), nil
}
