package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/AdguardTeam/LinkCheck/internal/configmgr"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/spf13/cobra"
)

// errNoRuleSets is returned when none of the filter lists could be loaded.
const errNoRuleSets errors.Error = "no rule sets loaded"

// newCheckCmd returns the command checking pages once.
func newCheckCmd() (cmd *cobra.Command) {
	cmd = &cobra.Command{
		Use:   "check URL...",
		Short: "Check pages once and print the reports as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			confFile, verbose, err := commonFlags(cmd)
			if err != nil {
				return err
			}

			modStr, err := cmd.Flags().GetString("modifier")
			if err != nil {
				return err
			}

			m, err := linkcheck.NewReportModifier(modStr)
			if err != nil {
				return err
			}

			return runCheck(cmd.Context(), cmd.OutOrStdout(), confFile, verbose, m, args)
		},
	}

	cmd.Flags().StringP("modifier", "m", string(linkcheck.ReportModifierDetails), "form of the reports: details or summary")

	return cmd
}

// checkOutput is the output of the check command.
type checkOutput struct {
	// Reports are either [*linkcheck.Report] or [*linkcheck.Summary] values.
	Reports map[string]any    `json:"reports"`
	Errors  map[string]string `json:"errors"`
}

// runCheck loads the filter lists, checks urls, and writes the reports to w.
func runCheck(
	ctx context.Context,
	w io.Writer,
	confFile string,
	verbose bool,
	m linkcheck.ReportModifier,
	urls []string,
) (err error) {
	conf, err := configmgr.Read(confFile)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	l, out := newLogger(conf.Log, verbose)
	if out != nil {
		defer slogutil.CloseAndLog(ctx, l, out, slog.LevelError)
	}

	a, err := newApp(ctx, l, conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}
	defer func() { err = errors.WithDeferred(err, a.history.Close()) }()

	_, err = a.engine.Refresh(ctx)
	if err != nil {
		l.WarnContext(ctx, "refreshing filter lists", slogutil.KeyError, err)
	}

	ruleSets, loaded := a.engine.RuleSets()
	if !loaded {
		return errNoRuleSets
	}

	a.ruleSets.Set(ruleSets)

	mgr := newServiceMgr(
		l.With(slogutil.KeyPrefix, "svcmgr"),
		"",
		&namedService{Interface: a.browser, name: "browser"},
		&namedService{Interface: a.checker, name: "checker"},
	)

	err = mgr.Start(ctx)
	if err == nil {
		err = writeChecks(ctx, w, a.checker, m, urls)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()

	return errors.Join(err, mgr.Shutdown(shutdownCtx))
}

// pageChecker checks a single page.
type pageChecker interface {
	Check(ctx context.Context, rawURL string) (r *linkcheck.Report, err error)
}

// type check
var _ pageChecker = (*linkcheck.Checker)(nil)

// writeChecks checks urls one by one and writes the output as JSON into w.
func writeChecks(
	ctx context.Context,
	w io.Writer,
	c pageChecker,
	m linkcheck.ReportModifier,
	urls []string,
) (err error) {
	res := &checkOutput{
		Reports: map[string]any{},
		Errors:  map[string]string{},
	}

	for _, u := range urls {
		r, checkErr := c.Check(ctx, u)
		switch {
		case checkErr != nil:
			res.Errors[u] = checkErr.Error()
		case m == linkcheck.ReportModifierSummary:
			res.Reports[u] = r.Summarize()
		default:
			res.Reports[u] = r
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err = enc.Encode(res)
	if err != nil {
		return fmt.Errorf("writing reports: %w", err)
	}

	return nil
}
