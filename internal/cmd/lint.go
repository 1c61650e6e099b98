package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/spf13/cobra"
)

// newLintCmd returns the command parsing a filter list.
func newLintCmd() (cmd *cobra.Command) {
	return &cobra.Command{
		Use:   "lint FILE",
		Short: "Parse a filter list and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, verbose, err := commonFlags(cmd)
			if err != nil {
				return err
			}

			lvl := slog.LevelWarn
			if verbose {
				lvl = slogutil.LevelDebug
			}

			l := slogutil.New(&slogutil.Config{
				Output: cmd.ErrOrStderr(),
				Format: slogutil.FormatDefault,
				Level:  lvl,
			})

			return runLint(cmd.Context(), l, cmd.OutOrStdout(), args[0])
		},
	}
}

// runLint parses the filter list from fileName and writes the statistics into
// w.  The lines that could not be parsed are logged with l at debug level.
func runLint(ctx context.Context, l *slog.Logger, w io.Writer, fileName string) (err error) {
	defer func() { err = errors.Annotate(err, "linting %q: %w", fileName) }()

	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	p := rulelist.NewParser(&rulelist.ParserConfig{
		Logger: l,
		Compiler: filtering.NewCompiler(&filtering.CompilerConfig{
			PatternCacheSize: filtering.DefaultPatternCacheSize,
		}),
	})

	res, err := p.Parse(ctx, f, make([]byte, rulelist.DefaultRuleBufSize))
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	_, err = fmt.Fprintf(
		w,
		"title: %s\nhomepage: %s\nrules: %d\nunsupported: %d\nskipped: %d\nchecksum: %08x\n",
		res.RuleSet.Title(),
		res.RuleSet.Homepage(),
		res.RulesCount,
		res.NoopCount,
		res.SkippedCount,
		res.Checksum,
	)

	return err
}
