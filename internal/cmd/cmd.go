// Package cmd is the LinkCheck entry point.  It reads the configuration,
// assembles the services, and sets up signal processing.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/version"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/spf13/cobra"
)

// defaultTimeout is the timeout used for operations where another timeout
// hasn't been defined.
const defaultTimeout = 30 * time.Second

// defaultConfFile is the default path to the configuration file.
const defaultConfFile = "linkcheck.yaml"

// Main is the entry point of LinkCheck.
func Main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(osutil.ExitCodeFailure)
	}

	os.Exit(osutil.ExitCodeSuccess)
}

// newRootCmd returns the root command with all subcommands.
func newRootCmd() (root *cobra.Command) {
	root = &cobra.Command{
		Use:           "linkcheck",
		Short:         "Checks which requests of web pages are blocked by filter lists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfFile, "path to the configuration file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newLintCmd(),
		newVersionCmd(),
	)

	return root
}

// newVersionCmd returns the command printing the version.
func newVersionCmd() (cmd *cobra.Command) {
	cmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}

			if verbose {
				_, err = fmt.Fprint(cmd.OutOrStdout(), version.Verbose())
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "LinkCheck %s\n", version.Version())
			}

			return err
		},
	}

	return cmd
}
