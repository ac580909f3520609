package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rari-build/rari-go/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rari",
		Short: "Server-driven component rendering for the web",
		Long: `rari renders server component trees to a streamed wire format
and progressive HTML.

  • Server components execute once on the server
  • Client components serialize as opaque references
  • Suspense boundaries stream their fills as promises settle
  • Hot reload swaps modules without restarting the engine`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		buildCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var rerr *errors.RariError
		if ok := errorAs(err, &rerr); ok {
			fmt.Fprintln(os.Stderr, rerr.Format())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func errorAs(err error, target **errors.RariError) bool {
	for err != nil {
		if re, ok := err.(*errors.RariError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rari %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
