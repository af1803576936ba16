// Package version exposes build metadata injected through -ldflags:
//
//	go build -ldflags "-X github.com/kstaniek/go-rfid-alarm/internal/version.Version=1.2.0 \
//	  -X github.com/kstaniek/go-rfid-alarm/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Short returns only the version string.
func Short() string { return Version }

// Full returns the version with commit and build time.
func Full() string {
	return fmt.Sprintf("alarmd %s (commit %s, built %s)", Version, Commit, BuildTime)
}

// AttachCobraVersionCommand adds a `version` subcommand to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())
		},
	})
}
