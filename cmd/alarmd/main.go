package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call gets its own flag storage so
// tests can run commands side by side.
func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "alarmd",
		Short: "RFID badge alarm controller",
		Long: `alarmd arms with a switch press, disarms with an enrolled RFID badge and,
while armed, watches two PIR motion sensors. Intrusions and repeated unknown
badges capture camera stills and send them by mail.

When the badge list is missing or empty the controller starts in enrollment
mode: present each badge to the reader, then press the switch to finish.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, configPath, false)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "Path to the YAML configuration file")
	bindFlags(root.PersistentFlags(), config.Default())

	root.AddCommand(&cobra.Command{
		Use:   "enroll",
		Short: "Learn badges into the registry, then run",
		Long: `Start in enrollment mode even if badges are already enrolled. New badges
are appended to the registry file; press the switch to finish and start the
controller.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, configPath, true)
		},
	})

	var show bool
	badges := &cobra.Command{
		Use:          "badges",
		Short:        "List enrolled badges",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return listBadges(cmd.OutOrStdout(), cfg.Registry, show)
		},
	}
	badges.Flags().BoolVar(&show, "show", false, "Print full ids instead of masked ones")
	root.AddCommand(badges)

	root.AddCommand(&cobra.Command{
		Use:   "test-alert [label]",
		Short: "Capture the cameras and send one alert mail",
		Long: `Run the notification path once, synchronously, to check camera commands
and mail delivery. The label becomes the mail subject (default "Alarm").`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			label := "Alarm"
			if len(args) == 1 {
				label = args[0]
			}
			l := setupLogger(cfg.LogFormat, cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return testAlert(ctx, cfg, label, l)
		},
	})

	version.AttachCobraVersionCommand(root)
	return root
}

func runCommand(cmd *cobra.Command, configPath string, forceEnroll bool) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		cmd.PrintErrln("configuration error:", err)
		return err
	}
	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, l, forceEnroll); err != nil {
		l.Error("alarmd_failed", "error", err)
		return err
	}
	return nil
}
