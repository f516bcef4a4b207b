package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/driftsync/drift/internal/agent"
	"github.com/driftsync/drift/internal/config"
	"github.com/driftsync/drift/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var deleteRemote bool

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the Drift mirroring daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			slog.Info("drift", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			configPath := resolveConfigPath(cmd)
			slog.Info("daemon using config", "path", configPath)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flag("delete-remote").Changed {
				cfg.DeleteRemote = deleteRemote
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			showDriftHeader()

			a, err := agent.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := a.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().BoolVar(&deleteRemote, "delete-remote", false, "Delete remote objects when local files are removed")

	return daemonCmd
}
