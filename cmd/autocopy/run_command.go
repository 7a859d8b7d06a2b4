package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"autocopy/internal/config"
	"autocopy/internal/daemon"
	"autocopy/internal/ledger"
	"autocopy/internal/logging"
	"autocopy/internal/workflow"
)

type runFlags struct {
	logFile  string
	logLevel string
	config.Overrides
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autocopy daemon in the foreground",
		Long: "Watch the configured run roots, copy finished runs to the archive host and\n" +
			"move them into the completed or aborted subdirectories. Stops on SIGINT or SIGTERM;\n" +
			"SIGUSR1 sends a status summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), base, ctx.configPath, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.logFile, "log-file", "l", "", "Log file path (default <log_dir>/autocopy_YYMMDD.log, \"-\" for stdout only)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.NoCopy, "no-copy", false, "Never start transfers")
	cmd.Flags().BoolVar(&flags.NoLIMS, "no-lims", false, "Do not query or update the LIMS")
	cmd.Flags().BoolVar(&flags.NoEmail, "no-email", false, "Do not send notifications")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Same as --no-copy --no-lims --no-email")
	return cmd
}

func runDaemon(ctx context.Context, base *config.Config, configPath string, flags runFlags) error {
	cfg := base.WithOverrides(flags.Overrides)
	if level := strings.TrimSpace(flags.logLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, logPath, err := logging.NewFromConfig(cfg, flags.logFile, time.Now())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	sessionID := uuid.NewString()
	logger.Info("autocopy configuration loaded",
		logging.String("config_path", configPath),
		logging.String("log_file", logPath),
		logging.String(logging.FieldSessionID, sessionID),
		logging.Bool("no_copy", cfg.Copy.MaxProcesses == 0),
		logging.Bool("lims_enabled", cfg.LIMS.Enabled),
		logging.Bool("notifications_enabled", cfg.Notifications.Enabled),
	)

	managerOpts := []workflow.ManagerOption{workflow.WithSessionID(sessionID)}
	var daemonOpts []daemon.Option
	store, err := ledger.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "transfer ledger unavailable", "ledger_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "transfer history is not recorded this session"),
		)
	} else {
		defer store.Close()
		managerOpts = append(managerOpts, workflow.WithHistory(store))
		daemonOpts = append(daemonOpts, daemon.WithOrphanMarker(store))
	}

	mgr := workflow.NewManager(cfg, logger, managerOpts...)
	d, err := daemon.New(cfg, logger, mgr, daemonOpts...)
	if err != nil {
		return err
	}
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
