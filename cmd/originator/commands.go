package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v3"

	"github.com/livinlefevreloca/originator/internal/apperrors"
	"github.com/livinlefevreloca/originator/internal/channel/amqp"
	"github.com/livinlefevreloca/originator/internal/config"
	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/fileset"
	"github.com/livinlefevreloca/originator/internal/history"
	"github.com/livinlefevreloca/originator/internal/hooks"
	"github.com/livinlefevreloca/originator/internal/jobstate"
	"github.com/livinlefevreloca/originator/internal/logging"
	"github.com/livinlefevreloca/originator/internal/observability"
	"github.com/livinlefevreloca/originator/internal/originator"
	"github.com/livinlefevreloca/originator/internal/report"
	"github.com/livinlefevreloca/originator/internal/source"
)

const shutdownTimeout = 5 * time.Second

// loadConfig reads the env file and the configuration named by the flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadEnv(cmd.String("env")); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runAction runs one job from the configuration file.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return apperrors.Configuration(fmt.Sprintf("configuring logging: %v", err))
	}
	defer closer.Close()

	files, err := fileset.Resolve(cfg.Files)
	if err != nil {
		return apperrors.Configuration(fmt.Sprintf("resolving files: %v", err))
	}
	if unsynced := fileset.Unsynced(files, cfg.SyncExclude); len(unsynced) > 0 {
		logger.Warn("job files are excluded from the source push",
			"count", len(unsynced),
			"files", unsynced)
	}

	runID := uuid.NewString()
	logger.Info("starting originator", "run_id", runID, "config_file", cmd.String("config"))

	deps := originator.Deps{
		Syncer: source.NewSyncer(".", nil),
		Dialer: amqp.NewDialer(logger),
		Hooks: hooks.NewHandler(cfg.Hooks, hooks.ScriptRunner{
			RunID:  runID,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		}, logger),
		Printer: report.NewFailuresPrinter(os.Stdout, !color.NoColor),
		Logger:  logger,
	}

	if cfg.ShowProgress {
		deps.Observers = append(deps.Observers, func(total int) jobstate.Observer {
			return report.NewProgressView(os.Stderr, total, logger)
		})
	}

	if cfg.Metrics.Enabled {
		metrics, handler, err := observability.NewMetrics(ctx)
		if err != nil {
			return fmt.Errorf("creating metrics: %w", err)
		}
		server := observability.NewServer(cfg.Metrics.Address, cfg.Metrics.Port, handler, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to stop metrics server", "error", err)
			}
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to stop metrics provider", "error", err)
			}
		}()
		deps.Metrics = metrics
	}

	if cfg.History.Enabled {
		database, err := db.OpenWithConfig(cfg.History)
		if err != nil {
			logger.Error("failed to open run history, continuing without it",
				"driver", cfg.History.Driver,
				"error", err)
		} else {
			defer database.Close()
			recorder, err := history.NewRecorder(history.DefaultConfig(), runID, database, logger)
			if err != nil {
				return fmt.Errorf("creating history recorder: %w", err)
			}
			deps.History = recorder
		}
	}

	o := originator.New(runID, originator.Config{
		Files:            files,
		Patterns:         cfg.Files,
		Connection:       cfg.Connection,
		Job:              cfg.Job,
		FileServer:       cfg.FileServer,
		SyncExclude:      cfg.SyncExclude,
		SourceDir:        ".",
		CancelTimeout:    cfg.CancelTimeout.Duration,
		InboxSize:        cfg.Inbox.BufferSize,
		InboxSendTimeout: cfg.Inbox.SendTimeout.Duration,
	}, deps)

	return o.Run(ctx)
}

// historyAction lists recent runs, or shows one run when an id is given.
func historyAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.History.DSN == "" {
		return apperrors.Configuration("history.dsn is required to read run history")
	}

	database, err := db.OpenWithConfig(cfg.History)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer database.Close()

	printer := report.NewHistoryPrinter(os.Stdout)

	if cmd.Args().Len() == 0 {
		runs, err := database.GetRecentRuns(cmd.Int("limit"))
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		return printer.PrintRuns(runs)
	}

	runID := cmd.Args().First()
	run, err := database.GetRun(runID)
	if db.IsNotFound(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}

	results, err := database.GetTaskResults(runID)
	if err != nil {
		return fmt.Errorf("loading results of run %s: %w", runID, err)
	}
	return printer.PrintRun(run, results)
}

// serveSourceAction serves a tree read-only until interrupted.
func serveSourceAction(ctx context.Context, cmd *cli.Command) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	daemon := source.NewDaemon(cmd.String("dir"),
		source.WithPort(cmd.Int("port")),
		source.WithMount(cmd.String("mount")),
		source.WithLogger(logger),
	)
	if err := daemon.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down rsync daemon")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return daemon.Stop(stopCtx)
}
