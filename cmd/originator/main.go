package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livinlefevreloca/originator/internal/apperrors"
	"github.com/livinlefevreloca/originator/internal/source"
)

func main() {
	os.Exit(run())
}

func run() int {
	// SIGINT and SIGTERM take the same cancellation path.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:           "originator",
		Usage:          "Distribute a source tree to remote workers and follow the job to completion",
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Push the source tree, publish the job and wait for the workers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file (toml, yaml or json)",
						Value:   "originator.toml",
					},
					&cli.StringFlag{
						Name:  "env",
						Usage: "Environment file loaded before the configuration",
						Value: ".env",
					},
				},
				Action: runAction,
			},
			{
				Name:      "history",
				Usage:     "List recorded runs, or show the file results of one run",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file (toml, yaml or json)",
						Value:   "originator.toml",
					},
					&cli.StringFlag{
						Name:  "env",
						Usage: "Environment file loaded before the configuration",
						Value: ".env",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to list",
						Value: 20,
					},
				},
				Action: historyAction,
			},
			{
				Name:  "serve-source",
				Usage: "Serve a source tree read-only to workers with an rsync daemon",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory to serve",
						Value: ".",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Port the rsync daemon listens on",
						Value: source.DefaultPort,
					},
					&cli.StringFlag{
						Name:  "mount",
						Usage: "rsync module name",
						Value: source.DefaultMount,
					},
				},
				Action: serveSourceAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "originator: %v\n", err)
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}
