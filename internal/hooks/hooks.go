// Package hooks runs operator-supplied scripts around a job run.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Hook names.
const (
	BeforeStartHook   = "before_start"
	AfterCompleteHook = "after_complete"
)

// Config holds the configured hook script paths. Empty means not configured.
type Config struct {
	BeforeStart   string `toml:"before_start" yaml:"before_start" json:"before_start"`
	AfterComplete string `toml:"after_complete" yaml:"after_complete" json:"after_complete"`
}

// Runner runs the script at path for the named hook.
type Runner interface {
	Run(ctx context.Context, hook, path string) error
}

// Handler invokes the configured hooks through a Runner.
type Handler struct {
	config Config
	runner Runner
	logger *slog.Logger
}

// NewHandler creates a hook handler.
func NewHandler(config Config, runner Runner, logger *slog.Logger) *Handler {
	return &Handler{
		config: config,
		runner: runner,
		logger: logger,
	}
}

// BeforeStart runs the before-start script if one is configured.
func (h *Handler) BeforeStart(ctx context.Context) error {
	return h.run(ctx, BeforeStartHook, h.config.BeforeStart)
}

// AfterComplete runs the after-complete script if one is configured.
func (h *Handler) AfterComplete(ctx context.Context) error {
	return h.run(ctx, AfterCompleteHook, h.config.AfterComplete)
}

func (h *Handler) run(ctx context.Context, hook, path string) error {
	if path == "" {
		return nil
	}

	h.logger.Info("running hook", "hook", hook, "path", path)
	if err := h.runner.Run(ctx, hook, path); err != nil {
		return fmt.Errorf("%s hook %s: %w", hook, path, err)
	}
	return nil
}

// ScriptRunner executes hook scripts as subprocesses.
type ScriptRunner struct {
	RunID  string
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes path, exposing the run id and hook name in its environment.
func (r ScriptRunner) Run(ctx context.Context, hook, path string) error {
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(),
		"ORIGINATOR_RUN_ID="+r.RunID,
		"ORIGINATOR_HOOK="+hook,
	)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}
