package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

const (
	daemonConfigFile = "rsyncd.conf"
	daemonPidFile    = "rsync.pid"
)

// Daemon is a read-only rsync daemon exposing one directory to workers.
// It is an owned resource: construct one per host process (or per test).
type Daemon struct {
	dir    string
	port   int
	mount  string
	runner CommandRunner
	signal func(pid int) error
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	workDir string
}

// DaemonOption customizes a Daemon.
type DaemonOption func(*Daemon)

// WithPort overrides the listening port.
func WithPort(port int) DaemonOption {
	return func(d *Daemon) { d.port = port }
}

// WithMount overrides the module name.
func WithMount(mount string) DaemonOption {
	return func(d *Daemon) { d.mount = mount }
}

// WithRunner overrides the command runner used to launch the daemon.
func WithRunner(runner CommandRunner) DaemonOption {
	return func(d *Daemon) { d.runner = runner }
}

// WithSignal overrides how the daemon process is terminated.
func WithSignal(fn func(pid int) error) DaemonOption {
	return func(d *Daemon) { d.signal = fn }
}

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) DaemonOption {
	return func(d *Daemon) { d.logger = logger }
}

// NewDaemon creates a daemon serving dir on the well-known port and mount.
func NewDaemon(dir string, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		dir:    dir,
		port:   DefaultPort,
		mount:  DefaultMount,
		runner: ExecRunner{},
		signal: terminate,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the daemon. Starting a started daemon is a no-op.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	dir, err := filepath.Abs(d.dir)
	if err != nil {
		return fmt.Errorf("resolving served directory: %w", err)
	}

	workDir, err := os.MkdirTemp("", "originator-rsyncd")
	if err != nil {
		return fmt.Errorf("creating daemon work dir: %w", err)
	}

	confPath := filepath.Join(workDir, daemonConfigFile)
	if err := os.WriteFile(confPath, []byte(d.config(dir, workDir)), 0o644); err != nil {
		os.RemoveAll(workDir)
		return fmt.Errorf("writing %s: %w", daemonConfigFile, err)
	}

	_, stderr, _, err := d.runner.Run(ctx, rsyncCommand, "--daemon", "--config", confPath)
	if err != nil {
		os.RemoveAll(workDir)
		return fmt.Errorf("starting rsync daemon: %w: %s", err, strings.TrimSpace(stderr))
	}

	d.workDir = workDir
	d.started = true
	d.logger.Info("rsync daemon started",
		"dir", dir,
		"port", d.port,
		"mount", d.mount)
	return nil
}

// Stop terminates the daemon. Stopping a stopped daemon is a no-op.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(d.workDir, daemonPidFile))
	if err != nil {
		return fmt.Errorf("reading daemon pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("parsing daemon pid %q: %w", raw, err)
	}

	if err := d.signal(pid); err != nil {
		return fmt.Errorf("stopping rsync daemon (pid %d): %w", pid, err)
	}

	os.RemoveAll(d.workDir)
	d.workDir = ""
	d.started = false
	d.logger.Info("rsync daemon stopped", "pid", pid)
	return nil
}

// Started reports whether the daemon is running.
func (d *Daemon) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// WorkDir returns the directory holding the daemon's config and pid file.
func (d *Daemon) WorkDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workDir
}

func (d *Daemon) config(dir, workDir string) string {
	return fmt.Sprintf(`port = %d
pid file = %s

[%s]
  path = %s
  read only = true
  use chroot = false
`, d.port, filepath.Join(workDir, daemonPidFile), d.mount, dir)
}

func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
