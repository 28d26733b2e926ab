package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/livinlefevreloca/originator/internal/apperrors"
)

// Well-known distribution endpoint shared with the worker fleet.
const (
	Protocol     = "rsync"
	DefaultPort  = 43434
	DefaultMount = "src"
)

// FileServer locates the host that serves the source tree to workers.
type FileServer struct {
	Host  string `toml:"host" yaml:"host" json:"host"`
	Port  int    `toml:"port" yaml:"port" json:"port"`
	Mount string `toml:"mount" yaml:"mount" json:"mount"`
}

// FetchURI returns the location workers pull the source tree from.
func FetchURI(fs FileServer) (string, error) {
	if fs.Host == "" {
		return "", apperrors.Configuration("please provide file_server configuration (file_server.host is empty)")
	}

	port := fs.Port
	if port == 0 {
		port = DefaultPort
	}
	mount := fs.Mount
	if mount == "" {
		mount = DefaultMount
	}

	return fmt.Sprintf("%s://%s:%d/%s", Protocol, fs.Host, port, mount), nil
}

// SyncResult is the outcome of a source push.
type SyncResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Command  string
	Err      error
}

// CommandRunner runs an external command to completion and captures its output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Dir string
}

// Run executes name with args. A non-zero exit is reported through exitCode
// and err.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
