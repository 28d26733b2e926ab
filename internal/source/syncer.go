// Package source makes the local source tree reachable by remote workers.
package source

import (
	"context"
	"strings"
)

const rsyncCommand = "rsync"

var pushOptions = []string{"-azr", "--timeout=5", "--delete"}

// Syncer pushes a local tree to the file-server host.
type Syncer struct {
	sourceDir string
	runner    CommandRunner
}

// NewSyncer creates a syncer for sourceDir. A nil runner uses ExecRunner.
func NewSyncer(sourceDir string, runner CommandRunner) *Syncer {
	if sourceDir == "" {
		sourceDir = "."
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Syncer{sourceDir: sourceDir, runner: runner}
}

// Push copies the tree to treePath honoring the exclusion patterns. A blank
// treePath has nowhere to go and succeeds without running anything.
func (s *Syncer) Push(ctx context.Context, treePath string, exclude []string) SyncResult {
	if strings.TrimSpace(treePath) == "" {
		return SyncResult{Success: true}
	}

	args := make([]string, 0, len(exclude)*2+len(pushOptions)+2)
	for _, pattern := range exclude {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, pushOptions...)
	args = append(args, strings.TrimSuffix(s.sourceDir, "/")+"/", treePath)

	stdout, stderr, exitCode, err := s.runner.Run(ctx, rsyncCommand, args...)
	return SyncResult{
		Success:  err == nil && exitCode == 0,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Command:  commandLine(rsyncCommand, args),
		Err:      err,
	}
}
