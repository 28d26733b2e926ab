package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/jobstate"
	"github.com/livinlefevreloca/originator/internal/testutil"
)

func TestProgressView_CountsTerminalTasks(t *testing.T) {
	var buf bytes.Buffer
	state := jobstate.New([]string{"a.rb", "b.rb", "c.rb"})
	view := NewProgressView(&buf, state.Total(), testutil.NewTestLogger().Logger())
	state.AddObserver(view)

	require.NoError(t, state.FileStarted(jobstate.FileEvent{Filename: "a.rb", Hostname: "h1"}))
	assert.Equal(t, int64(0), view.Current())

	require.NoError(t, state.FileFinished(jobstate.FileEvent{Filename: "a.rb", Hostname: "h1"}))
	assert.Equal(t, int64(1), view.Current())

	require.NoError(t, state.FileStarted(jobstate.FileEvent{Filename: "b.rb", Hostname: "h2"}))
	require.NoError(t, state.JobCrashMessage(jobstate.CrashEvent{Hostname: "h2", Message: "oom"}))
	// The crash completes the job, which finishes the bar.
	assert.GreaterOrEqual(t, view.Current(), int64(2))

	assert.NotEmpty(t, buf.String())
}

func TestFailuresPrinter_NoFailures(t *testing.T) {
	var buf bytes.Buffer
	state := jobstate.New([]string{"a.rb"})
	require.NoError(t, state.FileFinished(jobstate.FileEvent{Filename: "a.rb"}))

	require.NoError(t, NewFailuresPrinter(&buf, false).Print(state))
	assert.Contains(t, buf.String(), "1 of 1 files finished, no failures")
}

func TestFailuresPrinter_FailedFilesAndCrashedHosts(t *testing.T) {
	var buf bytes.Buffer
	state := jobstate.New([]string{"a.rb", "b.rb", "c.rb"})
	require.NoError(t, state.FileFinished(jobstate.FileEvent{
		Filename: "a.rb",
		Hostname: "h1",
		Failed:   true,
		Failures: []string{"expected true got false"},
	}))
	require.NoError(t, state.FileStarted(jobstate.FileEvent{Filename: "b.rb", Hostname: "h2"}))
	require.NoError(t, state.JobCrashMessage(jobstate.CrashEvent{
		Hostname: "h2",
		Message:  "worker died",
		Stderr:   "segmentation fault",
	}))

	require.NoError(t, NewFailuresPrinter(&buf, false).Print(state))

	out := buf.String()
	assert.Contains(t, out, "1 of 3 files finished, 1 failed, 1 crashed")
	assert.Contains(t, out, "Failed files:")
	assert.Contains(t, out, "a.rb")
	assert.Contains(t, out, "expected true got false")
	assert.Contains(t, out, "Crashed hosts:")
	assert.Contains(t, out, "worker died")
	assert.Contains(t, out, "[h2] stderr:\nsegmentation fault")
}

func TestHistoryPrinter_NoRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHistoryPrinter(&buf).PrintRuns(nil))
	assert.Contains(t, buf.String(), "No runs recorded.")
}

func TestHistoryPrinter_Runs(t *testing.T) {
	var buf bytes.Buffer
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	runs := []db.Run{
		{RunID: "run-2", Status: db.RunStatusRunning, StartedAt: started, TotalFiles: 3},
		{RunID: "run-1", Status: db.RunStatusCompleted, StartedAt: started, CompletedAt: &completed,
			TotalFiles: 2, FinishedFiles: 2, FailedFiles: 1},
	}
	require.NoError(t, NewHistoryPrinter(&buf).PrintRuns(runs))

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "run-2")
	assert.Contains(t, out, "1m30s")
}

func TestHistoryPrinter_RunWithResults(t *testing.T) {
	var buf bytes.Buffer
	revision := "abc123"
	runErr := "job cancelled: interrupted"
	run := &db.Run{
		RunID:          "run-1",
		Status:         db.RunStatusCancelled,
		SourceTree:     "rsync://files:43434/src",
		SourceRevision: &revision,
		StartedAt:      time.Now(),
		TotalFiles:     2,
		Error:          &runErr,
	}
	results := []db.TaskResult{
		{RunID: "run-1", Filename: "a.rb", Status: "finished", Hostname: "h1", Failed: true, Failures: []string{"boom"}},
	}

	require.NoError(t, NewHistoryPrinter(&buf).PrintRun(run, results))

	out := buf.String()
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "job cancelled: interrupted")
	assert.Contains(t, out, "a.rb")
	assert.Contains(t, out, "boom")
}
