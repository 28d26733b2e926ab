package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/livinlefevreloca/originator/internal/db"
)

const timeLayout = "2006-01-02 15:04:05"

// HistoryPrinter renders recorded runs.
type HistoryPrinter struct {
	w io.Writer
}

func NewHistoryPrinter(w io.Writer) *HistoryPrinter {
	return &HistoryPrinter{w: w}
}

// PrintRuns lists runs, one row each.
func (p *HistoryPrinter) PrintRuns(runs []db.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, "No runs recorded.")
		return nil
	}

	table := tablewriter.NewWriter(p.w)
	table.Header("Run", "Status", "Started", "Duration", "Files", "Finished", "Failed", "Crashed")
	for _, run := range runs {
		err := table.Append(
			run.RunID,
			run.Status,
			run.StartedAt.Local().Format(timeLayout),
			duration(run),
			strconv.Itoa(run.TotalFiles),
			strconv.Itoa(run.FinishedFiles),
			strconv.Itoa(run.FailedFiles),
			strconv.Itoa(run.CrashedFiles),
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintRun shows one run and the per-file results recorded for it.
func (p *HistoryPrinter) PrintRun(run *db.Run, results []db.TaskResult) error {
	fmt.Fprintf(p.w, "Run:      %s\n", run.RunID)
	fmt.Fprintf(p.w, "Status:   %s\n", run.Status)
	fmt.Fprintf(p.w, "Source:   %s\n", run.SourceTree)
	if run.SourceRevision != nil {
		fmt.Fprintf(p.w, "Revision: %s\n", *run.SourceRevision)
	}
	fmt.Fprintf(p.w, "Started:  %s\n", run.StartedAt.Local().Format(timeLayout))
	fmt.Fprintf(p.w, "Duration: %s\n", duration(*run))
	fmt.Fprintf(p.w, "Files:    %d finished, %d failed, %d crashed of %d\n",
		run.FinishedFiles, run.FailedFiles, run.CrashedFiles, run.TotalFiles)
	if run.Error != nil {
		fmt.Fprintf(p.w, "Error:    %s\n", *run.Error)
	}

	if len(results) == 0 {
		return nil
	}

	fmt.Fprintln(p.w)
	table := tablewriter.NewWriter(p.w)
	table.Header("File", "Status", "Host", "Worker", "Failures")
	for _, r := range results {
		if err := table.Append(r.Filename, r.Status, r.Hostname, r.WorkerID, strings.Join(r.Failures, "\n")); err != nil {
			return err
		}
	}
	return table.Render()
}

func duration(run db.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
