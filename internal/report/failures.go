package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/livinlefevreloca/originator/internal/jobstate"
)

// Summary is the read side of the job state the printer needs.
type Summary interface {
	Total() int
	FinishedCount() int
	CrashedCount() int
	FailedCount() int
	EachFailedFile(fn func(jobstate.Task))
	CrashedHosts() []jobstate.CrashEvent
}

// FailuresPrinter writes the end-of-run summary: counts, failed files with
// their failures, and crashed hosts with their captured output.
type FailuresPrinter struct {
	w     io.Writer
	red   *color.Color
	green *color.Color
}

// NewFailuresPrinter creates a printer. Colour is disabled when colored is false.
func NewFailuresPrinter(w io.Writer, colored bool) *FailuresPrinter {
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	if !colored {
		red.DisableColor()
		green.DisableColor()
	}
	return &FailuresPrinter{w: w, red: red, green: green}
}

// Print renders the summary for s
func (p *FailuresPrinter) Print(s Summary) error {
	if s.FailedCount() == 0 && s.CrashedCount() == 0 && len(s.CrashedHosts()) == 0 {
		p.green.Fprintf(p.w, "\n%d of %d files finished, no failures\n", s.FinishedCount(), s.Total())
		return nil
	}

	p.red.Fprintf(p.w, "\n%d of %d files finished, %d failed, %d crashed\n",
		s.FinishedCount(), s.Total(), s.FailedCount(), s.CrashedCount())

	if s.FailedCount() > 0 {
		fmt.Fprintln(p.w, "\nFailed files:")
		table := tablewriter.NewWriter(p.w)
		table.Header("File", "Host", "Failures")
		var appendErr error
		s.EachFailedFile(func(task jobstate.Task) {
			if appendErr != nil {
				return
			}
			appendErr = table.Append(task.Filename, task.Hostname, strings.Join(task.Failures, "\n"))
		})
		if appendErr != nil {
			return appendErr
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	hosts := s.CrashedHosts()
	if len(hosts) > 0 {
		fmt.Fprintln(p.w, "\nCrashed hosts:")
		table := tablewriter.NewWriter(p.w)
		table.Header("Host", "Message")
		for _, crash := range hosts {
			if err := table.Append(crash.Hostname, crash.Message); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		for _, crash := range hosts {
			if crash.Stdout != "" {
				fmt.Fprintf(p.w, "\n[%s] stdout:\n%s\n", crash.Hostname, crash.Stdout)
			}
			if crash.Stderr != "" {
				fmt.Fprintf(p.w, "\n[%s] stderr:\n%s\n", crash.Hostname, crash.Stderr)
			}
		}
	}

	return nil
}
