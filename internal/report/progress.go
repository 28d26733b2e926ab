// Package report renders run progress and the end-of-run failure summary.
package report

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/livinlefevreloca/originator/internal/jobstate"
)

// ProgressView draws a bar of finished files. It is a jobstate.Observer.
type ProgressView struct {
	bar    *progressbar.ProgressBar
	logger *slog.Logger
}

// NewProgressView creates a bar sized to total files
func NewProgressView(w io.Writer, total int, logger *slog.Logger) *ProgressView {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("running"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(0),
	)

	return &ProgressView{bar: bar, logger: logger}
}

// Notify implements jobstate.Observer
func (p *ProgressView) Notify(u jobstate.Update) {
	switch u.Kind {
	case jobstate.UpdateFileFinished:
		p.bar.Describe(describe(u))
		p.add(1)
	case jobstate.UpdateJobCrashed:
		p.bar.Describe(describe(u))
		p.add(len(u.CrashedTasks))
	case jobstate.UpdateJobCancelled:
		p.bar.Describe("cancelled")
		if err := p.bar.Exit(); err != nil {
			p.logger.Debug("progress bar exit failed", "error", err)
		}
		return
	case jobstate.UpdateFileStarted:
		return
	}

	if u.Complete {
		if err := p.bar.Finish(); err != nil {
			p.logger.Debug("progress bar finish failed", "error", err)
		}
	}
}

func (p *ProgressView) add(n int) {
	if n == 0 {
		return
	}
	if err := p.bar.Add(n); err != nil {
		p.logger.Debug("progress bar update failed", "error", err)
	}
}

// Current returns how many files the bar has counted.
func (p *ProgressView) Current() int64 {
	return p.bar.State().CurrentNum
}

func describe(u jobstate.Update) string {
	if u.Crashed > 0 || u.Failed > 0 {
		return fmt.Sprintf("running (%d failed, %d crashed)", u.Failed, u.Crashed)
	}
	return "running"
}
