package originator

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/originator/internal/channel"
	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/jobstate"
	"github.com/livinlefevreloca/originator/internal/observability"
	"github.com/livinlefevreloca/originator/internal/report"
	"github.com/livinlefevreloca/originator/internal/shutdown"
	"github.com/livinlefevreloca/originator/internal/source"
)

// Config is everything the originator needs to know about one run
type Config struct {
	// Resolved, deduplicated files and the patterns they came from
	Files    []string
	Patterns []string

	Connection  channel.ConnectionInfo
	Job         map[string]any
	FileServer  source.FileServer
	SyncExclude []string

	// SourceDir is inspected for the revision published with the job
	SourceDir string

	// Bounds every cancel and cleanup call once the run context is gone
	CancelTimeout time.Duration

	InboxSize        int
	InboxSendTimeout time.Duration
}

// Pusher pushes the source tree to the file server
type Pusher interface {
	Push(ctx context.Context, treePath string, exclude []string) source.SyncResult
}

// Hooks runs the optional lifecycle scripts
type Hooks interface {
	BeforeStart(ctx context.Context) error
	AfterComplete(ctx context.Context) error
}

// History persists the run and its task results
type History interface {
	jobstate.Observer
	Begin(run *db.Run) error
	Finish(summary db.RunSummary) error
}

// Printer renders the end-of-run summary
type Printer interface {
	Print(s report.Summary) error
}

// ObserverFactory builds an observer once the number of files is known
type ObserverFactory func(total int) jobstate.Observer

// Deps are the collaborators of an originator. Only Syncer and Dialer are
// required.
type Deps struct {
	Syncer      Pusher
	Dialer      channel.Dialer
	Hooks       Hooks
	Coordinator *shutdown.Coordinator
	Metrics     *observability.Metrics
	History     History
	Printer     Printer
	Observers   []ObserverFactory

	// Stderr receives operator-facing failure output. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

type noHooks struct{}

func (noHooks) BeforeStart(context.Context) error   { return nil }
func (noHooks) AfterComplete(context.Context) error { return nil }
