package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/payload"
	"github.com/tastythames/fleetsync/internal/sshclient"
	"github.com/tastythames/fleetsync/internal/transfer"
)

// ErrLocalSourceMissing is returned by Run when a payload source is absent.
// No satellite has been contacted when it is returned.
var ErrLocalSourceMissing = payload.ErrLocalSourceMissing

// Remote runs shell commands on a satellite. *sshclient.Client satisfies it.
type Remote interface {
	Run(ctx context.Context, host, user string, cmd sshclient.Command) (string, error)
}

// Copier moves payload onto a satellite. *transfer.Copier satisfies it.
type Copier interface {
	CopyTree(ctx context.Context, s transfer.Strategy, srcDir string, dst transfer.Destination) error
	CopyFile(ctx context.Context, s transfer.Strategy, srcFile string, dst transfer.Destination) error
}

// State is where a node is in its sync.
//
//	Pending -> Probing -> Unreachable
//	                   -> Pushing -> PartialFailure
//	                              -> AllPushed -> Restarting -> Done
//
// Cancelled marks nodes that never started because the run was cancelled.
type State int

const (
	Pending State = iota
	Probing
	Unreachable
	Pushing
	PartialFailure
	AllPushed
	Restarting
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Probing:
		return "probing"
	case Unreachable:
		return "unreachable"
	case Pushing:
		return "pushing"
	case PartialFailure:
		return "partial-failure"
	case AllPushed:
		return "all-pushed"
	case Restarting:
		return "restarting"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type UnitResult struct {
	Unit      payload.Unit
	Succeeded bool
	// Skipped units were never attempted.
	Skipped bool
	Err     string
}

// NodeOutcome is the final record of one node in one run.
type NodeOutcome struct {
	Node             inventory.Node
	State            State
	Reachable        bool
	Units            []UnitResult
	Notified         bool
	RestartScheduled bool
	Duration         time.Duration
}

func (o NodeOutcome) Succeeded() bool { return o.State == Done }

// FailedUnits counts attempted units that did not transfer.
func (o NodeOutcome) FailedUnits() int {
	n := 0
	for _, u := range o.Units {
		if !u.Succeeded && !u.Skipped {
			n++
		}
	}
	return n
}

// Result summarizes a run for the caller.
type Result struct {
	Mode     inventory.Mode
	Strategy transfer.Strategy
	// Disabled is set when the mode is switched off in the config.
	Disabled bool

	TotalNodes     int
	SucceededNodes int
	Outcomes       []NodeOutcome

	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether at least one node was updated.
func (r Result) OK() bool { return r.SucceededNodes > 0 }

// NoOp reports a run that had nothing to do.
func (r Result) NoOp() bool { return r.TotalNodes == 0 }

// Summary is the single operator-facing line for the run.
func (r Result) Summary() string {
	switch {
	case r.Disabled:
		return fmt.Sprintf("%s sync disabled", r.Mode)
	case r.TotalNodes == 0:
		return "no satellites configured"
	case r.SucceededNodes == 0:
		return fmt.Sprintf("all %d satellite(s) failed", r.TotalNodes)
	default:
		return fmt.Sprintf("updated %d of %d satellite(s)", r.SucceededNodes, r.TotalNodes)
	}
}
