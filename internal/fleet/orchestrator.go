package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/payload"
	"github.com/tastythames/fleetsync/internal/scheduler"
	"github.com/tastythames/fleetsync/internal/transfer"
)

// CommandTimeout bounds short remote commands (mkdir, notify, restart).
const CommandTimeout = 30 * time.Second

type Options struct {
	Remote Remote
	Copier Copier
	// LookPath resolves local tools for strategy selection; nil means
	// exec.LookPath.
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

// Orchestrator runs one sync mode across the configured satellites.
type Orchestrator struct {
	remote   Remote
	copier   Copier
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		remote:   opts.Remote,
		copier:   opts.Copier,
		lookPath: opts.LookPath,
		logger:   logger,
	}
}

// run is the per-run wiring, fixed before any node work begins.
type run struct {
	units     []payload.Unit
	strategy  transfer.Strategy
	restart   bool
	prober    *Prober
	pusher    *Pusher
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// Run syncs mode to every enabled satellite in inv. A disabled mode or an
// empty fleet is a no-op result, not an error. The only error is a local
// precondition failure (ErrLocalSourceMissing), returned before any node is
// contacted. Remote failures are recorded on the node outcomes.
//
// Cancelling ctx stops nodes that have not started yet; commands already in
// flight run to completion or to their own timeouts.
func (o *Orchestrator) Run(ctx context.Context, inv *inventory.Inventory, mode inventory.Mode) (Result, error) {
	logger := o.logger.With("mode", mode)
	res := Result{Mode: mode, StartedAt: time.Now()}

	nodes := inv.EnabledNodes(mode, logger)
	if len(nodes) == 0 {
		res.Disabled = !inv.Enabled(mode)
		if !res.Disabled {
			logger.Info("no satellites configured")
		}
		return res, nil
	}

	units, err := payload.Prepare(payload.ForMode(inv, mode), logger)
	if err != nil {
		logger.Error("aborting run", "error", err)
		return Result{}, err
	}
	for _, u := range units {
		if fp, err := payload.Fingerprinted(u); err == nil {
			logger.Info("payload unit ready", "unit", u, "source", u.LocalPath, "content", fp)
		} else {
			logger.Warn("could not fingerprint payload unit", "unit", u, "error", err)
		}
	}

	strategy := transfer.Select(o.lookPath)
	if strategy.Prunes() {
		logger.Info("transfer strategy selected", "strategy", strategy)
	} else {
		logger.Warn("rsync not found, using recursive copy: files deleted locally will remain on satellites",
			"strategy", strategy)
	}

	r := &run{
		units:     units,
		strategy:  strategy,
		restart:   inv.RestartAfterSync(mode),
		prober:    NewProber(o.remote, 2*inv.SSH.ConnectTimeout, logger),
		pusher:    NewPusher(o.remote, o.copier, CommandTimeout, inv.TransferTimeout, logger),
		lifecycle: NewLifecycle(o.remote, inv.Lifecycle, CommandTimeout, logger),
		logger:    logger,
	}

	logger.Info("starting fleet sync", "satellites", len(nodes), "units", len(units), "restart", r.restart)

	jobs := make([]scheduler.Job, len(nodes))
	for i, n := range nodes {
		jobs[i] = scheduler.Job{Index: i, Node: n}
	}

	workers := min(inv.MaxFanout, len(nodes), inventory.MaxSatellites)
	pool := scheduler.NewPool(scheduler.Options{Workers: workers})

	// In-flight remote work must not be cut off mid-transfer by the caller.
	work := context.WithoutCancel(ctx)
	store := newOutcomeStore()
	pool.Run(ctx, jobs,
		func(j scheduler.Job) { store.Set(j.Index, r.syncNode(work, j.Node)) },
		func(j scheduler.Job) {
			logger.Warn("run cancelled before node started", "node", j.Node)
			store.Set(j.Index, NodeOutcome{Node: j.Node, State: Cancelled})
		},
	)

	res.Strategy = strategy
	res.TotalNodes = len(nodes)
	res.Outcomes = store.Ordered(len(nodes))
	for _, oc := range res.Outcomes {
		if oc.Succeeded() {
			res.SucceededNodes++
		}
	}
	res.Duration = time.Since(res.StartedAt)

	started, skipped := pool.Stats()
	logger.Info("fleet sync finished",
		"succeeded", res.SucceededNodes, "total", res.TotalNodes,
		"started", started, "skipped", skipped,
		"took", res.Duration.Round(time.Millisecond))
	return res, nil
}

// syncNode drives one node to a terminal state.
func (r *run) syncNode(ctx context.Context, node inventory.Node) NodeOutcome {
	start := time.Now()
	out := NodeOutcome{Node: node, State: Probing}

	if !r.prober.Probe(ctx, node) {
		out.State = Unreachable
		r.logger.Warn("cannot connect to satellite", "node", node)
		out.Duration = time.Since(start)
		return out
	}
	out.Reachable = true
	out.State = Pushing

	failed := false
	for i, u := range r.units {
		ur := r.pusher.Push(ctx, node, u, r.strategy)
		out.Units = append(out.Units, ur)
		if ur.Succeeded {
			continue
		}
		failed = true
		// Nothing after the settings file is valid without it.
		if u.Kind == payload.SettingsFile {
			for _, rest := range r.units[i+1:] {
				out.Units = append(out.Units, UnitResult{Unit: rest, Skipped: true})
			}
			break
		}
	}
	if failed {
		out.State = PartialFailure
		r.logger.Error("partial failure, not restarting", "node", node, "failed_units", out.FailedUnits())
		out.Duration = time.Since(start)
		return out
	}

	out.State = AllPushed
	if r.restart {
		out.State = Restarting
		out.Notified, out.RestartScheduled = r.lifecycle.NotifyAndRestart(ctx, node)
	}
	out.State = Done
	r.logger.Info("satellite updated", "node", node)
	out.Duration = time.Since(start)
	return out
}
