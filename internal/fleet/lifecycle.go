package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/sshclient"
)

type Lifecycle struct {
	remote         Remote
	cfg            inventory.LifecycleConfig
	commandTimeout time.Duration
	logger         *slog.Logger
}

func NewLifecycle(remote Remote, cfg inventory.LifecycleConfig, commandTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{remote: remote, cfg: cfg, commandTimeout: commandTimeout, logger: logger}
}

// NotifyAndRestart shows a notice on node and dispatches a delayed kill of
// its host process. The notice is best effort. scheduled only means the
// remote shell accepted the background job; nothing waits for the kill.
func (l *Lifecycle) NotifyAndRestart(ctx context.Context, node inventory.Node) (notified, scheduled bool) {
	if l.cfg.Notify == nil || *l.cfg.Notify {
		cmd := sshclient.CmdNotify(l.cfg.NotifyTitle, l.cfg.NotifyMessage, l.cfg.Grace)
		if _, err := l.run(ctx, node, cmd); err != nil {
			l.logger.Warn("remote notification failed", "node", node, "error", err)
		} else {
			notified = true
		}
	}

	cmd := sshclient.CmdDelayedKill(l.cfg.Process, l.cfg.Grace)
	if _, err := l.run(ctx, node, cmd); err != nil {
		l.logger.Error("restart dispatch failed", "node", node, "error", err)
		return notified, false
	}
	l.logger.Info("restart scheduled", "node", node, "process", l.cfg.Process, "in", l.cfg.Grace)
	return notified, true
}

func (l *Lifecycle) run(ctx context.Context, node inventory.Node, cmd sshclient.Command) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.commandTimeout)
	defer cancel()
	return l.remote.Run(ctx, node.Address, node.User, cmd)
}
