package fleet

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/payload"
	"github.com/tastythames/fleetsync/internal/sshclient"
	"github.com/tastythames/fleetsync/internal/transfer"
)

type Pusher struct {
	remote          Remote
	copier          Copier
	commandTimeout  time.Duration
	transferTimeout time.Duration
	logger          *slog.Logger
}

func NewPusher(remote Remote, copier Copier, commandTimeout, transferTimeout time.Duration, logger *slog.Logger) *Pusher {
	return &Pusher{
		remote:          remote,
		copier:          copier,
		commandTimeout:  commandTimeout,
		transferTimeout: transferTimeout,
		logger:          logger,
	}
}

// Push transfers one unit to node in a single attempt.
func (p *Pusher) Push(ctx context.Context, node inventory.Node, u payload.Unit, s transfer.Strategy) UnitResult {
	res := UnitResult{Unit: u}

	// mkdir -p is idempotent; a real failure resurfaces in the transfer.
	mctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	out, err := p.remote.Run(mctx, node.Address, node.User, sshclient.CmdMkdir(u.RemotePath))
	cancel()
	if err != nil {
		p.logger.Warn("remote mkdir failed", "node", node, "unit", u, "dir", u.RemotePath,
			"error", err, "output", strings.TrimSpace(out))
	}

	dst := transfer.Destination{User: node.User, Host: node.Address, Path: u.RemotePath}

	tctx, cancel := context.WithTimeout(ctx, p.transferTimeout)
	defer cancel()

	start := time.Now()
	if u.Kind.IsTree() {
		err = p.copier.CopyTree(tctx, s, u.LocalPath, dst)
	} else {
		err = p.copier.CopyFile(tctx, s, u.LocalPath, dst)
	}
	if err != nil {
		res.Err = err.Error()
		p.logger.Error("push failed", "node", node, "unit", u, "strategy", s, "error", err)
		return res
	}

	res.Succeeded = true
	p.logger.Info("pushed", "node", node, "unit", u, "strategy", s, "took", time.Since(start).Round(time.Millisecond))
	return res
}
