package fleet

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/sshclient"
)

type Prober struct {
	remote  Remote
	timeout time.Duration
	logger  *slog.Logger
}

func NewProber(remote Remote, timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{remote: remote, timeout: timeout, logger: logger}
}

// Probe reports whether node answers a trivial command within the timeout.
// Every failure, including a wrong reply, is just false.
func (p *Prober) Probe(ctx context.Context, node inventory.Node) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.remote.Run(ctx, node.Address, node.User, sshclient.CmdProbe())
	if err != nil {
		p.logger.Debug("probe failed", "node", node, "error", err)
		return false
	}
	if strings.TrimSpace(out) != sshclient.ProbeReply {
		p.logger.Debug("probe got unexpected reply", "node", node, "output", out)
		return false
	}
	return true
}
