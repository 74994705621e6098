//go:build !unix

package transfer

import (
	"context"
	"os/exec"
)

func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
