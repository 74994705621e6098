package transfer

import (
	"context"
)

// Executor runs a local program to completion.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec. The process is killed if ctx ends.
// On Unix it gets its own process group, so a terminal Ctrl-C aimed at
// fleetsync does not cut a transfer off mid-file.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return newCommand(ctx, name, args...).CombinedOutput()
}
