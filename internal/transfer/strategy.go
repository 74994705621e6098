package transfer

import "os/exec"

// Strategy is how payload units reach a satellite. One strategy is picked
// per run and used for every node and unit in it.
type Strategy int

const (
	// Mirror makes the destination match the source, deleting extraneous
	// destination files.
	Mirror Strategy = iota + 1
	// RecursiveCopy only adds and overwrites. Files removed from the source
	// stay on the destination.
	RecursiveCopy
)

const (
	MirrorTool = "rsync"
	CopyTool   = "scp"
)

func (s Strategy) String() string {
	switch s {
	case Mirror:
		return "mirror"
	case RecursiveCopy:
		return "recursive-copy"
	default:
		return "unknown"
	}
}

// Prunes reports whether stale destination files are removed.
func (s Strategy) Prunes() bool { return s == Mirror }

// Select picks Mirror when the mirroring tool resolves through lookPath and
// RecursiveCopy otherwise. A nil lookPath means exec.LookPath.
func Select(lookPath func(string) (string, error)) Strategy {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(MirrorTool); err == nil {
		return Mirror
	}
	return RecursiveCopy
}
