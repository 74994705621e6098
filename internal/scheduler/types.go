package scheduler

import "github.com/tastythames/fleetsync/internal/inventory"

// Job is one satellite's sync. Index is its position in the configured
// order, used to put outcomes back in order.
type Job struct {
	Index int
	Node  inventory.Node
}
