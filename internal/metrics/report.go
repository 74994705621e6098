package metrics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tastythames/fleetsync/internal/fleet"
)

// WriteReport prints the summary line followed by one line per satellite.
func WriteReport(w io.Writer, res fleet.Result) {
	fmt.Fprintln(w, res.Summary())
	if res.TotalNodes > 0 && !res.Strategy.Prunes() {
		fmt.Fprintln(w, "note: recursive copy does not remove files deleted at the source")
	}

	for _, o := range res.Outcomes {
		fmt.Fprintf(w, "  %-20s %-16s", o.Node.Address, o.State)
		if o.RestartScheduled {
			fmt.Fprint(w, " restart scheduled")
		}
		if o.Duration > 0 {
			fmt.Fprintf(w, " (%s)", o.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)

		for _, u := range o.Units {
			if u.Succeeded {
				continue
			}
			status := "skipped"
			if !u.Skipped {
				status = "failed: " + firstLine(u.Err)
			}
			fmt.Fprintf(w, "    %s %s\n", u.Unit, status)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
