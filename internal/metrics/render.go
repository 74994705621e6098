package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tastythames/fleetsync/internal/fleet"
)

// Renderer writes a run result in the Prometheus text exposition format,
// for node_exporter's textfile collector.
type Renderer struct {
	Result fleet.Result
}

func NewRenderer(res fleet.Result) *Renderer {
	return &Renderer{Result: res}
}

func (r *Renderer) Write(w io.Writer) {
	res := r.Result
	run := map[string]string{"mode": string(res.Mode)}

	// ---------------------------------------------------
	// Run-level metrics
	// ---------------------------------------------------
	gauge(w, MetricLastRunTimestamp, "Unix timestamp of the last sync run.")
	fmt.Fprintf(w, "%s%s %d\n", MetricLastRunTimestamp, formatLabels(run), res.StartedAt.Unix())

	gauge(w, MetricLastRunDuration, "Duration of the last sync run.")
	fmt.Fprintf(w, "%s%s %.3f\n", MetricLastRunDuration, formatLabels(run), res.Duration.Seconds())

	gauge(w, MetricNodesTotal, "Satellites attempted in the last run.")
	fmt.Fprintf(w, "%s%s %d\n", MetricNodesTotal, formatLabels(run), res.TotalNodes)

	gauge(w, MetricNodesSucceeded, "Satellites fully updated in the last run.")
	fmt.Fprintf(w, "%s%s %d\n", MetricNodesSucceeded, formatLabels(run), res.SucceededNodes)

	gauge(w, MetricRunMirror, "1 if the last run mirrored (pruning stale files), 0 for recursive copy.")
	fmt.Fprintf(w, "%s%s %d\n", MetricRunMirror, formatLabels(run), boolValue(res.Strategy.Prunes()))

	if len(res.Outcomes) == 0 {
		return
	}

	// ---------------------------------------------------
	// Node metrics
	// ---------------------------------------------------
	gauge(w, MetricNodeReachable, "1 if the satellite answered the probe.")
	gauge(w, MetricNodeSucceeded, "1 if every payload unit reached the satellite.")
	gauge(w, MetricNodeFailedUnits, "Payload units that failed to transfer.")
	gauge(w, MetricNodeRestartScheduled, "1 if a restart was dispatched to the satellite.")
	gauge(w, MetricNodeDuration, "Time spent syncing the satellite.")

	outcomes := append([]fleet.NodeOutcome(nil), res.Outcomes...)
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Node.Address < outcomes[j].Node.Address
	})

	for _, o := range outcomes {
		labels := map[string]string{
			"mode":  string(res.Mode),
			"node":  o.Node.Address,
			"state": o.State.String(),
		}
		l := formatLabels(labels)
		fmt.Fprintf(w, "%s%s %d\n", MetricNodeReachable, l, boolValue(o.Reachable))
		fmt.Fprintf(w, "%s%s %d\n", MetricNodeSucceeded, l, boolValue(o.Succeeded()))
		fmt.Fprintf(w, "%s%s %d\n", MetricNodeFailedUnits, l, o.FailedUnits())
		fmt.Fprintf(w, "%s%s %d\n", MetricNodeRestartScheduled, l, boolValue(o.RestartScheduled))
		fmt.Fprintf(w, "%s%s %.3f\n", MetricNodeDuration, l, o.Duration.Seconds())
	}
}

// WriteFile replaces path atomically so the collector never reads a
// partial file.
func (r *Renderer) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fleetsync-*.prom")
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	r.Write(tmp)
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename metrics file: %w", err)
	}
	return nil
}

func gauge(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatLabels(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `%s="%s"`, k, escapeLabel(m[k]))
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(v)
}
