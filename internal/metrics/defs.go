package metrics

const (
	// run-level
	MetricLastRunTimestamp = "fleetsync_last_run_timestamp_seconds"
	MetricLastRunDuration  = "fleetsync_last_run_duration_seconds"
	MetricNodesTotal       = "fleetsync_nodes_total"
	MetricNodesSucceeded   = "fleetsync_nodes_succeeded"
	MetricRunMirror        = "fleetsync_run_strategy_mirror"

	// per node
	MetricNodeReachable        = "fleetsync_node_reachable"
	MetricNodeSucceeded        = "fleetsync_node_succeeded"
	MetricNodeFailedUnits      = "fleetsync_node_failed_units"
	MetricNodeRestartScheduled = "fleetsync_node_restart_scheduled"
	MetricNodeDuration         = "fleetsync_node_sync_duration_seconds"
)
