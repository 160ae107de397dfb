// Package reconciler runs the scaler's outer control loop.
//
// Each tick it reloads the cluster configuration from disk, observes the
// provider's current fleet, terminates nodes that no longer satisfy the
// configuration (wrong type, over a per-type or cluster-wide cap, outdated
// launch config, idle past the timeout), drains whatever updater results
// completed since the last tick, dispatches node updaters to bring drifted
// or freshly-launched nodes up to date, and finally asks the scheduler to
// plan new launches against observed demand and hands them to the launcher
// pool.
//
// If disable_node_updaters is set in the cluster configuration, the updater
// dispatch/drain/recovery steps are skipped entirely and workers that go
// silent on heartbeats are terminated outright instead of recovered, since
// there is no updater left to re-run against them.
//
// Tick coalescing: if a tick is still running when the next ticker fire
// arrives, the fire is dropped and counted in reconciliation_ticks_skipped_total
// rather than queued, so a slow provider call never builds an unbounded
// backlog of overlapping ticks. Consecutive non-transient tick failures
// count toward max_failures_per_node; transient provider errors (see
// pkg/provider's TransientError) never count against it.
package reconciler
