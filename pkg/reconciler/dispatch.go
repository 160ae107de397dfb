package reconciler

import (
	"time"

	"github.com/cuemby/clusterscaler/pkg/types"
	"github.com/cuemby/clusterscaler/pkg/updater"
)

// canUpdate reports whether a node is eligible to receive a new updater
// task: no updater already running against it, its launch config is
// current, and it has not already failed an update this process lifetime
// (Open Question: no-retry-within-process-lifetime, see DESIGN.md).
func (r *Reconciler) canUpdate(cfg *types.ClusterConfig, node *types.Node) bool {
	if r.updatePool.IsRunning(node.ID) {
		return false
	}
	if !launchConfigOK(cfg, node) {
		return false
	}
	if r.updateFailed[node.ID] {
		return false
	}
	return true
}

func (r *Reconciler) filesUpToDate(cfg *types.ClusterConfig, node *types.Node) bool {
	return node.Tags[types.TagRuntimeConfigHash] == cfg.RuntimeConfigHash &&
		node.Tags[types.TagFileMountsContentsHash] == cfg.FileMountsContentsHash
}

// dispatchUpdaters starts an updater task for every worker that needs one:
// not already up to date, or whose file mounts/runtime config drifted.
func (r *Reconciler) dispatchUpdaters(cfg *types.ClusterConfig, view *nodeView) {
	for _, w := range view.Workers {
		if !r.canUpdate(cfg, w) {
			continue
		}
		needsUpdate := w.Status != types.StatusUpToDate || !r.filesUpToDate(cfg, w)
		if !needsUpdate {
			continue
		}

		task := updater.Task{
			NodeID:                 w.ID,
			IP:                     w.IP,
			RuntimeConfigHash:      cfg.RuntimeConfigHash,
			FileMountsContentsHash: cfg.FileMountsContentsHash,
		}

		firstTime := w.Status == types.StatusUninitialized || w.Status == ""
		switch {
		case firstTime:
			task.SyncCommand = []string{"rsync"}
			task.SetupCommand = cfg.WorkerSetupCommands
			task.StartCommand = cfg.WorkerStartCommands
		case cfg.RestartOnly:
			task.SkipSync = true
			task.SkipSetup = true
			task.StartCommand = cfg.WorkerStartCommands
		case cfg.NoRestart && r.priorSuccess[w.ID]:
			task.SyncCommand = []string{"rsync"}
			task.SetupCommand = cfg.WorkerSetupCommands
			task.SkipStart = true
		default:
			task.SyncCommand = []string{"rsync"}
			task.SetupCommand = cfg.WorkerSetupCommands
			task.StartCommand = cfg.WorkerStartCommands
		}

		if r.updatePool.Start(task) {
			r.tracker.Track(w.ID, w.IP, w.NodeType)
			r.events.Add("dispatching update to %d "+w.NodeType+" nodes", 1)
		}
	}
}

// heartbeatUnhealth emits a rate-limited event for every worker whose last
// heartbeat is older than heartbeat_timeout_seconds; it does not change the
// load-metrics view for such a worker. A node that has never sent a
// heartbeat but reports up-to-date status is marked active this tick as a
// grace, since it may simply not have reported yet.
func (r *Reconciler) heartbeatUnhealth(cfg *types.ClusterConfig, view *nodeView, now time.Time) {
	timeout := time.Duration(cfg.HeartbeatTimeoutSeconds * float64(time.Second))
	for _, w := range view.Workers {
		if w.IP == "" {
			continue
		}
		if w.LastHeartbeat.IsZero() {
			if w.Status == types.StatusUpToDate {
				r.loadMetrics.MarkActive(w.IP, now)
			}
			continue
		}
		if now.Sub(w.LastHeartbeat) >= timeout {
			r.events.AddOncePerInterval("heartbeat-timeout-"+w.ID, "worker "+w.ID+" has not sent a heartbeat within the timeout", unfulfilledEventInterval)
		}
	}
}

// heartbeatTerminate is the path taken instead of updater dispatch when
// disable_node_updaters is set: workers that have gone silent are
// terminated outright rather than recovered, since there is no updater
// to re-run against them.
func (r *Reconciler) heartbeatTerminate(cfg *types.ClusterConfig, view *nodeView, now time.Time) {
	timeout := time.Duration(cfg.HeartbeatTimeoutSeconds * float64(time.Second))
	var dead []*types.Node
	for _, w := range view.Workers {
		if w.IP == "" || w.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(w.LastHeartbeat) >= timeout {
			dead = append(dead, w)
		}
	}
	if len(dead) > 0 {
		r.batchTerminate(dead, "lost contact with node")
	}
}

// drainCompletedUpdaters non-blockingly consumes every updater result
// available this tick. A successful update marks the node active; a
// failed update increments its failure count and, if the node still
// appears in the worker set, terminates it right away.
func (r *Reconciler) drainCompletedUpdaters(view *nodeView) {
	byID := make(map[string]*types.Node, len(view.Workers))
	for _, w := range view.Workers {
		byID[w.ID] = w
	}

	for {
		select {
		case result := <-r.updatePool.Results():
			r.handleUpdaterResult(result, byID)
		default:
			return
		}
	}
}

func (r *Reconciler) handleUpdaterResult(result types.UpdaterResult, byID map[string]*types.Node) {
	node, stillPresent := byID[result.NodeID]

	switch result.State {
	case types.UpdaterSucceeded:
		r.priorSuccess[result.NodeID] = true
		delete(r.updateFailed, result.NodeID)
		r.failureCount[result.NodeID] = 0
		if stillPresent && node.IP != "" {
			r.loadMetrics.MarkActive(node.IP, time.Now())
		}
		r.events.Add("%d node updates succeeded", 1)

	case types.UpdaterFailed:
		r.updateFailed[result.NodeID] = true
		r.failureCount[result.NodeID]++
		r.tracker.MarkFailed(result.NodeID, result.Err.Error())
		r.events.Add("%d node updates failed", 1)
		if stillPresent {
			r.batchTerminate([]*types.Node{node}, "launch failed")
		} else {
			r.tracker.Untrack(result.NodeID)
		}
	}
}

// dispatchRecovery runs a start-commands-only updater against any worker
// that is eligible for an update but has gone quiet on heartbeats,
// without redoing file sync or setup — the stripped path
// cluster_scaler.py calls a "recovery" update.
func (r *Reconciler) dispatchRecovery(cfg *types.ClusterConfig, view *nodeView) {
	timeout := time.Duration(cfg.HeartbeatTimeoutSeconds * float64(time.Second))
	now := time.Now()

	for _, w := range view.Workers {
		if !r.canUpdate(cfg, w) {
			continue
		}
		if w.IP == "" || w.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(w.LastHeartbeat) < timeout {
			continue
		}

		task := updater.Task{
			NodeID:                 w.ID,
			IP:                     w.IP,
			StartCommand:           cfg.WorkerStartCommands,
			SkipSync:               true,
			SkipSetup:              true,
			Recovery:               true,
			RuntimeConfigHash:      cfg.RuntimeConfigHash,
			FileMountsContentsHash: cfg.FileMountsContentsHash,
		}
		if r.updatePool.Start(task) {
			r.tracker.Track(w.ID, w.IP, w.NodeType)
			r.events.Add("%d nodes dispatched for recovery", 1)
		}
	}
}
