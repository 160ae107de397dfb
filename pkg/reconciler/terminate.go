package reconciler

import (
	"sort"
	"time"

	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/types"
)

// terminateForConfigConstraints decides, per worker, whether to keep it,
// terminate it now, or defer the decision to idle/outdated checks — the
// same three-way split cluster_scaler.py's
// terminate_nodes_to_enforce_config_constraints makes, then tops off with
// a tail termination pass if max_workers is still exceeded afterward.
func (r *Reconciler) terminateForConfigConstraints(cfg *types.ClusterConfig, view *nodeView, now time.Time) {
	if len(view.Workers) == 0 {
		return
	}

	workers := mruSorted(view.Workers)
	protected := r.protectedSet(cfg, workers)

	byReason := make(map[string][]*types.Node)
	var eligible []*types.Node
	countsSoFar := make(map[string]int)
	terminatedCount := 0

	for _, w := range workers {
		decision := keepOrTerminate(cfg, w, countsSoFar)

		switch decision {
		case types.Terminate:
			byReason["node type removed or over capacity"] = append(byReason["node type removed or over capacity"], w)
			terminatedCount++
			continue
		case types.Keep:
			countsSoFar[w.NodeType]++
			continue
		}

		// decide_later: a protected, launch-config-current node is kept
		// outright; otherwise fall through to idle/outdated checks.
		if protected[w.ID] && launchConfigOK(cfg, w) {
			countsSoFar[w.NodeType]++
			continue
		}

		if isOutdated(cfg, w) {
			byReason["outdated"] = append(byReason["outdated"], w)
			terminatedCount++
			continue
		}
		if isIdle(cfg, w, now) {
			byReason["idle"] = append(byReason["idle"], w)
			terminatedCount++
			continue
		}

		countsSoFar[w.NodeType]++
		eligible = append(eligible, w)
	}

	surplus := len(workers) - terminatedCount - cfg.MaxWorkers
	if cfg.MaxWorkers > 0 && surplus > 0 {
		if surplus > len(eligible) {
			r.logger.Warn().Int("surplus", surplus).Int("eligible", len(eligible)).
				Msg("worker surplus exceeds eligible-for-termination nodes; terminating what is eligible")
			surplus = len(eligible)
		}
		// eligible is in MRU-iteration order, so its tail holds the
		// most-least-recently-used nodes — terminate from there.
		byReason["max_workers exceeded"] = append(byReason["max_workers exceeded"], eligible[len(eligible)-surplus:]...)
	}

	for reason, nodes := range byReason {
		if len(nodes) == 0 {
			continue
		}
		r.batchTerminate(nodes, reason)
	}
}

// mruSorted returns workers ordered most-recently-used first. Nodes with a
// zero LastUsed sort last; ties break by node ID for determinism.
func mruSorted(workers []*types.Node) []*types.Node {
	out := make([]*types.Node, len(workers))
	copy(out, workers)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastUsed.IsZero() != b.LastUsed.IsZero() {
			return !a.LastUsed.IsZero()
		}
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return a.ID < b.ID
	})
	return out
}

// keepOrTerminate implements the per-node decision cluster_scaler.py makes
// before idle/outdated checks run: a node whose type was dropped from the
// config, or that would push its type over max_workers_per_type, is
// terminated outright; a node that keeps its type within min_workers is
// kept outright; everything else is decided later.
func keepOrTerminate(cfg *types.ClusterConfig, node *types.Node, countsSoFar map[string]int) types.KeepOrTerminate {
	nt, ok := cfg.AvailableNodeTypes[node.NodeType]
	if !ok {
		return types.Terminate
	}
	count := countsSoFar[node.NodeType]
	if nt.MaxWorkers > 0 && count+1 > nt.MaxWorkers {
		return types.Terminate
	}
	limit := nt.MinWorkers
	if nt.MaxWorkers > 0 && nt.MaxWorkers < limit {
		limit = nt.MaxWorkers
	}
	if count+1 <= limit {
		return types.Keep
	}
	return types.DecideLater
}

// launchConfigOK reports whether node's recorded launch-config hash
// matches the currently configured hash for its type, or whether that
// type has disabled the check entirely. disable_launch_config_check only
// suppresses the check for types still present in the configuration; a
// node whose type was removed is handled by keepOrTerminate's
// not-in-available-node-types path, never by this function.
func launchConfigOK(cfg *types.ClusterConfig, node *types.Node) bool {
	nt, ok := cfg.AvailableNodeTypes[node.NodeType]
	if !ok {
		return false
	}
	if nt.DisableLaunchCheck {
		return true
	}
	want := cfg.LaunchConfigHash[node.NodeType]
	return node.Tags[types.TagLaunchConfigHash] == want
}

func isOutdated(cfg *types.ClusterConfig, node *types.Node) bool {
	return !launchConfigOK(cfg, node)
}

func isIdle(cfg *types.ClusterConfig, node *types.Node, now time.Time) bool {
	if node.LastUsed.IsZero() || cfg.IdleTimeoutMinutes <= 0 {
		return false
	}
	idleFor := now.Sub(node.LastUsed)
	return idleFor > time.Duration(cfg.IdleTimeoutMinutes*float64(time.Minute))
}

// protectedSet bin-packs the most recent resource_requests in MRU node
// order and marks every node that absorbed part of a request, so
// terminateForConfigConstraints never tears down a node actively serving
// an explicit request even if it would otherwise be idle or outdated. It
// duplicates scheduler.BinPackResidual's greedy placement loop rather than
// reusing it directly because it needs the placement index per bundle,
// which the exported function does not return.
func (r *Reconciler) protectedSet(cfg *types.ClusterConfig, mruWorkers []*types.Node) map[string]bool {
	requests := r.loadMetrics.ResourceRequests()
	protected := make(map[string]bool)
	if len(requests) == 0 {
		return protected
	}

	caps := make([]types.ResourceBundle, len(mruWorkers))
	for i, w := range mruWorkers {
		if nt, ok := cfg.AvailableNodeTypes[w.NodeType]; ok {
			caps[i] = nt.Resources.Clone()
		} else {
			caps[i] = types.ResourceBundle{}
		}
	}

	for _, bundle := range requests {
		if bundle.IsZero() {
			continue
		}
		for i, capacity := range caps {
			if bundle.Fits(capacity) {
				caps[i] = capacity.Sub(bundle)
				protected[mruWorkers[i].ID] = true
				break
			}
		}
	}
	return protected
}

// batchTerminate asks the provider to terminate every node in one call,
// then cleans up local bookkeeping regardless of per-node provider state,
// since a terminated node is gone from the fleet either way.
func (r *Reconciler) batchTerminate(nodes []*types.Node, reason string) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	if err := r.provider.TerminateNodes(ids); err != nil {
		r.logger.Error().Err(err).Strs("node_ids", ids).Msg("failed to terminate nodes")
	}

	byType := make(map[string]int)
	for _, n := range nodes {
		byType[n.NodeType]++
		r.tracker.Untrack(n.ID)
		r.updatePool.Cancel(n.ID)
		delete(r.updateFailed, n.ID)
		delete(r.priorSuccess, n.ID)
		delete(r.failureCount, n.ID)
		metrics.TerminationsTotal.WithLabelValues(reason).Inc()
	}
	for nodeType, count := range byType {
		r.events.Add("terminating %d "+nodeType+" nodes ("+reason+")", count)
	}
}
