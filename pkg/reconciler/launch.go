package reconciler

import (
	"fmt"

	"github.com/cuemby/clusterscaler/pkg/launcher"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/scheduler"
	"github.com/cuemby/clusterscaler/pkg/types"
)

// planAndDispatchLaunches runs the bin-packing scheduler against the
// fleet's current state and demand, then enqueues every proposed launch
// with the launcher pool. Unfulfilled bundles are logged at most once per
// unfulfilledEventInterval per bundle key so a persistently infeasible
// demand does not spam the log every tick.
func (r *Reconciler) planAndDispatchLaunches(cfg *types.ClusterConfig, view *nodeView) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingDuration)

	existing := make(map[string]int)
	for _, w := range view.Workers {
		existing[w.NodeType]++
	}

	pending := make(map[string]int, len(cfg.AvailableNodeTypes))
	for nodeType := range cfg.AvailableNodeTypes {
		pending[nodeType] = r.launchPool.InFlight(nodeType)
	}

	out := scheduler.Schedule(scheduler.Input{
		NodeTypes:       cfg.AvailableNodeTypes,
		ExistingWorkers: existing,
		Pending:         pending,
		Demands:         r.loadMetrics.ResourceDemands(),
		Requests:        r.loadMetrics.ResourceRequests(),
		MaxWorkers:      cfg.MaxWorkers,
		UpscalingSpeed:  cfg.UpscalingSpeed,
	})

	metrics.UnfulfilledDemandBundles.Set(float64(len(out.Unfulfilled)))

	for _, unfulfilled := range out.Unfulfilled {
		key := fmt.Sprintf("%v:%s", unfulfilled.Bundle, unfulfilled.Reason)
		r.events.AddOncePerInterval(key,
			fmt.Sprintf("resource demand %v unfulfilled (%s)", unfulfilled.Bundle, unfulfilled.Reason),
			unfulfilledEventInterval)
	}

	for nodeType, count := range out.Launches {
		if count <= 0 {
			continue
		}
		tags := map[string]string{
			types.TagKind:             string(types.NodeKindWorker),
			types.TagUserNodeType:     nodeType,
			types.TagStatus:           string(types.StatusUninitialized),
			types.TagLaunchConfigHash: cfg.LaunchConfigHash[nodeType],
		}

		if r.launchPool.Enqueue(launcher.Request{NodeType: nodeType, Tags: tags, Count: count}) {
			r.events.Add("launching %d "+nodeType+" nodes", count)
		}
	}
}
