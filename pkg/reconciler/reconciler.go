// Package reconciler runs the scaler's main control loop: observe the
// provider's node fleet, terminate nodes that no longer satisfy the
// cluster configuration, dispatch node updaters, then plan and enqueue new
// launches. It ties together every other package the way the teacher's
// Reconciler ties together its manager, except where the teacher reconciled
// containers against a desired-state store, this reconciler reconciles
// node count and health against a YAML cluster configuration.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/clusterscaler/pkg/commandrunner"
	"github.com/cuemby/clusterscaler/pkg/config"
	"github.com/cuemby/clusterscaler/pkg/events"
	"github.com/cuemby/clusterscaler/pkg/launcher"
	"github.com/cuemby/clusterscaler/pkg/loadmetrics"
	"github.com/cuemby/clusterscaler/pkg/log"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/provider"
	"github.com/cuemby/clusterscaler/pkg/snapshot"
	"github.com/cuemby/clusterscaler/pkg/tracker"
	"github.com/cuemby/clusterscaler/pkg/types"
	"github.com/cuemby/clusterscaler/pkg/updater"
)

// unfulfilledEventInterval rate-limits how often the same unfulfilled
// demand bundle can trigger a log line, so a persistently infeasible
// demand does not spam the summarizer every tick.
const unfulfilledEventInterval = 30 * time.Second

// Reconciler drives one cluster: a single provider, a single reloadable
// configuration file, and the worker pools built on top of them.
type Reconciler struct {
	configPath string
	provider   provider.NodeProvider
	runner     commandrunner.CommandRunner

	logger zerolog.Logger

	mu     sync.RWMutex
	config *types.ClusterConfig

	tracker     *tracker.Tracker
	events      *events.Summarizer
	launchPool  *launcher.Pool
	updatePool  *updater.Pool
	loadMetrics *loadmetrics.View
	snap        *snapshot.Snapshot

	// updateFailed and priorSuccess track per-node updater history across
	// ticks so dispatchUpdaters and recovery dispatch can make first-time
	// vs repeat decisions without re-deriving them from tags every time.
	updateFailed map[string]bool
	priorSuccess map[string]bool
	failureCount map[string]int

	maxFailures     int
	consecutiveFail int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a reconciler. configPath is reloaded from disk at the start
// of every tick so an operator can edit the cluster config without
// restarting the process.
func New(configPath string, prov provider.NodeProvider, runner commandrunner.CommandRunner, initial *types.ClusterConfig) *Reconciler {
	r := &Reconciler{
		configPath:              configPath,
		provider:                prov,
		runner:                  runner,
		logger:                  log.WithComponent("reconciler"),
		config:                  initial,
		tracker:                 tracker.New(0),
		events:                  events.NewSummarizer(),
		loadMetrics:             loadmetrics.New(),
		snap:                    snapshot.New(),
		updateFailed:            make(map[string]bool),
		priorSuccess:            make(map[string]bool),
		failureCount:            make(map[string]int),
		maxFailures:             initial.MaxFailuresPerNode,
		stopCh:                  make(chan struct{}),
		doneCh:                  make(chan struct{}),
	}
	r.launchPool = launcher.NewPool(prov, initial.MaxConcurrentLaunches, initial.MaxLaunchBatch)
	r.updatePool = updater.NewPool(runner, prov, 100)
	return r
}

// Config returns the currently active cluster configuration.
func (r *Reconciler) Config() *types.ClusterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Snapshot returns the most recently computed fleet snapshot, safe to call
// from an HTTP status handler concurrently with the reconciler loop.
func (r *Reconciler) Snapshot() *snapshot.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Start runs the reconciliation loop until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
	r.updatePool.CancelAll()
	r.launchPool.Stop()
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := time.Duration(r.Config().UpdateIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.tick(); err != nil {
				r.onTickError(err)
			} else {
				r.consecutiveFail = 0
			}
			// A fire that arrived while the tick was running sits buffered
			// in the ticker channel; drop and count it instead of running a
			// second tick back to back.
			select {
			case <-ticker.C:
				metrics.ReconciliationTicksSkippedTotal.Inc()
			default:
			}
			if r.maxFailures > 0 && r.consecutiveFail > r.maxFailures {
				r.logger.Error().Int("consecutive_failures", r.consecutiveFail).
					Msg("too many consecutive reconciliation failures, stopping")
				return
			}
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopping: context cancelled")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) onTickError(err error) {
	if provider.IsTransient(err) {
		r.logger.Warn().Err(err).Msg("transient error during reconciliation, retrying next tick")
		return
	}
	r.consecutiveFail++
	r.logger.Error().Err(err).Int("consecutive_failures", r.consecutiveFail).Msg("reconciliation cycle failed")
}

// tick runs one full reconciliation cycle: reload config, observe, enforce
// config constraints, dispatch/drain updaters, plan launches, flush events.
func (r *Reconciler) tick() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.resetFromConfig()
	cfg := r.Config()
	now := time.Now()

	view, err := r.observe()
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}

	r.terminateForConfigConstraints(cfg, view, now)

	if cfg.DisableNodeUpdaters {
		r.heartbeatTerminate(cfg, view, now)
	} else {
		r.drainCompletedUpdaters(view)
		r.dispatchUpdaters(cfg, view)
		r.heartbeatUnhealth(cfg, view, now)
		r.dispatchRecovery(cfg, view)
	}

	r.planAndDispatchLaunches(cfg, view)

	r.updateSnapshot(view)
	r.events.Flush()
	return nil
}

// resetFromConfig reloads the cluster config file, keeping the previous
// good configuration if the new one fails validation.
func (r *Reconciler) resetFromConfig() {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to reload cluster config, keeping previous configuration")
		return
	}
	r.mu.Lock()
	r.config = cfg
	r.maxFailures = cfg.MaxFailuresPerNode
	r.mu.Unlock()
}

// nodeView is the fleet as observed this tick, split by kind.
type nodeView struct {
	Head      *types.Node
	Workers   []*types.Node
	Unmanaged []*types.Node
}

// observe lists every non-terminated node the provider knows about and
// classifies it by its cloudtik-node-kind tag. A node missing the kind or
// node-type tag is skipped: it has not finished being tagged by a
// launcher's CreateNode call yet. The per-node tag/IP lookups fan out
// across a bounded errgroup, the way a provider backed by a real cloud API
// would want these round-tripped concurrently rather than one at a time.
func (r *Reconciler) observe() (*nodeView, error) {
	ids, err := r.provider.NonTerminatedNodes(nil)
	if err != nil {
		return nil, err
	}

	nodes := make([]*types.Node, len(ids))
	lastHeartbeat := r.loadMetrics.LastHeartbeatTimeByIP()
	lastUsed := r.loadMetrics.LastUsedTimeByIP()

	g := new(errgroup.Group)
	g.SetLimit(16)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			tags, err := r.provider.NodeTags(id)
			if err != nil {
				if err == provider.ErrNodeNotFound {
					return nil
				}
				return err
			}
			kind, hasKind := tags[types.TagKind]
			nodeType, hasType := tags[types.TagUserNodeType]
			if !hasKind || !hasType {
				return nil
			}

			ip, err := r.provider.InternalIP(id)
			if err != nil {
				ip = ""
			}

			node := &types.Node{
				ID:       id,
				IP:       ip,
				NodeType: nodeType,
				Kind:     types.NodeKind(kind),
				Status:   types.NodeStatus(tags[types.TagStatus]),
				Tags:     tags,
			}
			if ip != "" {
				node.LastHeartbeat = lastHeartbeat[ip]
				node.LastUsed = lastUsed[ip]
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := &nodeView{}
	liveIPs := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if node.IP != "" {
			liveIPs[node.IP] = struct{}{}
		}
		switch node.Kind {
		case types.NodeKindHead:
			view.Head = node
		case types.NodeKindWorker:
			view.Workers = append(view.Workers, node)
		default:
			view.Unmanaged = append(view.Unmanaged, node)
		}
	}

	r.loadMetrics.PruneActiveIPs(liveIPs)
	return view, nil
}

// completedUpdateStates are the terminal updater states: a worker in one
// of these is neither active nor still converging.
var completedUpdateStates = map[types.NodeStatus]bool{
	types.StatusUpToDate:     true,
	types.StatusUpdateFailed: true,
}

// updateSnapshot classifies every observed worker as active (load metrics
// has a recorded last-used time for its IP), pending (not active, but its
// status has not reached a terminal up-to-date/update-failed state), or
// otherwise a candidate for the failed-node report — mirroring
// cluster_scaler.py's summary(): an active node is reporting heartbeats, a
// pending node is non-active but still converging, and anything left over
// that the tracker separately knows failed is reported failed.
func (r *Reconciler) updateSnapshot(view *nodeView) {
	snap := snapshot.New()
	byTypeStatus := make(map[[2]string]int)
	nonFailed := make(map[string]struct{}, len(view.Workers))

	for _, w := range view.Workers {
		byTypeStatus[[2]string{w.NodeType, string(w.Status)}]++

		isActive := w.IP != "" && r.loadMetrics.IsActive(w.IP)
		if isActive {
			snap.ActiveByType[w.NodeType]++
			nonFailed[w.ID] = struct{}{}
			continue
		}
		if !completedUpdateStates[w.Status] {
			snap.Pending = append(snap.Pending, snapshot.PendingNode{
				IP:     w.IP,
				Type:   w.NodeType,
				Status: string(w.Status),
			})
			nonFailed[w.ID] = struct{}{}
		}
	}
	for key, count := range byTypeStatus {
		metrics.NodesTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
	cfg := r.Config()
	for nodeType := range cfg.AvailableNodeTypes {
		if count := r.launchPool.InFlight(nodeType); count > 0 {
			snap.PendingLaunches[nodeType] = count
			metrics.PendingLaunchesTotal.WithLabelValues(nodeType).Set(float64(count))
		}
	}
	for _, info := range r.tracker.GetAllFailedNodeInfo(nonFailed) {
		snap.Failed = append(snap.Failed, snapshot.FailedNode{
			IP:     info.IP,
			Type:   info.NodeType,
			Reason: info.Reason,
		})
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
}
