// Package updater runs the per-node bring-up sequence (wait for reachable,
// sync files, run setup commands, run start commands) on its own goroutine
// per node, the way the teacher's HealthMonitor ran one goroutine per
// container with a context.CancelFunc map for targeted shutdown. Unlike a
// health monitor, an updater task reports a single discrete completion
// rather than a continuous status, so results are delivered over a
// buffered channel the reconciler drains each tick instead of being
// polled. Each phase transition is also written to the node's provider
// tags, so a restarted reconciler can resume purely from observed state.
package updater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/clusterscaler/pkg/commandrunner"
	"github.com/cuemby/clusterscaler/pkg/health"
	"github.com/cuemby/clusterscaler/pkg/log"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/provider"
	"github.com/cuemby/clusterscaler/pkg/types"
)

// Task describes one node's bring-up work. Each phase runs only if its
// Skip flag is false and its command is non-empty. RuntimeConfigHash and
// FileMountsContentsHash are written to the node's tags on success so the
// reconciler's files_up_to_date check passes on the next observation.
type Task struct {
	NodeID       string
	IP           string
	Port         string // TCP port to probe for reachability; defaults to 22
	SyncCommand  []string
	SetupCommand []string
	StartCommand []string
	SkipSync     bool
	SkipSetup    bool
	SkipStart    bool
	// Recovery marks this as a stripped update dispatched against an
	// otherwise healthy but silent node (4.H.e). The flag itself skips no
	// phase: the dispatcher sets SkipSync and SkipSetup alongside it so only
	// start commands run. It is also reported back on UpdaterResult so
	// the reconciler can count recoveries separately from first-time
	// updates.
	Recovery bool

	RuntimeConfigHash      string
	FileMountsContentsHash string
}

// Pool runs at most one updater goroutine per node ID at a time.
type Pool struct {
	runner   commandrunner.CommandRunner
	provider provider.NodeProvider
	logger   zerolog.Logger
	results  chan types.UpdaterResult

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc

	// ReachabilityTimeout bounds how long a task's goroutine waits for a
	// node to accept TCP connections before failing the task.
	ReachabilityTimeout time.Duration
	// ReachabilityPollInterval controls how often the TCP probe retries.
	ReachabilityPollInterval time.Duration
}

// NewPool creates an updater pool. resultsBuffer sizes the completion
// channel; it should be at least the expected number of concurrent
// in-flight updates so a slow-draining reconciler never blocks a worker.
func NewPool(runner commandrunner.CommandRunner, prov provider.NodeProvider, resultsBuffer int) *Pool {
	if resultsBuffer <= 0 {
		resultsBuffer = 100
	}
	return &Pool{
		runner:                   runner,
		provider:                 prov,
		logger:                   log.WithComponent("updater"),
		results:                  make(chan types.UpdaterResult, resultsBuffer),
		cancelFns:                make(map[string]context.CancelFunc),
		ReachabilityTimeout:      2 * time.Minute,
		ReachabilityPollInterval: 2 * time.Second,
	}
}

// Results returns the channel the reconciler drains each tick.
func (p *Pool) Results() <-chan types.UpdaterResult {
	return p.results
}

// IsRunning reports whether an updater goroutine is currently active for
// nodeID.
func (p *Pool) IsRunning(nodeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancelFns[nodeID]
	return ok
}

// Start launches the update sequence for task.NodeID if one is not already
// running. It returns false if an updater for that node is already
// in-flight.
func (p *Pool) Start(task Task) bool {
	p.mu.Lock()
	if _, running := p.cancelFns[task.NodeID]; running {
		p.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFns[task.NodeID] = cancel
	p.mu.Unlock()

	go p.run(ctx, task)
	return true
}

// Cancel stops the in-flight updater for nodeID, if any.
func (p *Pool) Cancel(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancelFns[nodeID]; ok {
		cancel()
	}
}

// CancelAll stops every in-flight updater, used on reconciler shutdown.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancelFns {
		cancel()
	}
}

func (p *Pool) finish(nodeID string) {
	p.mu.Lock()
	delete(p.cancelFns, nodeID)
	p.mu.Unlock()
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer p.finish(task.NodeID)
	timer := metrics.NewTimer()

	nodeLog := log.WithNodeID(task.NodeID)

	port := task.Port
	if port == "" {
		port = "22"
	}
	p.tagStatus(task.NodeID, types.StatusWaiting)
	if err := p.waitForReachable(ctx, task.IP, port); err != nil {
		p.fail(task.NodeID, timer, nodeLog, types.UpdaterWaitingForSSH, task.Recovery, err)
		return
	}

	if !task.SkipSync && len(task.SyncCommand) > 0 {
		p.tagStatus(task.NodeID, types.StatusSyncingFiles)
		nodeLog.Debug().Msg("syncing files")
		if _, err := p.runner.Run(ctx, task.IP, task.SyncCommand); err != nil {
			p.fail(task.NodeID, timer, nodeLog, types.UpdaterSyncingFiles, task.Recovery, err)
			return
		}
	}

	if !task.SkipSetup && len(task.SetupCommand) > 0 {
		p.tagStatus(task.NodeID, types.StatusSettingUp)
		nodeLog.Debug().Msg("running setup commands")
		if _, err := p.runner.Run(ctx, task.IP, task.SetupCommand); err != nil {
			p.fail(task.NodeID, timer, nodeLog, types.UpdaterSettingUp, task.Recovery, err)
			return
		}
	}

	if !task.SkipStart && len(task.StartCommand) > 0 {
		nodeLog.Debug().Msg("running start commands")
		if _, err := p.runner.Run(ctx, task.IP, task.StartCommand); err != nil {
			p.fail(task.NodeID, timer, nodeLog, types.UpdaterStarting, task.Recovery, err)
			return
		}
	}

	if task.Recovery {
		metrics.UpdaterRecoveryTotal.Inc()
	}
	metrics.UpdaterSuccessTotal.Inc()
	timer.ObserveDuration(metrics.UpdaterDuration)
	nodeLog.Info().Msg("node update succeeded")

	if p.provider != nil {
		tags := map[string]string{
			types.TagStatus: string(types.StatusUpToDate),
		}
		if task.RuntimeConfigHash != "" {
			tags[types.TagRuntimeConfigHash] = task.RuntimeConfigHash
		}
		if task.FileMountsContentsHash != "" {
			tags[types.TagFileMountsContentsHash] = task.FileMountsContentsHash
		}
		if err := p.provider.SetNodeTags(task.NodeID, tags); err != nil {
			nodeLog.Warn().Err(err).Msg("failed to tag node up-to-date")
		}
	}

	p.send(types.UpdaterResult{NodeID: task.NodeID, State: types.UpdaterSucceeded, Recovery: task.Recovery})
}

func (p *Pool) tagStatus(nodeID string, status types.NodeStatus) {
	if p.provider == nil {
		return
	}
	if err := p.provider.SetNodeTags(nodeID, map[string]string{types.TagStatus: string(status)}); err != nil {
		p.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to tag node status")
	}
}

func (p *Pool) fail(nodeID string, timer *metrics.Timer, nodeLog zerolog.Logger, state types.UpdaterTaskState, recovery bool, err error) {
	metrics.UpdaterFailureTotal.Inc()
	timer.ObserveDuration(metrics.UpdaterDuration)
	nodeLog.Error().Err(err).Str("phase", string(state)).Msg("node update failed")
	p.tagStatus(nodeID, types.StatusUpdateFailed)
	p.send(types.UpdaterResult{NodeID: nodeID, State: types.UpdaterFailed, Err: err, Recovery: recovery})
}

func (p *Pool) send(result types.UpdaterResult) {
	select {
	case p.results <- result:
	default:
		// Results channel full means the reconciler has fallen far behind
		// draining it; block until it drains rather than lose a completion, since
		// unlike launch requests, update outcomes must not be dropped.
		p.results <- result
	}
}

func (p *Pool) waitForReachable(ctx context.Context, ip, port string) error {
	checker := health.NewTCPChecker(fmt.Sprintf("%s:%s", ip, port))
	deadline := time.Now().Add(p.ReachabilityTimeout)

	for {
		result := checker.Check(ctx)
		if result.Healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("updater: %s did not become reachable within %s: %s", ip, p.ReachabilityTimeout, result.Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.ReachabilityPollInterval):
		}
	}
}
