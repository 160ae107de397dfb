package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/clusterscaler/pkg/commandrunner"
	"github.com/cuemby/clusterscaler/pkg/config"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/provider"
	"github.com/cuemby/clusterscaler/pkg/types"
)

// newTestReconciler writes yamlConfig to a temp file and builds a
// reconciler wired to a fresh in-memory provider and fake command runner.
// tick() reloads the file from disk every call the same way it would in
// production, so tests write real YAML rather than constructing
// types.ClusterConfig by hand.
func newTestReconciler(t *testing.T, yamlConfig string) (*Reconciler, *types.ClusterConfig, *provider.InMemory, *commandrunner.Fake) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))

	cfg, err := config.Parse([]byte(yamlConfig))
	require.NoError(t, err)

	prov := provider.NewInMemory()
	runner := commandrunner.NewFake()
	r := New(path, prov, runner, cfg)
	return r, cfg, prov, runner
}

// registerWorker seeds the provider with an already-launched, up-to-date
// worker of nodeType whose launch config and runtime/file-mount hashes
// match cfg, and returns its node ID and internal IP.
func registerWorker(t *testing.T, prov *provider.InMemory, cfg *types.ClusterConfig, id, nodeType string) (string, string) {
	t.Helper()
	prov.RegisterNode(id, nodeType, map[string]string{
		types.TagKind:                   string(types.NodeKindWorker),
		types.TagUserNodeType:           nodeType,
		types.TagStatus:                 string(types.StatusUpToDate),
		types.TagLaunchConfigHash:       cfg.LaunchConfigHash[nodeType],
		types.TagRuntimeConfigHash:      cfg.RuntimeConfigHash,
		types.TagFileMountsContentsHash: cfg.FileMountsContentsHash,
	})
	ip, err := prov.InternalIP(id)
	require.NoError(t, err)
	return id, ip
}

func countNonTerminated(t *testing.T, prov *provider.InMemory) int {
	t.Helper()
	ids, err := prov.NonTerminatedNodes(nil)
	require.NoError(t, err)
	return len(ids)
}

// S1 — min_workers fill: zero existing workers, min_workers=2, expect two
// launches and no terminations.
func TestS1MinWorkersFill(t *testing.T) {
	r, _, prov, _ := newTestReconciler(t, `
cluster_name: s1
max_workers: 10
max_concurrent_launches: 10
max_launch_batch: 5
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 2
    max_workers: 10
`)

	require.NoError(t, r.tick())

	assert.Eventually(t, func() bool {
		ids, _ := prov.NonTerminatedNodes(map[string]string{types.TagUserNodeType: "w"})
		return len(ids) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// S2 — demand-driven launch with an upscaling cap: 2 existing workers,
// upscaling_speed=0.5 caps this tick's total launches at
// max(5, ceil(0.5*2)) = 5.
func TestS2DemandDrivenLaunchRespectsUpscalingCap(t *testing.T) {
	r, cfg, prov, _ := newTestReconciler(t, `
cluster_name: s2
max_workers: 20
upscaling_speed: 0.5
max_concurrent_launches: 1
max_launch_batch: 1
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 0
    max_workers: 20
`)
	registerWorker(t, prov, cfg, "w-1", "w")
	registerWorker(t, prov, cfg, "w-2", "w")

	demands := make([]types.ResourceBundle, 10)
	for i := range demands {
		demands[i] = types.ResourceBundle{"CPU": 4}
	}
	r.loadMetrics.SetDemands(demands)

	require.NoError(t, r.tick())

	assert.Eventually(t, func() bool {
		return r.launchPool.InFlight("w") == 0
	}, 2*time.Second, 10*time.Millisecond)

	total := countNonTerminated(t, prov)
	assert.LessOrEqual(t, total-2, 5, "launches this tick must respect max(5, ceil(upscaling_speed*existing))")
}

// S3 — idle termination respects request_resources: of two idle workers,
// the one that absorbs the outstanding resource request is protected; the
// other is terminated for being idle.
func TestS3IdleTerminationProtectsActiveRequest(t *testing.T) {
	r, cfg, prov, _ := newTestReconciler(t, `
cluster_name: s3
max_workers: 10
idle_timeout_minutes: 5
heartbeat_timeout_seconds: 99999
max_concurrent_launches: 5
max_launch_batch: 5
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 0
    max_workers: 10
`)
	_, ip1 := registerWorker(t, prov, cfg, "w1", "w")
	_, ip2 := registerWorker(t, prov, cfg, "w2", "w")

	now := time.Now()
	r.loadMetrics.MarkActive(ip1, now.Add(-10*time.Minute)) // MRU
	r.loadMetrics.MarkActive(ip2, now.Add(-11*time.Minute)) // LRU
	r.loadMetrics.SetResourceRequests([]types.ResourceBundle{{"CPU": 4}})

	require.NoError(t, r.tick())

	running1, err := prov.IsRunning("w1")
	require.NoError(t, err)
	running2, err := prov.IsRunning("w2")
	require.NoError(t, err)

	assert.True(t, running1, "w1 absorbs the outstanding request and must be protected")
	assert.False(t, running2, "w2 is idle and unprotected, must be terminated")
}

// S4 — outdated node: a worker whose launch_config_hash no longer matches
// the configured one is terminated as outdated on the first tick.
func TestS4OutdatedNodeIsTerminated(t *testing.T) {
	r, _, prov, _ := newTestReconciler(t, `
cluster_name: s4
max_workers: 10
max_concurrent_launches: 5
max_launch_batch: 5
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 0
    max_workers: 10
`)
	prov.RegisterNode("w1", "w", map[string]string{
		types.TagKind:             string(types.NodeKindWorker),
		types.TagUserNodeType:     "w",
		types.TagStatus:           string(types.StatusUpToDate),
		types.TagLaunchConfigHash: "stale-hash-from-a-previous-launch-config",
	})

	require.NoError(t, r.tick())

	running, err := prov.IsRunning("w1")
	require.NoError(t, err)
	assert.False(t, running, "outdated node must be terminated on its first observed tick")
}

// S5 — heartbeat loss with updaters disabled: a worker past the heartbeat
// timeout is terminated directly, and no updater is ever started for it.
func TestS5HeartbeatLossWithUpdatersDisabled(t *testing.T) {
	r, cfg, prov, runner := newTestReconciler(t, `
cluster_name: s5
max_workers: 10
heartbeat_timeout_seconds: 30
disable_node_updaters: true
max_concurrent_launches: 5
max_launch_batch: 5
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 0
    max_workers: 10
`)
	_, ip1 := registerWorker(t, prov, cfg, "w1", "w")
	r.loadMetrics.MarkHeartbeat(ip1, time.Now().Add(-31*time.Second))

	require.NoError(t, r.tick())

	running, err := prov.IsRunning("w1")
	require.NoError(t, err)
	assert.False(t, running, "worker silent past the heartbeat timeout must be terminated")
	assert.Empty(t, runner.Calls, "updaters must never run while disable_node_updaters is set")
	assert.False(t, r.updatePool.IsRunning("w1"))
}

// S6 — infeasible bundle: a demand bundle no configured node type can ever
// satisfy produces no launches.
func TestS6InfeasibleBundleProducesNoLaunches(t *testing.T) {
	r, _, prov, _ := newTestReconciler(t, `
cluster_name: s6
max_workers: 10
max_concurrent_launches: 5
max_launch_batch: 5
available_node_types:
  w:
    resources:
      CPU: 4
    min_workers: 0
    max_workers: 10
`)
	r.loadMetrics.SetDemands([]types.ResourceBundle{{"GPU": 8}})

	require.NoError(t, r.tick())

	assert.Eventually(t, func() bool {
		return r.launchPool.InFlight("w") == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, countNonTerminated(t, prov), "an infeasible bundle must never trigger a launch")
}

// slowProvider wraps an InMemory provider and stalls NonTerminatedNodes,
// so run()'s tick-coalescing branch has something to coalesce against.
type slowProvider struct {
	*provider.InMemory
	delay time.Duration
}

func (s *slowProvider) NonTerminatedNodes(tagFilters map[string]string) ([]string, error) {
	time.Sleep(s.delay)
	return s.InMemory.NonTerminatedNodes(tagFilters)
}

// Tick coalescing: a tick still running when the next ticker fire arrives
// is skipped and counted rather than queued.
func TestRunSkipsOverlappingTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	yamlConfig := `
cluster_name: coalesce
max_workers: 1
update_interval_seconds: 0.05
max_concurrent_launches: 1
max_launch_batch: 1
available_node_types:
  w:
    resources:
      CPU: 1
    min_workers: 0
    max_workers: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))
	cfg, err := config.Parse([]byte(yamlConfig))
	require.NoError(t, err)

	prov := &slowProvider{InMemory: provider.NewInMemory(), delay: 150 * time.Millisecond}
	runner := commandrunner.NewFake()
	r := New(path, prov, runner, cfg)

	before := testutil.ToFloat64(metrics.ReconciliationTicksSkippedTotal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	time.Sleep(500 * time.Millisecond)
	r.Stop()

	assert.Greater(t, testutil.ToFloat64(metrics.ReconciliationTicksSkippedTotal), before,
		"an overlapping tick must be skipped and counted")
}
