package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
cluster_name: test-cluster
max_workers: 10
upscaling_speed: 2.0
idle_timeout_minutes: 5
max_concurrent_launches: 10
max_launch_batch: 5
head_node_type: head
available_node_types:
  head:
    resources: {CPU: 2}
    min_workers: 1
    max_workers: 1
  worker:
    resources: {CPU: 4, memory: 16384}
    min_workers: 1
    max_workers: 10
    node_config:
      instance_type: m5.xlarge
runtime_config:
  spark: {}
file_mounts:
  /etc/conf.yaml: "hello: world"
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-cluster", cfg.ClusterName)
	assert.Equal(t, 2.0, cfg.UpscalingSpeed)
	assert.Len(t, cfg.AvailableNodeTypes, 2)
	assert.Equal(t, 4.0, cfg.AvailableNodeTypes["worker"].Resources["CPU"])
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster_name: c
available_node_types:
  worker:
    resources: {CPU: 1}
`))
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.UpscalingSpeed)
	assert.Equal(t, 5.0, cfg.IdleTimeoutMinutes)
	assert.Equal(t, 10, cfg.MaxConcurrentLaunches)
	assert.Equal(t, 5, cfg.MaxLaunchBatch)
	assert.Equal(t, 3, cfg.MaxFailuresPerNode)
}

func TestParseRejectsMissingClusterName(t *testing.T) {
	_, err := Parse([]byte(`
available_node_types:
  worker:
    resources: {CPU: 1}
`))
	assert.Error(t, err)
}

func TestParseRejectsEmptyNodeTypes(t *testing.T) {
	_, err := Parse([]byte(`cluster_name: c`))
	assert.Error(t, err)
}

func TestParseRejectsUnknownHeadNodeType(t *testing.T) {
	_, err := Parse([]byte(`
cluster_name: c
head_node_type: does-not-exist
available_node_types:
  worker:
    resources: {CPU: 1}
`))
	assert.Error(t, err)
}

func TestParseRejectsMinGreaterThanMax(t *testing.T) {
	_, err := Parse([]byte(`
cluster_name: c
available_node_types:
  worker:
    resources: {CPU: 1}
    min_workers: 5
    max_workers: 1
`))
	assert.Error(t, err)
}

func TestParseComputesLaunchConfigHashPerNodeType(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.LaunchConfigHash["worker"])
	assert.NotEmpty(t, cfg.RuntimeConfigHash)
	assert.NotEmpty(t, cfg.FileMountsContentsHash)
}

func TestHashIsStableAcrossParses(t *testing.T) {
	cfg1, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	cfg2, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, cfg1.LaunchConfigHash["worker"], cfg2.LaunchConfigHash["worker"])
	assert.Equal(t, cfg1.RuntimeConfigHash, cfg2.RuntimeConfigHash)
}

func TestDifferentLaunchConfigsHashDifferently(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	cfg2, err := Parse([]byte(`
cluster_name: test-cluster
available_node_types:
  worker:
    resources: {CPU: 4}
    node_config:
      instance_type: m5.2xlarge
`))
	require.NoError(t, err)

	assert.NotEqual(t, cfg.LaunchConfigHash["worker"], cfg2.LaunchConfigHash["worker"])
}

// An explicit idle_timeout_minutes: 0 must be honored as "never terminate
// for idleness", distinct from the key being absent (which gets the
// default of 5.0).
func TestExplicitZeroIdleTimeoutIsPreserved(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster_name: c
idle_timeout_minutes: 0
available_node_types:
  worker:
    resources: {CPU: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.IdleTimeoutMinutes)
}

func TestAbsentIdleTimeoutGetsDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster_name: c
available_node_types:
  worker:
    resources: {CPU: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.IdleTimeoutMinutes)
}

// launch_config_hash is defined as H(node_config, auth): a change to the
// cluster-wide auth block must change the hash even if node_config does
// not, since auth is part of how a node was provisioned.
func TestAuthChangeAffectsLaunchConfigHash(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster_name: c
auth:
  ssh_user: ubuntu
available_node_types:
  worker:
    resources: {CPU: 1}
    node_config:
      instance_type: m5.xlarge
`))
	require.NoError(t, err)

	cfg2, err := Parse([]byte(`
cluster_name: c
auth:
  ssh_user: centos
available_node_types:
  worker:
    resources: {CPU: 1}
    node_config:
      instance_type: m5.xlarge
`))
	require.NoError(t, err)

	assert.NotEqual(t, cfg.LaunchConfigHash["worker"], cfg2.LaunchConfigHash["worker"])
}
