// Package config loads and validates the YAML cluster configuration file,
// the way cmd/warren/apply.go parses a YAML resource with yaml.v3, and
// computes the launch/runtime/file-mount hashes the reconciler compares
// against per-node tags to detect outdated nodes.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/clusterscaler/pkg/types"
)

// ValidationError is returned by Validate when the loaded configuration
// violates an invariant. It wraps a human-readable reason so the
// reconciler can log it and keep running on the previous good config.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s", e.Reason)
}

type rawNodeType struct {
	Resources                map[string]float64     `yaml:"resources"`
	MinWorkers               int                     `yaml:"min_workers"`
	MaxWorkers               int                     `yaml:"max_workers"`
	LaunchConfig             map[string]interface{}  `yaml:"node_config"`
	DisableLaunchConfigCheck bool                    `yaml:"disable_launch_config_check"`
}

type rawConfig struct {
	ClusterName             string                 `yaml:"cluster_name"`
	MaxWorkers              int                    `yaml:"max_workers"`
	UpscalingSpeed          float64                `yaml:"upscaling_speed"`
	IdleTimeoutMinutes      *float64               `yaml:"idle_timeout_minutes"`
	UpdateIntervalSeconds   float64                `yaml:"update_interval_seconds"`
	MaxConcurrentLaunches   int                    `yaml:"max_concurrent_launches"`
	MaxLaunchBatch          int                    `yaml:"max_launch_batch"`
	MaxFailuresPerNode      int                    `yaml:"max_failures_per_node"`
	HeartbeatTimeoutSeconds float64                `yaml:"heartbeat_timeout_seconds"`
	HeadNodeType            string                 `yaml:"head_node_type"`
	AvailableNodeTypes      map[string]rawNodeType `yaml:"available_node_types"`
	RuntimeConfig           map[string]interface{} `yaml:"runtime_config"`
	FileMounts              map[string]string      `yaml:"file_mounts"`
	Auth                    map[string]interface{} `yaml:"auth"`
	DisableNodeUpdaters     bool                   `yaml:"disable_node_updaters"`
	RestartOnly             bool                   `yaml:"restart_only"`
	NoRestart               bool                   `yaml:"no_restart"`
	WorkerSetupCommands     []string               `yaml:"worker_setup_commands"`
	WorkerStartCommands     []string               `yaml:"worker_start_commands"`
}

// defaults mirror StandardClusterScaler.__init__'s fallback values.
// IdleTimeoutMinutes is a *float64 rather than float64 so an explicit
// `idle_timeout_minutes: 0` (never terminate for idleness) can be told
// apart from the key being absent from the YAML entirely (apply the
// default); a plain float64 cannot express that distinction since both
// cases decode to the zero value.
func (r *rawConfig) applyDefaults() {
	if r.UpscalingSpeed == 0 {
		r.UpscalingSpeed = 1.0
	}
	if r.IdleTimeoutMinutes == nil {
		def := 5.0
		r.IdleTimeoutMinutes = &def
	}
	if r.UpdateIntervalSeconds == 0 {
		r.UpdateIntervalSeconds = 5.0
	}
	if r.MaxConcurrentLaunches == 0 {
		r.MaxConcurrentLaunches = 10
	}
	if r.MaxLaunchBatch == 0 {
		r.MaxLaunchBatch = 5
	}
	if r.MaxFailuresPerNode == 0 {
		r.MaxFailuresPerNode = 3
	}
	if r.HeartbeatTimeoutSeconds == 0 {
		r.HeartbeatTimeoutSeconds = 30
	}
}

// Load reads, parses, validates and hashes the cluster configuration at
// path.
func Load(path string) (*types.ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated, hashed ClusterConfig.
// Unknown keys are ignored (yaml.v3's default unmarshal behavior).
func Parse(data []byte) (*types.ClusterConfig, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	raw.applyDefaults()

	cfg := &types.ClusterConfig{
		ClusterName:             raw.ClusterName,
		MaxWorkers:              raw.MaxWorkers,
		UpscalingSpeed:          raw.UpscalingSpeed,
		IdleTimeoutMinutes:      *raw.IdleTimeoutMinutes,
		UpdateIntervalSeconds:   raw.UpdateIntervalSeconds,
		MaxConcurrentLaunches:   raw.MaxConcurrentLaunches,
		MaxLaunchBatch:          raw.MaxLaunchBatch,
		MaxFailuresPerNode:      raw.MaxFailuresPerNode,
		HeartbeatTimeoutSeconds: raw.HeartbeatTimeoutSeconds,
		HeadNodeType:            raw.HeadNodeType,
		AvailableNodeTypes:      make(map[string]types.NodeTypeConfig, len(raw.AvailableNodeTypes)),
		DisableNodeUpdaters:     raw.DisableNodeUpdaters,
		RestartOnly:             raw.RestartOnly,
		NoRestart:               raw.NoRestart,
		WorkerSetupCommands:     raw.WorkerSetupCommands,
		WorkerStartCommands:     raw.WorkerStartCommands,
	}

	for name, nt := range raw.AvailableNodeTypes {
		bundle := make(types.ResourceBundle, len(nt.Resources))
		for k, v := range nt.Resources {
			bundle[k] = v
		}
		cfg.AvailableNodeTypes[name] = types.NodeTypeConfig{
			Name:               name,
			Resources:          bundle,
			MinWorkers:         nt.MinWorkers,
			MaxWorkers:         nt.MaxWorkers,
			LaunchConfig:       nt.LaunchConfig,
			DisableLaunchCheck: nt.DisableLaunchConfigCheck,
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	hashConfig(cfg, raw.RuntimeConfig, raw.FileMounts, raw.Auth)
	return cfg, nil
}

// Validate checks cross-field invariants the YAML schema alone cannot
// express: node type bounds, a reachable head node type, and a concurrency
// model that can make progress.
func Validate(cfg *types.ClusterConfig) error {
	if cfg.ClusterName == "" {
		return &ValidationError{Reason: "cluster_name is required"}
	}
	if cfg.MaxWorkers < 0 {
		return &ValidationError{Reason: "max_workers must be >= 0"}
	}
	if cfg.MaxConcurrentLaunches <= 0 {
		return &ValidationError{Reason: "max_concurrent_launches must be > 0"}
	}
	if cfg.MaxLaunchBatch <= 0 {
		return &ValidationError{Reason: "max_launch_batch must be > 0"}
	}
	if len(cfg.AvailableNodeTypes) == 0 {
		return &ValidationError{Reason: "available_node_types must not be empty"}
	}
	if cfg.HeadNodeType != "" {
		if _, ok := cfg.AvailableNodeTypes[cfg.HeadNodeType]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("head_node_type %q is not in available_node_types", cfg.HeadNodeType)}
		}
	}
	for name, nt := range cfg.AvailableNodeTypes {
		if nt.MinWorkers < 0 {
			return &ValidationError{Reason: fmt.Sprintf("node type %q: min_workers must be >= 0", name)}
		}
		if nt.MaxWorkers > 0 && nt.MinWorkers > nt.MaxWorkers {
			return &ValidationError{Reason: fmt.Sprintf("node type %q: min_workers > max_workers", name)}
		}
	}
	return nil
}

// launchConfigHashInput is hashed as a unit per node type: a node must be
// relaunched if either its type-specific node_config or the cluster-wide
// auth block (SSH user/key, etc.) changes, since auth is part of how a
// node was provisioned just as much as its launch parameters are.
type launchConfigHashInput struct {
	NodeConfig map[string]interface{}
	Auth       map[string]interface{}
}

func hashConfig(cfg *types.ClusterConfig, runtimeConfig map[string]interface{}, fileMounts map[string]string, auth map[string]interface{}) {
	cfg.LaunchConfigHash = make(map[string]string, len(cfg.AvailableNodeTypes))
	for name, nt := range cfg.AvailableNodeTypes {
		h, err := hashstructure.Hash(launchConfigHashInput{NodeConfig: nt.LaunchConfig, Auth: auth}, hashstructure.FormatV2, nil)
		if err != nil {
			// LaunchConfig/auth are plain map[string]interface{} decoded
			// from YAML scalars; hashstructure only fails on unhashable
			// types such as funcs or chans, which cannot appear here.
			h = 0
		}
		cfg.LaunchConfigHash[name] = fmt.Sprintf("%x", h)
	}

	runtimeHash, err := hashstructure.Hash(runtimeConfig, hashstructure.FormatV2, nil)
	if err != nil {
		runtimeHash = 0
	}
	cfg.RuntimeConfigHash = fmt.Sprintf("%x", runtimeHash)

	cfg.FileMountsContentsHash = hashFileMounts(fileMounts)
}

// hashFileMounts hashes sorted "target:content" pairs so the result is
// independent of map iteration order.
func hashFileMounts(fileMounts map[string]string) string {
	if len(fileMounts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fileMounts))
	for k := range fileMounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(fileMounts[k])
		b.WriteByte('\n')
	}

	h, err := hashstructure.Hash(b.String(), hashstructure.FormatV2, nil)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", h)
}
