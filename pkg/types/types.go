package types

import "time"

// NodeKind describes why a node exists: managed by the scaler, unmanaged
// (pre-existing, never touched by termination logic), or the cluster head.
type NodeKind string

const (
	NodeKindHead      NodeKind = "head"
	NodeKindWorker    NodeKind = "worker"
	NodeKindUnmanaged NodeKind = "unmanaged"
)

// NodeStatus mirrors the tag value written to the provider after each
// updater phase completes, so a restarted reconciler can resume from tags
// alone.
type NodeStatus string

const (
	StatusUninitialized NodeStatus = "uninitialized"
	StatusWaiting       NodeStatus = "waiting-for-ssh"
	StatusSyncingFiles  NodeStatus = "syncing-files"
	StatusSettingUp     NodeStatus = "setting-up"
	StatusUpToDate      NodeStatus = "up-to-date"
	StatusUpdateFailed  NodeStatus = "update-failed"
)

// Tag keys written to and read from the node provider's persistent tag
// store. Named after the constants cluster_scaler.py imports from
// cloudtik.core.tags.
const (
	TagKind                   = "cloudtik-node-kind"
	TagUserNodeType           = "cloudtik-user-node-type"
	TagStatus                 = "cloudtik-node-status"
	TagLaunchConfigHash       = "cloudtik-launch-config-hash"
	TagRuntimeConfigHash      = "cloudtik-runtime-config-hash"
	TagFileMountsContentsHash = "cloudtik-file-mounts-contents-hash"
)

// ResourceBundle is a generic named-quantity resource vector: CPU, memory,
// GPU, and any custom resource a node type advertises or a demand requests.
type ResourceBundle map[string]float64

// Clone returns a deep copy so callers can mutate without aliasing the
// original bundle.
func (b ResourceBundle) Clone() ResourceBundle {
	out := make(ResourceBundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Add returns a new bundle with each resource summed.
func (b ResourceBundle) Add(other ResourceBundle) ResourceBundle {
	out := b.Clone()
	for k, v := range other {
		out[k] += v
	}
	return out
}

// Sub returns a new bundle with other subtracted from b, floored at zero
// per resource (a bundle never carries a negative residual).
func (b ResourceBundle) Sub(other ResourceBundle) ResourceBundle {
	out := b.Clone()
	for k, v := range other {
		r := out[k] - v
		if r < 0 {
			r = 0
		}
		out[k] = r
	}
	return out
}

// Fits reports whether b can be carved out of capacity: every resource b
// requests is available in capacity in sufficient quantity.
func (b ResourceBundle) Fits(capacity ResourceBundle) bool {
	for k, v := range b {
		if v <= 0 {
			continue
		}
		if capacity[k] < v {
			return false
		}
	}
	return true
}

// IsZero reports whether every quantity in the bundle is zero or absent.
func (b ResourceBundle) IsZero() bool {
	for _, v := range b {
		if v > 0 {
			return false
		}
	}
	return true
}

// NodeTypeConfig is one entry of the cluster config's available_node_types
// map: a resource shape, a launch config fingerprint and the min/max
// instance counts the scheduler enforces for that type.
type NodeTypeConfig struct {
	Name              string
	Resources         ResourceBundle
	MinWorkers        int
	MaxWorkers        int
	LaunchConfig      map[string]interface{}
	DisableLaunchCheck bool
}

// ClusterConfig is the typed form of the YAML cluster configuration file.
// pkg/config.Load produces one of these after validation and hashing.
type ClusterConfig struct {
	ClusterName            string
	MaxWorkers             int
	UpscalingSpeed         float64
	IdleTimeoutMinutes     float64
	UpdateIntervalSeconds  float64
	MaxConcurrentLaunches  int
	MaxLaunchBatch         int
	MaxFailuresPerNode     int
	HeartbeatTimeoutSeconds float64
	AvailableNodeTypes     map[string]NodeTypeConfig
	HeadNodeType           string
	DisableNodeUpdaters    bool
	RestartOnly            bool
	NoRestart              bool
	WorkerSetupCommands    []string
	WorkerStartCommands    []string

	// Hashes computed once at load time (see pkg/config), compared against
	// per-node tags to detect outdated nodes.
	LaunchConfigHash       map[string]string // node type name -> hash
	RuntimeConfigHash      string
	FileMountsContentsHash string
}

// Node is the scaler's in-memory view of a single node, refreshed each
// tick from the provider's non-terminated node list plus its tags.
type Node struct {
	ID            string
	IP            string
	NodeType      string
	Kind          NodeKind
	Status        NodeStatus
	Tags          map[string]string
	LaunchTime    time.Time
	LastHeartbeat time.Time
	LastUsed      time.Time
}

// ResourceDemand is one unfulfilled unit of work the scheduler must try to
// place: a bundle plus how many copies are needed.
type ResourceDemand struct {
	Bundle ResourceBundle
	Count  int
}

// PendingLaunch tracks node types queued for launch but not yet visible as
// non-terminated nodes from the provider (submitted, still booting).
type PendingLaunch struct {
	NodeType string
	Count    int
}

// UpdaterTaskState is the phase an in-flight node updater is in.
type UpdaterTaskState string

const (
	UpdaterWaitingForSSH UpdaterTaskState = "waiting-for-ssh"
	UpdaterSyncingFiles  UpdaterTaskState = "syncing-files"
	UpdaterSettingUp     UpdaterTaskState = "setting-up"
	UpdaterStarting      UpdaterTaskState = "starting"
	UpdaterSucceeded     UpdaterTaskState = "succeeded"
	UpdaterFailed        UpdaterTaskState = "failed"
)

// UpdaterResult is sent back over the updater pool's completion channel
// when a node finishes (or fails) its update sequence.
type UpdaterResult struct {
	NodeID   string
	State    UpdaterTaskState
	Err      error
	Recovery bool
}

// KeepOrTerminate is the three-way decision
// terminate_nodes_to_enforce_config_constraints makes per node: keep it,
// terminate it now, or decide later once idle-timeout bookkeeping runs.
type KeepOrTerminate int

const (
	DecideLater KeepOrTerminate = iota
	Keep
	Terminate
)

func (k KeepOrTerminate) String() string {
	switch k {
	case Keep:
		return "keep"
	case Terminate:
		return "terminate"
	default:
		return "decide_later"
	}
}
