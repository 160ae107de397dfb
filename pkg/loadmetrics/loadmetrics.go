// Package loadmetrics is a read-mostly view over per-node heartbeat,
// usage, demand and utilization data, guarded the way the teacher guards
// its Scheduler and Reconciler state with a sync.RWMutex rather than
// channel-serialized access, since reads vastly outnumber writes here.
package loadmetrics

import (
	"sync"
	"time"

	"github.com/cuemby/clusterscaler/pkg/types"
)

// View holds the external load signal the reconciler reads each tick.
// The core owns no persisted state beyond this; on restart it starts
// empty and reconverges from provider tags within a few ticks.
type View struct {
	mu sync.RWMutex

	lastHeartbeat map[string]time.Time
	lastUsed      map[string]time.Time
	staticByIP    map[string]types.ResourceBundle

	demands      []types.ResourceBundle
	utilization  []types.ResourceBundle
	requests     []types.ResourceBundle
	clusterFull  bool
}

// New creates an empty load-metrics view.
func New() *View {
	return &View{
		lastHeartbeat: make(map[string]time.Time),
		lastUsed:      make(map[string]time.Time),
		staticByIP:    make(map[string]types.ResourceBundle),
	}
}

// MarkActive bumps both last-heartbeat and last-used for ip to now.
func (v *View) MarkActive(ip string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastHeartbeat[ip] = now
	v.lastUsed[ip] = now
}

// MarkHeartbeat records a heartbeat for ip without touching last-used,
// for callers that only observe liveness, not activity.
func (v *View) MarkHeartbeat(ip string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastHeartbeat[ip] = now
}

// SetStaticResources records the declared capacity vector for ip.
func (v *View) SetStaticResources(ip string, bundle types.ResourceBundle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.staticByIP[ip] = bundle
}

// SetDemands replaces the current ordered demand bundle list.
func (v *View) SetDemands(demands []types.ResourceBundle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.demands = demands
}

// SetUtilization replaces the current per-node utilization vectors.
func (v *View) SetUtilization(utilization []types.ResourceBundle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.utilization = utilization
}

// SetResourceRequests replaces the explicit resource-request bundle list.
func (v *View) SetResourceRequests(requests []types.ResourceBundle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = requests
}

// SetClusterFullOfActorsDetected records whether the metrics source
// believes the cluster is saturated by long-lived actor-style workloads.
func (v *View) SetClusterFullOfActorsDetected(full bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clusterFull = full
}

// LastHeartbeatTimeByIP returns a snapshot of last-heartbeat times.
func (v *View) LastHeartbeatTimeByIP() map[string]time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTimeMap(v.lastHeartbeat)
}

// LastUsedTimeByIP returns a snapshot of last-used times.
func (v *View) LastUsedTimeByIP() map[string]time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTimeMap(v.lastUsed)
}

// ResourceDemands returns the current ordered demand bundles.
func (v *View) ResourceDemands() []types.ResourceBundle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyBundles(v.demands)
}

// ResourceUtilization returns the current per-node utilization vectors.
func (v *View) ResourceUtilization() []types.ResourceBundle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyBundles(v.utilization)
}

// StaticNodeResourcesByIP returns a snapshot of declared capacity by ip.
func (v *View) StaticNodeResourcesByIP() map[string]types.ResourceBundle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]types.ResourceBundle, len(v.staticByIP))
	for ip, bundle := range v.staticByIP {
		out[ip] = bundle.Clone()
	}
	return out
}

// ResourceRequests returns the current explicit resource-request bundles.
func (v *View) ResourceRequests() []types.ResourceBundle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyBundles(v.requests)
}

// ClusterFullOfActorsDetected reports the last-set saturation signal.
func (v *View) ClusterFullOfActorsDetected() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.clusterFull
}

// IsActive reports whether ip has a recorded last-used time at all; callers
// combine this with their own staleness threshold.
func (v *View) IsActive(ip string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.lastUsed[ip]
	return ok
}

// PruneActiveIPs drops every tracked entry whose ip is not in activeIPs,
// keeping the view from growing unbounded as nodes churn.
func (v *View) PruneActiveIPs(activeIPs map[string]struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for ip := range v.lastHeartbeat {
		if _, ok := activeIPs[ip]; !ok {
			delete(v.lastHeartbeat, ip)
		}
	}
	for ip := range v.lastUsed {
		if _, ok := activeIPs[ip]; !ok {
			delete(v.lastUsed, ip)
		}
	}
	for ip := range v.staticByIP {
		if _, ok := activeIPs[ip]; !ok {
			delete(v.staticByIP, ip)
		}
	}
}

func copyTimeMap(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBundles(bundles []types.ResourceBundle) []types.ResourceBundle {
	out := make([]types.ResourceBundle, len(bundles))
	for i, b := range bundles {
		out[i] = b.Clone()
	}
	return out
}
