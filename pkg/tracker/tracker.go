// Package tracker keeps a bounded, advisory-only record of recently seen
// nodes: their last known (ip, type) and, if they failed to come up, why.
// It is a soft cache — the least recently used entries are evicted once
// the size bound is reached, without affecting correctness, since the provider's non-terminated node
// list remains the source of truth.
package tracker

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const defaultSize = 1000

type nodeInfo struct {
	ip       string
	nodeType string
	failed   bool
	reason   string
}

// FailedNode is a tracked node reported as failed: its last known address,
// type, and the reason it failed.
type FailedNode struct {
	IP       string
	NodeType string
	Reason   string
}

// Tracker is a bounded LRU map from node ID to its last known (ip, type)
// and failure state.
type Tracker struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a tracker bounded to size entries. size <= 0 falls back to
// a sane default.
func New(size int) *Tracker {
	if size <= 0 {
		size = defaultSize
	}
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only errors on size <= 0, already guarded above.
		panic(err)
	}
	return &Tracker{cache: cache}
}

// Track records or refreshes a node's last known (ip, type), clearing any
// prior failure state — a node that is being tracked again is assumed
// healthy until proven otherwise.
func (t *Tracker) Track(nodeID, ip, nodeType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(nodeID, &nodeInfo{ip: ip, nodeType: nodeType})
}

// Untrack drops a node from the tracker. The reconciler calls it when it
// terminates a node, whatever the provider's terminate call returned, and
// for a failed node that is no longer observed.
func (t *Tracker) Untrack(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(nodeID)
}

// MarkFailed records that a node's updater sequence failed, with a
// human-readable reason, for later inclusion in GetAllFailedNodeInfo.
func (t *Tracker) MarkFailed(nodeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.cache.Get(nodeID)
	var info *nodeInfo
	if ok {
		info = v.(*nodeInfo)
	} else {
		info = &nodeInfo{}
	}
	info.failed = true
	info.reason = reason
	t.cache.Add(nodeID, info)
}

// IP returns the last known IP for nodeID, if still tracked.
func (t *Tracker) IP(nodeID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.cache.Get(nodeID)
	if !ok {
		return "", false
	}
	return v.(*nodeInfo).ip, true
}

// GetAllFailedNodeInfo returns (ip, type, reason) for every tracked node
// marked failed whose ID is not in nonFailedSet. nonFailedSet is the
// caller's current active-or-pending node IDs for this tick: a node that
// failed an earlier update but has since gone active again, or that is
// still mid-update and therefore pending, is not reported as failed even
// if MarkFailed was called for it in the past.
func (t *Tracker) GetAllFailedNodeInfo(nonFailedSet map[string]struct{}) map[string]FailedNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]FailedNode)
	for _, key := range t.cache.Keys() {
		v, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		nodeID := key.(string)
		if _, alive := nonFailedSet[nodeID]; alive {
			continue
		}
		info := v.(*nodeInfo)
		if info.failed {
			out[nodeID] = FailedNode{IP: info.ip, NodeType: info.nodeType, Reason: info.reason}
		}
	}
	return out
}

// Len returns the number of currently tracked nodes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
