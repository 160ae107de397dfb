package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackAndIP(t *testing.T) {
	tr := New(10)
	tr.Track("node-1", "10.0.0.1", "worker")

	ip, ok := tr.IP("node-1")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)
}

func TestUntrackRemovesNode(t *testing.T) {
	tr := New(10)
	tr.Track("node-1", "10.0.0.1", "worker")
	tr.Untrack("node-1")

	_, ok := tr.IP("node-1")
	assert.False(t, ok)
}

func TestMarkFailedSurfacesInGetAllFailedNodeInfo(t *testing.T) {
	tr := New(10)
	tr.Track("node-1", "10.0.0.1", "worker")
	tr.Track("node-2", "10.0.0.2", "worker")
	tr.MarkFailed("node-1", "ssh timeout")

	failed := tr.GetAllFailedNodeInfo(nil)
	assert.Equal(t, map[string]FailedNode{
		"node-1": {IP: "10.0.0.1", NodeType: "worker", Reason: "ssh timeout"},
	}, failed)
}

func TestMarkFailedWithoutPriorTrackStillRecorded(t *testing.T) {
	tr := New(10)
	tr.MarkFailed("node-3", "unknown node")

	failed := tr.GetAllFailedNodeInfo(nil)
	assert.Equal(t, "unknown node", failed["node-3"].Reason)
}

func TestRetrackClearsFailure(t *testing.T) {
	tr := New(10)
	tr.Track("node-1", "10.0.0.1", "worker")
	tr.MarkFailed("node-1", "boom")
	tr.Track("node-1", "10.0.0.2", "worker")

	failed := tr.GetAllFailedNodeInfo(nil)
	_, stillFailed := failed["node-1"]
	assert.False(t, stillFailed)
}

// A node marked failed is excluded once it appears in the caller's
// non-failed set — it has since gone active or is still pending.
func TestNonFailedSetExcludesRecoveredNode(t *testing.T) {
	tr := New(10)
	tr.Track("node-1", "10.0.0.1", "worker")
	tr.MarkFailed("node-1", "boom")

	failed := tr.GetAllFailedNodeInfo(map[string]struct{}{"node-1": {}})
	_, stillFailed := failed["node-1"]
	assert.False(t, stillFailed, "a node in the non-failed set must never be reported failed")

	failed = tr.GetAllFailedNodeInfo(nil)
	_, stillFailed = failed["node-1"]
	assert.True(t, stillFailed)
}

func TestBoundedEviction(t *testing.T) {
	tr := New(2)
	tr.Track("a", "1", "worker")
	tr.Track("b", "2", "worker")
	tr.Track("c", "3", "worker")

	assert.LessOrEqual(t, tr.Len(), 2)
}
