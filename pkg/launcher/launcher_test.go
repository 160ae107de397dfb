package launcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/clusterscaler/pkg/provider"
)

// recordingProvider wraps an InMemory provider and records the count
// passed to every CreateNode call, so tests can assert on batch sizes.
type recordingProvider struct {
	*provider.InMemory
	mu     sync.Mutex
	counts []int
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{InMemory: provider.NewInMemory()}
}

func (r *recordingProvider) CreateNode(nodeType string, tags map[string]string, count int) error {
	r.mu.Lock()
	r.counts = append(r.counts, count)
	r.mu.Unlock()
	return r.InMemory.CreateNode(nodeType, tags, count)
}

func (r *recordingProvider) callCounts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.counts))
	copy(out, r.counts)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestNewPoolWithUnevenBatchSize(t *testing.T) {
	p := NewPool(provider.NewInMemory(), 10, 3)
	defer p.Stop()
	// The worker count, ceil(10/3), is not observable from outside; this
	// only checks that such a pool can be built and stopped.
	assert.NotNil(t, p)
}

func TestEnqueueLaunchesNodes(t *testing.T) {
	prov := provider.NewInMemory()
	pool := NewPool(prov, 5, 5)
	defer pool.Stop()

	ok := pool.Enqueue(Request{NodeType: "worker", Count: 2})
	require.True(t, ok)

	waitFor(t, time.Second, func() bool {
		ids, _ := prov.NonTerminatedNodes(nil)
		return len(ids) == 2
	})
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	prov := provider.NewInMemory()
	pool := NewPool(prov, 1, 1)
	defer pool.Stop()

	accepted := 0
	for i := 0; i < queueDepth+10; i++ {
		if pool.Enqueue(Request{NodeType: "worker", Count: 1}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, queueDepth)
}

func TestInFlightTracksOutstandingRequests(t *testing.T) {
	prov := provider.NewInMemory()
	pool := NewPool(prov, 1, 1)
	defer pool.Stop()

	pool.Enqueue(Request{NodeType: "worker", Count: 1})

	waitFor(t, time.Second, func() bool {
		ids, _ := prov.NonTerminatedNodes(nil)
		return len(ids) == 1
	})
	assert.Equal(t, 0, pool.InFlight("worker"))
}

// InFlight must count nodes requested, not requests accepted: a single
// Request{Count: 5} contributes 5 to the pending count, not 1.
func TestInFlightCountsNodesNotRequests(t *testing.T) {
	prov := provider.NewInMemory()
	pool := NewPool(prov, 1, 1)
	defer pool.Stop()

	pool.Enqueue(Request{NodeType: "worker", Count: 5})
	// The counter is incremented synchronously inside Enqueue, before any
	// worker goroutine has had a chance to run, so this is observable
	// immediately without a wait.
	assert.Equal(t, 5, pool.InFlight("worker"))

	waitFor(t, time.Second, func() bool {
		ids, _ := prov.NonTerminatedNodes(nil)
		return len(ids) == 5
	})
	waitFor(t, time.Second, func() bool {
		return pool.InFlight("worker") == 0
	})
}

// A request for more nodes than maxLaunchBatch must be split into separate
// CreateNode calls, each bounded by maxLaunchBatch.
func TestHandleSplitsIntoLaunchBatches(t *testing.T) {
	prov := newRecordingProvider()
	pool := NewPool(prov, 2, 3)
	defer pool.Stop()

	pool.Enqueue(Request{NodeType: "worker", Count: 7})

	waitFor(t, time.Second, func() bool {
		ids, _ := prov.NonTerminatedNodes(nil)
		return len(ids) == 7
	})

	counts := prov.callCounts()
	require.Len(t, counts, 3, "7 nodes at batch size 3 must be 3 calls")
	total := 0
	for _, c := range counts {
		assert.LessOrEqual(t, c, 3)
		total += c
	}
	assert.Equal(t, 7, total)
}
