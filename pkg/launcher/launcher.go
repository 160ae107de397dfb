// Package launcher runs a bounded pool of goroutines that turn scheduler
// launch decisions into NodeProvider.CreateNode calls, the way the
// original autoscaler sized its launcher thread pool to
// ceil(max_concurrent_launches / max_launch_batch) and fed it from a
// queue the main scaler loop never blocks on.
package launcher

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/clusterscaler/pkg/counter"
	"github.com/cuemby/clusterscaler/pkg/log"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/provider"
)

// queueDepth bounds how many launch requests can be outstanding before the
// reconciler's Enqueue calls start dropping requests rather than blocking.
// Open Question 1 in the design notes resolves in favor of drop-and-log
// over unbounded growth.
const queueDepth = 1000

// Request is one launch ask: count nodes of nodeType, tagged with tags.
type Request struct {
	NodeType string
	Tags     map[string]string
	Count    int
}

// Pool is a fixed-size worker pool draining a bounded request queue.
type Pool struct {
	provider       provider.NodeProvider
	logger         zerolog.Logger
	counter        *counter.Concurrent
	maxLaunchBatch int

	queue  chan Request
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool sizes the worker pool to ceil(maxConcurrentLaunches / maxLaunchBatch),
// per spec, with a minimum of one worker.
func NewPool(p provider.NodeProvider, maxConcurrentLaunches, maxLaunchBatch int) *Pool {
	if maxLaunchBatch <= 0 {
		maxLaunchBatch = 1
	}
	workers := int(math.Ceil(float64(maxConcurrentLaunches) / float64(maxLaunchBatch)))
	if workers < 1 {
		workers = 1
	}

	pool := &Pool{
		provider:       p,
		logger:         log.WithComponent("launcher"),
		counter:        counter.New(),
		maxLaunchBatch: maxLaunchBatch,
		queue:          make(chan Request, queueDepth),
		stopCh:         make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool
}

// Enqueue submits a launch request without blocking. It returns false if
// the queue is full, in which case the request is dropped and logged —
// the reconciler must never stall waiting for launcher capacity. The
// pending counter is incremented here, by req.Count nodes, the moment the
// request is accepted, since InFlight must count nodes requested but not
// yet observed as non-terminated, not requests.
func (p *Pool) Enqueue(req Request) bool {
	select {
	case p.queue <- req:
		p.counter.Inc(req.NodeType, req.Count)
		metrics.LaunchQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		metrics.LaunchQueueDroppedTotal.Inc()
		p.logger.Warn().Str("node_type", req.NodeType).Int("count", req.Count).
			Msg("launch queue full, dropping request")
		return false
	}
}

// InFlight returns the number of nodes of nodeType currently being
// launched (requests accepted but not yet resolved).
func (p *Pool) InFlight(nodeType string) int {
	return p.counter.Value(nodeType)
}

// Stop signals all workers to exit after draining in-flight work and waits
// for them to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.queue:
			p.handle(req)
		case <-p.stopCh:
			return
		}
	}
}

// handle splits req into calls of at most maxLaunchBatch nodes each, per
// spec, rather than handing the full count to the provider in one call.
// The pending counter, incremented by req.Count at Enqueue, is decremented
// by the same amount once every batch has resolved (or failed).
func (p *Pool) handle(req Request) {
	defer p.counter.Dec(req.NodeType, req.Count)

	metrics.LaunchQueueDepth.Set(float64(len(p.queue)))

	remaining := req.Count
	launched := 0
	for remaining > 0 {
		batch := remaining
		if batch > p.maxLaunchBatch {
			batch = p.maxLaunchBatch
		}

		if err := p.provider.CreateNode(req.NodeType, req.Tags, batch); err != nil {
			metrics.LaunchFailuresTotal.WithLabelValues(req.NodeType).Inc()
			p.logger.Error().Err(err).Str("node_type", req.NodeType).Int("count", batch).
				Msg("failed to launch nodes")
			break
		}

		metrics.LaunchesTotal.WithLabelValues(req.NodeType).Add(float64(batch))
		launched += batch
		remaining -= batch
	}

	p.logger.Info().Str("node_type", req.NodeType).Int("requested", req.Count).Int("launched", launched).
		Msg("launched nodes")
}
