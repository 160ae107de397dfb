package provider

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
)

type simNode struct {
	id         string
	nodeType   string
	tags       map[string]string
	terminated bool
	launchedAt time.Time
}

// InMemory is a NodeProvider backed by an in-process map. It models an
// optional transient launch failure rate so the retry and
// error-classification paths are exercised without a real cloud account;
// created nodes are visible immediately, with no simulated launch latency.
type InMemory struct {
	mu    sync.Mutex
	nodes map[string]*simNode

	// LaunchFailureRate is the probability (0..1) that each single-node
	// creation attempt fails with a TransientError. CreateNode retries such
	// a failure up to three attempts per node before returning it.
	LaunchFailureRate float64
	rng               *rand.Rand
}

// NewInMemory creates an empty in-memory provider.
func NewInMemory() *InMemory {
	return &InMemory{
		nodes: make(map[string]*simNode),
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (p *InMemory) NonTerminatedNodes(tagFilters map[string]string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for id, n := range p.nodes {
		if n.terminated {
			continue
		}
		if !matchesTags(n.tags, tagFilters) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func matchesTags(tags, filters map[string]string) bool {
	for k, v := range filters {
		if tags[k] != v {
			return false
		}
	}
	return true
}

func (p *InMemory) IsRunning(nodeID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return false, ErrNodeNotFound
	}
	return !n.terminated, nil
}

func (p *InMemory) IsTerminated(nodeID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return true, nil
	}
	return n.terminated, nil
}

func (p *InMemory) NodeTags(nodeID string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	out := make(map[string]string, len(n.tags))
	for k, v := range n.tags {
		out[k] = v
	}
	return out, nil
}

func (p *InMemory) SetNodeTags(nodeID string, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	for k, v := range tags {
		n.tags[k] = v
	}
	return nil
}

func (p *InMemory) ExternalIP(nodeID string) (string, error) {
	return p.syntheticIP(nodeID)
}

func (p *InMemory) InternalIP(nodeID string) (string, error) {
	return p.syntheticIP(nodeID)
}

func (p *InMemory) syntheticIP(nodeID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[nodeID]; !ok {
		return "", ErrNodeNotFound
	}
	sum := 0
	for _, c := range nodeID {
		sum += int(c)
	}
	return fmt.Sprintf("10.%d.%d.%d", (sum>>16)&0xff, (sum>>8)&0xff, sum&0xff), nil
}

// CreateNode launches count nodes of nodeType, retrying transient
// failures with avast/retry-go before giving up.
func (p *InMemory) CreateNode(nodeType string, tags map[string]string, count int) error {
	for i := 0; i < count; i++ {
		err := retry.Do(
			func() error { return p.createOne(nodeType, tags) },
			retry.Attempts(3),
			retry.Delay(0),
			retry.RetryIf(IsTransient),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *InMemory) createOne(nodeType string, tags map[string]string) error {
	if p.LaunchFailureRate > 0 && p.rng.Float64() < p.LaunchFailureRate {
		return &TransientError{Op: "CreateNode", Err: fmt.Errorf("simulated capacity shortage for %s", nodeType)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := "node-" + uuid.NewString()
	merged := make(map[string]string, len(tags))
	for k, v := range tags {
		merged[k] = v
	}
	p.nodes[id] = &simNode{
		id:         id,
		nodeType:   nodeType,
		tags:       merged,
		launchedAt: time.Now(),
	}
	return nil
}

// RegisterNode inserts a node under an explicit ID, bypassing CreateNode's
// generated UUID. It exists for tests and for seeding a provider with
// nodes that already existed before the scaler started.
func (p *InMemory) RegisterNode(id, nodeType string, tags map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	merged := make(map[string]string, len(tags))
	for k, v := range tags {
		merged[k] = v
	}
	p.nodes[id] = &simNode{
		id:         id,
		nodeType:   nodeType,
		tags:       merged,
		launchedAt: time.Now(),
	}
}

func (p *InMemory) TerminateNode(nodeID string) error {
	return p.TerminateNodes([]string{nodeID})
}

func (p *InMemory) TerminateNodes(nodeIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range nodeIDs {
		if n, ok := p.nodes[id]; ok {
			n.terminated = true
		}
	}
	return nil
}
