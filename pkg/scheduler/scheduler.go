// Package scheduler turns node-type inventory, pending launches and
// resource demand into a launch plan, following the seven-step bin-packing
// algorithm the reconciler calls once per tick. Slice and map plumbing
// leans on github.com/samber/lo, the way the karpenter reference code uses
// it for resource-list manipulation in its own bin-packing helpers.
package scheduler

import (
	"sort"

	"github.com/samber/lo"

	"github.com/cuemby/clusterscaler/pkg/types"
)

// UnfulfilledReason explains why a demand bundle could not be placed.
type UnfulfilledReason string

const (
	// ReasonInfeasible means no configured node type could ever satisfy
	// the bundle, regardless of available slots.
	ReasonInfeasible UnfulfilledReason = "infeasible"
	// ReasonPending means a node type could satisfy the bundle but no
	// launch slot remained this tick.
	ReasonPending UnfulfilledReason = "pending"
)

// UnfulfilledBundle pairs a residual demand bundle with why it was not
// covered by this tick's plan.
type UnfulfilledBundle struct {
	Bundle types.ResourceBundle
	Reason UnfulfilledReason
}

// Input is everything the scheduler needs to compute one tick's launch
// plan. It takes no provider or config dependency directly so it can be
// tested in isolation.
type Input struct {
	NodeTypes       map[string]types.NodeTypeConfig
	ExistingWorkers map[string]int // count of live, non-terminated workers by type
	Pending         map[string]int // launches already in flight by type
	Demands         []types.ResourceBundle
	Requests        []types.ResourceBundle
	MaxWorkers      int
	UpscalingSpeed  float64
}

// Output is the scheduler's verdict for one tick.
type Output struct {
	Launches    map[string]int
	Unfulfilled []UnfulfilledBundle
}

// state carries the mutable bookkeeping threaded through the seven steps.
type state struct {
	nodeTypes map[string]types.NodeTypeConfig

	existing map[string]int
	pending  map[string]int
	proposed map[string]int

	totalExisting int
	totalPending  int
	totalProposed int

	maxWorkers int

	// nodeCaps models the fleet's remaining declared capacity (existing +
	// pending + proposed), one entry per node, consumed as bundles are
	// packed against it.
	nodeCaps []types.ResourceBundle

	// discretionaryOrder records, in the order proposed, which type each
	// non-min_workers launch added — trimmed from the tail if the
	// upscaling-speed cap is exceeded.
	discretionaryOrder []string
}

// Schedule runs the full algorithm and returns the launch plan.
func Schedule(in Input) Output {
	s := newState(in)

	// Step 3: min_workers is unconditional and exempt from the upscaling cap.
	for _, name := range sortedKeys(in.NodeTypes) {
		nt := in.NodeTypes[name]
		have := s.existing[name] + s.pending[name]
		if have < nt.MinWorkers {
			s.propose(name, nt.MinWorkers-have)
		}
	}

	s.rebuildNodeCaps()

	// Step 4: explicit resource requests must be satisfiable.
	requestUnfulfilled := s.satisfy(in.Requests)

	// Step 5: demand bundles, in order.
	demandUnfulfilled := s.satisfy(in.Demands)

	// Step 6: cap total discretionary growth.
	s.applyUpscalingCap(in.UpscalingSpeed)

	return Output{
		Launches:    s.proposed,
		Unfulfilled: append(requestUnfulfilled, demandUnfulfilled...),
	}
}

func newState(in Input) *state {
	s := &state{
		nodeTypes:  in.NodeTypes,
		existing:   cloneCounts(in.ExistingWorkers),
		pending:    cloneCounts(in.Pending),
		proposed:   make(map[string]int, len(in.NodeTypes)),
		maxWorkers: in.MaxWorkers,
	}
	s.totalExisting = lo.SumBy(lo.Values(s.existing), func(n int) int { return n })
	s.totalPending = lo.SumBy(lo.Values(s.pending), func(n int) int { return n })
	return s
}

// slotsFor returns how many more launches type name may receive right now,
// respecting both its own max_workers and the global max_workers.
func (s *state) slotsFor(name string) int {
	nt := s.nodeTypes[name]
	globalRemaining := s.maxWorkers - s.totalExisting - s.totalPending - s.totalProposed
	if globalRemaining < 0 {
		globalRemaining = 0
	}
	if nt.MaxWorkers <= 0 {
		return globalRemaining
	}
	used := s.existing[name] + s.pending[name] + s.proposed[name]
	perType := nt.MaxWorkers - used
	if perType < 0 {
		perType = 0
	}
	if perType < globalRemaining {
		return perType
	}
	return globalRemaining
}

// propose adds up to n launches of type name, bounded by available slots,
// and returns how many were actually added.
func (s *state) propose(name string, n int) int {
	if n <= 0 {
		return 0
	}
	avail := s.slotsFor(name)
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	s.proposed[name] += n
	s.totalProposed += n
	return n
}

// proposeOneDiscretionary is like propose but records the launch as
// discretionary (subject to the upscaling cap) and grows nodeCaps by one
// node's declared capacity on success.
func (s *state) proposeOneDiscretionary(name string) bool {
	if s.propose(name, 1) == 0 {
		return false
	}
	s.discretionaryOrder = append(s.discretionaryOrder, name)
	s.nodeCaps = append(s.nodeCaps, s.nodeTypes[name].Resources.Clone())
	return true
}

func (s *state) rebuildNodeCaps() {
	var caps []types.ResourceBundle
	for name, nt := range s.nodeTypes {
		count := s.existing[name] + s.pending[name] + s.proposed[name]
		for i := 0; i < count; i++ {
			caps = append(caps, nt.Resources.Clone())
		}
	}
	s.nodeCaps = caps
}

// satisfy bin-packs bundles against the fleet's remaining capacity,
// launching one additional node of the cheapest feasible type per
// still-unfulfilled bundle. Requests and demand bundles share this same
// placement logic; callers distinguish them only by which list they pass.
func (s *state) satisfy(bundles []types.ResourceBundle) []UnfulfilledBundle {
	var unfulfilled []UnfulfilledBundle

	for _, bundle := range bundles {
		if bundle.IsZero() {
			continue
		}

		remainingCaps, residual := BinPackResidual(s.nodeCaps, []types.ResourceBundle{bundle})
		if len(residual) == 0 {
			s.nodeCaps = remainingCaps
			continue
		}

		candidates := s.candidateTypesSortedByCost(bundle)
		placed := false
		for _, name := range candidates {
			if !s.proposeOneDiscretionary(name) {
				continue
			}
			remainingCaps, residual = BinPackResidual(s.nodeCaps, []types.ResourceBundle{bundle})
			if len(residual) == 0 {
				s.nodeCaps = remainingCaps
				placed = true
				break
			}
			s.nodeCaps = remainingCaps
		}

		if !placed {
			reason := ReasonPending
			if len(candidates) == 0 {
				reason = ReasonInfeasible
			}
			unfulfilled = append(unfulfilled, UnfulfilledBundle{Bundle: bundle, Reason: reason})
		}
	}

	return unfulfilled
}

// candidateTypesSortedByCost returns the node type names whose declared
// resources dominate bundle, cheapest first per the tie-break rule: smallest
// declared vector in lexicographic order of sorted (resource, amount)
// pairs, name as the final tiebreaker.
func (s *state) candidateTypesSortedByCost(bundle types.ResourceBundle) []string {
	candidates := lo.Filter(lo.Keys(s.nodeTypes), func(name string, _ int) bool {
		return bundle.Fits(s.nodeTypes[name].Resources)
	})
	sort.Slice(candidates, func(i, j int) bool {
		return lessCost(s.nodeTypes[candidates[i]].Resources, s.nodeTypes[candidates[j]].Resources, candidates[i], candidates[j])
	})
	return candidates
}

// applyUpscalingCap trims the most recently proposed discretionary launches
// until the total respects max(5, ceil(upscaling_speed * (existing + pending))).
// min_workers launches, proposed before discretionaryOrder existed, are
// never touched.
func (s *state) applyUpscalingCap(upscalingSpeed float64) {
	limit := upscalingCap(upscalingSpeed, s.totalExisting+s.totalPending)
	for len(s.discretionaryOrder) > limit {
		last := s.discretionaryOrder[len(s.discretionaryOrder)-1]
		s.discretionaryOrder = s.discretionaryOrder[:len(s.discretionaryOrder)-1]
		s.proposed[last]--
		s.totalProposed--
		if s.proposed[last] == 0 {
			delete(s.proposed, last)
		}
	}
}

func upscalingCap(upscalingSpeed float64, base int) int {
	speedCap := ceilf(upscalingSpeed * float64(base))
	if speedCap < 5 {
		return 5
	}
	return speedCap
}

func ceilf(f float64) int {
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}

// IsFeasible reports whether some node type's declared resources dominate
// bundle.
func IsFeasible(nodeTypes map[string]types.NodeTypeConfig, bundle types.ResourceBundle) bool {
	for _, nt := range nodeTypes {
		if bundle.Fits(nt.Resources) {
			return true
		}
	}
	return false
}

// BinPackResidual greedily packs bundles against nodeResources in input
// order: each bundle consumes from the first node capacity that still fits
// it. It is order-sensitive by design — callers sort nodeResources by
// whatever priority should fill first (e.g. most-recently-used nodes when
// the reconciler computes its protected set).
func BinPackResidual(nodeResources []types.ResourceBundle, bundles []types.ResourceBundle) ([]types.ResourceBundle, []types.ResourceBundle) {
	remaining := make([]types.ResourceBundle, len(nodeResources))
	for i, n := range nodeResources {
		remaining[i] = n.Clone()
	}

	var leftover []types.ResourceBundle
	for _, bundle := range bundles {
		placed := false
		for i, node := range remaining {
			if bundle.Fits(node) {
				remaining[i] = node.Sub(bundle)
				placed = true
				break
			}
		}
		if !placed {
			leftover = append(leftover, bundle)
		}
	}
	return remaining, leftover
}

func lessCost(a, b types.ResourceBundle, nameA, nameB string) bool {
	pairsA := sortedPairs(a)
	pairsB := sortedPairs(b)
	for i := 0; i < len(pairsA) && i < len(pairsB); i++ {
		if pairsA[i].key != pairsB[i].key {
			return pairsA[i].key < pairsB[i].key
		}
		if pairsA[i].value != pairsB[i].value {
			return pairsA[i].value < pairsB[i].value
		}
	}
	if len(pairsA) != len(pairsB) {
		return len(pairsA) < len(pairsB)
	}
	return nameA < nameB
}

type kv struct {
	key   string
	value float64
}

func sortedPairs(b types.ResourceBundle) []kv {
	pairs := make([]kv, 0, len(b))
	for k, v := range b {
		pairs = append(pairs, kv{key: k, value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return pairs
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]types.NodeTypeConfig) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
