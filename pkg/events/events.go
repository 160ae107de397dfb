package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/clusterscaler/pkg/log"
	"github.com/rs/zerolog"
)

// Summarizer batches repeated events within a reconciler tick into a single
// aggregated line instead of one log line per node, the way
// cluster_scaler.py's EventSummarizer folds many "launching node" calls
// into one "Adding N nodes of type X" message per tick.
//
// Add accumulates a quantity under a template key; Flush emits one log
// line per template with the accumulated quantity substituted in, then
// clears the accumulator for the next tick. AddOncePerInterval additionally
// suppresses a message entirely if the same key fired within the last
// interval, for noisy per-tick warnings that should not repeat every few
// seconds (e.g. "waiting for node to become reachable").
type Summarizer struct {
	mu     sync.Mutex
	logger zerolog.Logger

	pending map[string]int       // template -> accumulated quantity
	order   []string             // insertion order, for deterministic flush output
	lastFired map[string]time.Time // suppression key -> last time it fired
}

// NewSummarizer creates an event summarizer.
func NewSummarizer() *Summarizer {
	return &Summarizer{
		logger:    log.WithComponent("events"),
		pending:   make(map[string]int),
		lastFired: make(map[string]time.Time),
	}
}

// Add accumulates quantity under template. template should contain exactly
// one "%d" verb for the aggregated count, e.g. "launching %d worker nodes".
func (s *Summarizer) Add(template string, quantity int) {
	if quantity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[template]; !ok {
		s.order = append(s.order, template)
	}
	s.pending[template] += quantity
}

// AddOncePerInterval logs message immediately (bypassing batching) unless
// key already fired within interval, in which case the call is a no-op.
// It reports whether the message was actually emitted.
func (s *Summarizer) AddOncePerInterval(key, message string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.lastFired[key]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastFired[key] = now
	s.logger.Info().Msg(message)
	return true
}

// Flush emits one log line per accumulated template and resets the
// accumulator. It returns the emitted lines for callers (tests, snapshot)
// that want the summary text without re-parsing logs.
func (s *Summarizer) Flush() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}

	keys := s.order
	lines := make([]string, 0, len(keys))
	for _, template := range keys {
		quantity := s.pending[template]
		line := fmt.Sprintf(template, quantity)
		s.logger.Info().Msg(line)
		lines = append(lines, line)
	}

	s.pending = make(map[string]int)
	s.order = nil
	return lines
}
