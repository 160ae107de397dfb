// Package snapshot builds the operator-facing picture of cluster state
// the reconciler publishes at the end of every tick.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
)

// PendingNode describes a worker still converging toward up-to-date.
type PendingNode struct {
	IP     string
	Type   string
	Status string
}

// FailedNode describes a worker the node tracker believes has failed.
type FailedNode struct {
	IP     string
	Type   string
	Reason string
}

// Snapshot is the point-in-time summary of the cluster the reconciler
// builds at the end of each tick.
type Snapshot struct {
	ActiveByType   map[string]int
	Pending        []PendingNode
	PendingLaunches map[string]int // type -> count, only entries > 0
	Failed         []FailedNode
}

// New creates an empty snapshot.
func New() *Snapshot {
	return &Snapshot{
		ActiveByType:    make(map[string]int),
		PendingLaunches: make(map[string]int),
	}
}

// String renders the snapshot as a UTF-8 text table for operators, the way
// the teacher's CLI formats node/service listings with fmt.Sprintf tables
// rather than a structured dump.
func (s *Snapshot) String() string {
	var b strings.Builder

	b.WriteString("Active workers:\n")
	if len(s.ActiveByType) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, t := range sortedKeys(s.ActiveByType) {
			fmt.Fprintf(&b, "  %-20s %d\n", t, s.ActiveByType[t])
		}
	}

	b.WriteString("Pending launches:\n")
	if len(s.PendingLaunches) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, t := range sortedKeys(s.PendingLaunches) {
			fmt.Fprintf(&b, "  %-20s %d\n", t, s.PendingLaunches[t])
		}
	}

	b.WriteString("Pending nodes:\n")
	if len(s.Pending) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, p := range s.Pending {
			fmt.Fprintf(&b, "  %-16s %-20s %s\n", p.IP, p.Type, p.Status)
		}
	}

	b.WriteString("Failed nodes:\n")
	if len(s.Failed) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, f := range s.Failed {
			fmt.Fprintf(&b, "  %-16s %-20s %s\n", f.IP, f.Type, f.Reason)
		}
	}

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
