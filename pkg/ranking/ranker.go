// Package ranking orders intersections by priority.
package ranking

import (
	"sort"

	"github.com/samber/lo"

	"github.com/anggasct/greensplit/pkg/intersection"
)

// Entry is an (identity, priority) pair valid for a single cycle
type Entry struct {
	ID       int
	Priority float64
}

// Prioritized is anything that can report an identity and a priority
type Prioritized interface {
	ID() int
	Priority() float64
}

// Rank returns one entry per node sorted by priority, highest first.
// Ties keep their input order. Nodes are only read.
func Rank[T Prioritized](nodes []T) []Entry {
	entries := lo.Map(nodes, func(n T, _ int) Entry {
		return Entry{ID: n.ID(), Priority: n.Priority()}
	})
	sortDescending(entries)
	return entries
}

// RankSnapshots ranks copies taken earlier with Node.Snapshot
func RankSnapshots(snapshots []intersection.Snapshot) []Entry {
	entries := lo.Map(snapshots, func(s intersection.Snapshot, _ int) Entry {
		return Entry{ID: s.ID, Priority: s.Priority}
	})
	sortDescending(entries)
	return entries
}

// Total sums the priorities of a ranked list
func Total(entries []Entry) float64 {
	return lo.SumBy(entries, func(e Entry) float64 { return e.Priority })
}

func sortDescending(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})
}
