// Package allocation divides a fixed green-time budget among ranked
// intersections in proportion to their priorities.
package allocation

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/anggasct/greensplit/pkg/ranking"
	"github.com/anggasct/greensplit/pkg/utils"
)

// DegeneratePolicy decides the shares of a cycle in which every node is idle
type DegeneratePolicy string

const (
	// EqualSplit gives every node budget/n
	EqualSplit DegeneratePolicy = "equal-split"
	// ZeroAll gives every node nothing
	ZeroAll DegeneratePolicy = "zero"
)

// ParseDegeneratePolicy converts a configuration string into a policy
func ParseDegeneratePolicy(s string) (DegeneratePolicy, error) {
	switch p := DegeneratePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case EqualSplit, ZeroAll:
		return p, nil
	case "":
		return EqualSplit, nil
	default:
		return "", utils.NewConfigurationError("degenerate_policy",
			fmt.Sprintf("unknown degenerate policy %q, want %q or %q", s, EqualSplit, ZeroAll))
	}
}

// Target is a node that can receive a share
type Target interface {
	ID() int
	SetAllocatedTime(value float64)
}

// Result describes one allocation pass
type Result struct {
	// Shares by node identity
	Shares map[int]float64
	// TotalPriority is the sum over the ranked list
	TotalPriority float64
	// Degenerate is set when TotalPriority was zero and the policy decided the shares
	Degenerate bool
	Policy     DegeneratePolicy
}

// Sum adds up all shares
func (r Result) Sum() float64 {
	return lo.Sum(lo.Values(r.Shares))
}

// Allocate computes every node's share of budget from the ranked list and
// writes it with SetAllocatedTime. Every check runs before the first write,
// so on error all nodes keep their previous allocation.
func Allocate[T Target](ranked []ranking.Entry, nodes []T, budget float64, policy DegeneratePolicy) (Result, error) {
	if budget <= 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return Result{}, utils.ErrInvalidBudget.WithDetail("budget", budget)
	}
	if policy == "" {
		policy = EqualSplit
	}
	if policy != EqualSplit && policy != ZeroAll {
		return Result{}, utils.NewConfigurationError("degenerate_policy",
			fmt.Sprintf("unknown degenerate policy %q", policy))
	}

	byID, err := indexNodes(nodes)
	if err != nil {
		return Result{}, err
	}
	if err := checkRanked(ranked, byID); err != nil {
		return Result{}, err
	}

	total := ranking.Total(ranked)
	if math.IsInf(total, 0) {
		return Result{}, utils.ErrPriorityOverflow.WithMessage("total priority overflowed").
			WithDetail("nodes", len(ranked))
	}

	result := Result{
		Shares:        make(map[int]float64, len(ranked)),
		TotalPriority: total,
		Policy:        policy,
	}

	if total == 0 {
		result.Degenerate = true
		share := 0.0
		if policy == EqualSplit && len(ranked) > 0 {
			share = budget / float64(len(ranked))
		}
		for _, e := range ranked {
			result.Shares[e.ID] = share
		}
	} else {
		for _, e := range ranked {
			result.Shares[e.ID] = clamp(e.Priority/total*budget, budget)
		}
	}

	for id, share := range result.Shares {
		byID[id].SetAllocatedTime(share)
	}
	return result, nil
}

func indexNodes[T Target](nodes []T) (map[int]T, error) {
	byID := make(map[int]T, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID()]; dup {
			return nil, utils.NewConsistencyError("duplicate node identity", n.ID())
		}
		byID[n.ID()] = n
	}
	return byID, nil
}

func checkRanked[T Target](ranked []ranking.Entry, byID map[int]T) error {
	seen := make(map[int]struct{}, len(ranked))
	for _, e := range ranked {
		if _, ok := byID[e.ID]; !ok {
			return utils.NewConsistencyError("ranked identity has no matching node", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return utils.NewConsistencyError("identity ranked more than once", e.ID)
		}
		if math.IsInf(e.Priority, 1) {
			return utils.ErrPriorityOverflow.WithNode(e.ID).WithDetail("priority", e.Priority)
		}
		if e.Priority < 0 || math.IsNaN(e.Priority) {
			return utils.NewConsistencyError("ranked priority is not a finite non-negative number", e.ID).
				WithDetail("priority", e.Priority)
		}
		seen[e.ID] = struct{}{}
	}

	missing := lo.Filter(lo.Keys(byID), func(id int, _ int) bool {
		_, ok := seen[id]
		return !ok
	})
	if len(missing) > 0 {
		return utils.NewConsistencyError("node missing from ranked list", lo.Min(missing)).
			WithDetail("missing", len(missing))
	}
	return nil
}

func clamp(v, budget float64) float64 {
	return math.Max(0, math.Min(v, budget))
}
