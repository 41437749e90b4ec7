package opt

import (
	"sort"

	"dispo/internal/model"
)

// greedyAssign is the heuristic path: orders are processed by ascending
// priority ordinal (1 first), ties by earlier load-window start, then by
// identifier; each order takes the lowest-scoring feasible vehicle still
// in the pool, ties by smaller vehicle identifier. Returns, per order
// index, the chosen pair index into ps.pairs or -1.
func greedyAssign(ps *pairSet, vehicles []model.Vehicle, orders []model.Order) []int {
	seq := make([]int, len(orders))
	for i := range seq {
		seq[i] = i
	}
	sort.Slice(seq, func(a, b int) bool {
		oa, ob := orders[seq[a]], orders[seq[b]]
		if oa.Priority != ob.Priority {
			return oa.Priority < ob.Priority
		}
		if oa.LoadEarlyH != ob.LoadEarlyH {
			return oa.LoadEarlyH < ob.LoadEarlyH
		}
		return oa.ID < ob.ID
	})

	taken := make([]bool, len(vehicles))
	chosen := make([]int, len(orders))
	for i := range chosen {
		chosen[i] = -1
	}

	for _, oi := range seq {
		best := -1
		for _, pi := range ps.byOrder[oi] {
			p := ps.pairs[pi]
			if taken[p.V] {
				continue
			}
			if best == -1 {
				best = pi
				continue
			}
			b := ps.pairs[best]
			if p.Score < b.Score ||
				(p.Score == b.Score && vehicles[p.V].ID < vehicles[b.V].ID) {
				best = pi
			}
		}
		if best >= 0 {
			chosen[oi] = best
			taken[ps.pairs[best].V] = true
		}
	}
	return chosen
}
