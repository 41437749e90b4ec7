package opt

import (
	"math"

	"dispo/internal/model"
)

// windowRisk rates how tight an order's load window is relative to its
// service time, in (0,1]. need = loading + unloading; slack = window span
// beyond the loading duration. A generous window pushes the value toward
// zero, a window that barely fits pushes it toward one.
func windowRisk(o model.Order) float64 {
	need := o.LoadingH + o.UnloadingH
	if need <= 0 {
		return 0
	}
	slack := math.Max(0, (o.LoadLateH-o.LoadEarlyH)-o.LoadingH)
	return need / (need + slack)
}

// priorityReward maps the ordinal priority (1 = highest) to its weight
// term: 1 -> 3, 2 -> 2, 3 -> 1.
func priorityReward(priority int) float64 {
	return float64(4 - priority)
}

// scorePairs fills Pair.Score for every feasible pair. Lower is better:
//
//	score = dw*normalizedDistance + tw*windowRisk - pw*priorityReward
//
// normalizedDistance divides each pair's total distance by the largest
// total among that order's feasible pairs, so a remote order cannot
// dominate the objective on raw kilometers alone.
func scorePairs(ps *pairSet, orders []model.Order, params model.Parameters) {
	for oi, idxs := range ps.byOrder {
		maxKm := 0.0
		for _, pi := range idxs {
			if km := ps.pairs[pi].TotalKm(); km > maxKm {
				maxKm = km
			}
		}
		risk := windowRisk(orders[oi])
		reward := priorityReward(orders[oi].Priority)
		for _, pi := range idxs {
			norm := 1.0
			if maxKm > 0 {
				norm = ps.pairs[pi].TotalKm() / maxKm
			}
			ps.pairs[pi].Score = params.DistancePriority*norm +
				params.TimeWindowPriority*risk -
				params.OrderPriorityWeight*reward
		}
	}
}
