package opt

import (
	"context"
	"errors"
	"sort"
	"time"

	"dispo/internal/model"
)

// Solver phase markers, reported in SolveMetrics for observability.
const (
	PhaseInit  = "INIT"
	PhaseBuild = "BUILD_COST_MATRIX"
	PhaseSolve = "SOLVE"
	PhaseDone  = "DONE"
)

const (
	AlgorithmExact  = "exact"
	AlgorithmGreedy = "greedy"
)

// SolveMetrics describes a single solver invocation.
type SolveMetrics struct {
	Pairs          int    `json:"pairs"`
	MatrixN        int    `json:"matrixN,omitempty"`
	Algorithm      string `json:"algorithm"`
	HeuristicUsed  bool   `json:"heuristicUsed"`
	FallbackReason string `json:"fallbackReason,omitempty"`
	Phase          string `json:"phase"`
}

// solveResult maps each free-order index to its chosen pair (-1 when
// unmatched) and carries the pair set for schedule extraction.
type solveResult struct {
	chosen  []int
	pairs   *pairSet
	metrics SolveMetrics
}

// solveFree runs the solver state machine over the free subproblem. The
// instance is stateless across calls; everything flows in as arguments.
// ctx carries caller cancellation, checked at phase boundaries; the
// deadline bounds only the exact solve, whose expiry (like an oversized
// instance) degrades to the greedy path instead of failing the run.
func solveFree(ctx context.Context, vehicles []model.Vehicle, orders []model.Order,
	params model.Parameters, opts Options, deadline time.Time) (solveResult, error) {

	res := solveResult{metrics: SolveMetrics{Phase: PhaseInit}}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.metrics.Phase = PhaseBuild
	ps := buildPairs(vehicles, orders, opts.SpeedKph)
	scorePairs(ps, orders, params)
	res.pairs = ps
	res.metrics.Pairs = len(ps.pairs)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.metrics.Phase = PhaseSolve
	exact := opts.Algorithm != AlgorithmGreedy
	if exact && opts.Algorithm != AlgorithmExact &&
		opts.MaxExactPairs > 0 && len(vehicles)*len(orders) > opts.MaxExactPairs {
		exact = false
		res.metrics.FallbackReason = ErrSolverUnavailable.Error() + ": instance exceeds pair budget"
	}

	if exact {
		chosen, err := solveExact(ps, vehicles, orders, opts, deadline)
		switch {
		case err == nil:
			res.chosen = chosen
			res.metrics.Algorithm = AlgorithmExact
			res.metrics.MatrixN = len(vehicles) + len(orders)
			res.metrics.Phase = PhaseDone
			return res, nil
		case errors.Is(err, ErrSolverTimeout) || errors.Is(err, ErrSolverUnavailable):
			res.metrics.FallbackReason = err.Error()
		default:
			return res, err
		}
	}

	res.chosen = greedyAssign(ps, vehicles, orders)
	res.metrics.Algorithm = AlgorithmGreedy
	res.metrics.HeuristicUsed = true
	res.metrics.Phase = PhaseDone
	return res, nil
}

// solveExact lays the feasible graph into a square cost matrix and runs
// the Hungarian method. Rows are free orders sorted by (priority, id),
// columns are free vehicles sorted by id; both pads and the fixed
// ordering keep results reproducible. Each order also gets access to a
// dummy "stay unassigned" column at the fixed penalty, so an unmatched
// order is a costed outcome, not an error.
func solveExact(ps *pairSet, vehicles []model.Vehicle, orders []model.Order,
	opts Options, deadline time.Time) ([]int, error) {

	nOrders := len(orders)
	nVehicles := len(vehicles)
	n := nOrders + nVehicles
	if n == 0 {
		return make([]int, 0), nil
	}

	rowOrder := make([]int, nOrders)
	for i := range rowOrder {
		rowOrder[i] = i
	}
	sort.Slice(rowOrder, func(a, b int) bool {
		oa, ob := orders[rowOrder[a]], orders[rowOrder[b]]
		if oa.Priority != ob.Priority {
			return oa.Priority < ob.Priority
		}
		return oa.ID < ob.ID
	})
	colVehicle := make([]int, nVehicles)
	for i := range colVehicle {
		colVehicle[i] = i
	}
	sort.Slice(colVehicle, func(a, b int) bool {
		return vehicles[colVehicle[a]].ID < vehicles[colVehicle[b]].ID
	})

	penalty := opts.NoAssignPenalty
	blocked := penalty * 4 // dominated by the dummy column, never picked

	// pairAt[row][col] remembers which feasible pair backs a real cell.
	pairAt := make([][]int, nOrders)
	cost := make([][]float64, n)
	for r := 0; r < n; r++ {
		cost[r] = make([]float64, n)
		if r >= nOrders {
			continue // dummy rows absorb spare vehicles at zero cost
		}
		pairAt[r] = make([]int, nVehicles)
		oi := rowOrder[r]
		for c := 0; c < nVehicles; c++ {
			cost[r][c] = blocked
			pairAt[r][c] = -1
		}
		for c := nVehicles; c < n; c++ {
			cost[r][c] = penalty
		}
		for _, pi := range ps.byOrder[oi] {
			p := ps.pairs[pi]
			for c := 0; c < nVehicles; c++ {
				if colVehicle[c] == p.V {
					cost[r][c] = p.Score
					pairAt[r][c] = pi
					break
				}
			}
		}
	}

	match, err := minCostAssign(cost, deadline)
	if err != nil {
		return nil, err
	}

	chosen := make([]int, nOrders)
	for i := range chosen {
		chosen[i] = -1
	}
	for r := 0; r < nOrders; r++ {
		c := match[r]
		if c < nVehicles && pairAt[r][c] >= 0 {
			chosen[rowOrder[r]] = pairAt[r][c]
		}
	}
	return chosen, nil
}
