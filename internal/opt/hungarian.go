package opt

import (
	"math"
	"time"
)

// minCostAssign solves the square assignment problem for the given cost
// matrix with the Hungarian method (potentials formulation, O(n^3)).
// match[i] is the column assigned to row i. Deterministic for a fixed
// matrix. The deadline is checked once per augmenting row; a zero
// deadline disables the check.
func minCostAssign(cost [][]float64, deadline time.Time) ([]int, error) {
	n := len(cost)
	if n == 0 {
		return nil, nil
	}

	// 1-indexed working arrays; index 0 is the virtual start column.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)   // p[j]: row currently matched to column j
	way := make([]int, n+1) // predecessor column on the alternating path

	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	for i := 1; i <= n; i++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrSolverTimeout
		}
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		// Flip the alternating path back to the start column.
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	match := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			match[p[j]-1] = j - 1
		}
	}
	return match, nil
}
