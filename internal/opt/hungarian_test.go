package opt

import (
	"errors"
	"testing"
	"time"
)

func TestMinCostAssignSmall(t *testing.T) {
	cost := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	match, err := minCostAssign(cost, time.Time{})
	if err != nil {
		t.Fatalf("minCostAssign: %v", err)
	}
	// Optimum is 1 + 2 + 2 = 5: row0->col1, row1->col0, row2->col2.
	want := []int{1, 0, 2}
	total := 0.0
	for i, j := range match {
		if j != want[i] {
			t.Fatalf("row %d: got col %d, want %d", i, j, want[i])
		}
		total += cost[i][j]
	}
	if total != 5 {
		t.Fatalf("total cost: got %f, want 5", total)
	}
}

func TestMinCostAssignNegativeCosts(t *testing.T) {
	cost := [][]float64{
		{-3, 1},
		{2, -4},
	}
	match, err := minCostAssign(cost, time.Time{})
	if err != nil {
		t.Fatalf("minCostAssign: %v", err)
	}
	if match[0] != 0 || match[1] != 1 {
		t.Fatalf("got %v, want [0 1]", match)
	}
}

func TestMinCostAssignPermutation(t *testing.T) {
	cost := [][]float64{
		{1, 9, 9, 9},
		{9, 9, 1, 9},
		{9, 1, 9, 9},
		{9, 9, 9, 1},
	}
	match, err := minCostAssign(cost, time.Time{})
	if err != nil {
		t.Fatalf("minCostAssign: %v", err)
	}
	seen := map[int]bool{}
	for i, j := range match {
		if cost[i][j] != 1 {
			t.Fatalf("row %d matched col %d with cost %f", i, j, cost[i][j])
		}
		if seen[j] {
			t.Fatalf("column %d assigned twice", j)
		}
		seen[j] = true
	}
}

func TestMinCostAssignDeadline(t *testing.T) {
	cost := [][]float64{{1, 2}, {3, 4}}
	_, err := minCostAssign(cost, time.Now().Add(-time.Second))
	if !errors.Is(err, ErrSolverTimeout) {
		t.Fatalf("expected ErrSolverTimeout, got %v", err)
	}
}
