// Package matching solves the rectangular assignment problem.
//
// Assign pairs rows with columns of a cost matrix so that every row and every
// column is used at most once, min(rows, cols) pairs are formed and the total
// cost is minimal. Callers that want to maximize a benefit negate it first.
//
// The implementation is the Hungarian algorithm with row and column
// potentials, O(n²·m) for n <= m. The result is deterministic: on ties the
// lowest column index wins, and assignments are returned sorted by row.
package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrRagged is returned for matrices whose rows differ in length.
	ErrRagged = errors.New("matching: ragged matrix")
	// ErrNonFinite is returned for NaN or infinite costs.
	ErrNonFinite = errors.New("matching: NaN or Inf cost")
)

// Assignment pairs a row with a column at a cost.
type Assignment struct {
	Row  int
	Col  int
	Cost float64
}

// Total sums the cost of a set of assignments.
func Total(as []Assignment) float64 {
	var t float64
	for _, a := range as {
		t += a.Cost
	}
	return t
}

// Assign returns a minimum cost assignment. An empty matrix, or one without
// columns, yields no assignments.
func Assign(cost [][]float64) ([]Assignment, error) {
	if err := validate(cost); err != nil {
		return nil, err
	}
	if len(cost) == 0 || len(cost[0]) == 0 {
		return nil, nil
	}
	a, transposed := cost, false
	if len(cost) > len(cost[0]) {
		a, transposed = transpose(cost), true
	}
	var (
		n   = len(a)
		m   = len(a[0])
		inf = math.Inf(1)
		// potentials, 1-based; index 0 is the virtual column
		u    = make([]float64, n+1)
		v    = make([]float64, m+1)
		p    = make([]int, m+1) // p[j]: row matched to column j
		way  = make([]int, m+1)
		minv = make([]float64, m+1)
		used = make([]bool, m+1)
	)
	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0, delta, j1 := p[j0], inf, 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				if cur := a[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
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
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}
	result := make([]Assignment, 0, n)
	for j := 1; j <= m; j++ {
		if p[j] == 0 {
			continue
		}
		row, col := p[j]-1, j-1
		if transposed {
			row, col = col, row
		}
		result = append(result, Assignment{Row: row, Col: col, Cost: cost[row][col]})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Row < result[j].Row })
	return result, nil
}

func validate(cost [][]float64) error {
	if len(cost) == 0 {
		return nil
	}
	m := len(cost[0])
	for i, row := range cost {
		if len(row) != m {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrRagged, i, len(row), m)
		}
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: at (%d, %d)", ErrNonFinite, i, j)
			}
		}
	}
	return nil
}

func transpose(a [][]float64) [][]float64 {
	t := make([][]float64, len(a[0]))
	for j := range t {
		t[j] = make([]float64, len(a))
		for i := range a {
			t[j][i] = a[i][j]
		}
	}
	return t
}
