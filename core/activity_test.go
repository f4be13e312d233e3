package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoeppe/papilo/num"
)

func testNum() num.Num[float64] {
	return num.Default[float64]()
}

func TestBoundChangeFiniteToFinite(t *testing.T) {
	// one row: 2*x0 - 3*x1, x0 in [0,1], x1 in [0,1]
	activities := []RowActivity{{Min: -3, Max: 2, LastChange: -1}}

	var touched []ActivityChange
	// tighten x0's lower bound from 0 to 0.5
	UpdateActivitiesAfterBoundChange([]float64{2}, []int{0}, BoundLower,
		0, 0.5, false, false, activities,
		func(c ActivityChange, row int, a *RowActivity) {
			touched = append(touched, c)
		})

	assert.InDelta(t, -2.0, activities[0].Min, 1e-12)
	assert.Equal(t, []ActivityChange{ActivityChangeMin}, touched)
}

func TestBoundChangeInfiniteToFinite(t *testing.T) {
	activities := []RowActivity{{Min: 0, Max: 4, NInfMin: 1, LastChange: -1}}

	UpdateActivitiesAfterBoundChange([]float64{2}, []int{0}, BoundLower,
		0, 1, true, false, activities,
		func(ActivityChange, int, *RowActivity) {})

	assert.Equal(t, 0, activities[0].NInfMin)
	assert.InDelta(t, 2.0, activities[0].Min, 1e-12)
}

func TestBoundChangeFiniteToInfinite(t *testing.T) {
	activities := []RowActivity{{Min: 2, Max: 4, LastChange: -1}}

	UpdateActivitiesAfterBoundChange([]float64{2}, []int{0}, BoundLower,
		1, 1e9, false, true, activities,
		func(ActivityChange, int, *RowActivity) {})

	assert.Equal(t, 1, activities[0].NInfMin)
	assert.InDelta(t, 0.0, activities[0].Min, 1e-12)
	assert.InDelta(t, 4.0, activities[0].Max, 1e-12)
}

func TestBoundChangeNegativeCoefficientTouchesOppositeEndpoint(t *testing.T) {
	activities := []RowActivity{{Min: -3, Max: 0, LastChange: -1}}

	var touched []ActivityChange
	// x0 enters with -3; raising its lower bound moves the maximum
	UpdateActivitiesAfterBoundChange([]float64{-3}, []int{0}, BoundLower,
		0, 0.5, false, false, activities,
		func(c ActivityChange, row int, a *RowActivity) {
			touched = append(touched, c)
		})

	assert.Equal(t, []ActivityChange{ActivityChangeMax}, touched)
	assert.InDelta(t, -1.5, activities[0].Max, 1e-12)
}

func TestCoeffChangeMovesContributions(t *testing.T) {
	// row activity for coefficient 2 on x0 in [1, 3]
	activity := RowActivity{Min: 2, Max: 6, LastChange: -1}

	UpdateActivityAfterCoeffChange(1, 3, 0, 2, -1, &activity,
		func(ActivityChange, *RowActivity) {})

	// new contribution of -1*x0: min -3, max -1
	assert.InDelta(t, -3.0, activity.Min, 1e-12)
	assert.InDelta(t, -1.0, activity.Max, 1e-12)
}

func TestCoeffChangeRemovedEntryWithInfiniteBound(t *testing.T) {
	var f ColFlags
	f.Set(ColUbInf)
	activity := RowActivity{Min: 2, NInfMax: 1, LastChange: -1}

	UpdateActivityAfterCoeffChange(1, 0, f, 2, 0, &activity,
		func(ActivityChange, *RowActivity) {})

	assert.InDelta(t, 0.0, activity.Min, 1e-12)
	assert.Equal(t, 0, activity.NInfMax)
}

func TestCheckStatus(t *testing.T) {
	n := testNum()

	act := RowActivity{Min: 0, Max: 4}

	var none RowFlags

	// 1 <= row <= 10: activity cannot exceed 10, rhs is redundant
	assert.Equal(t, RowStatusRedundantRhs, act.CheckStatus(n, none, 1, 10))

	// -1 <= row <= 3: lhs is redundant
	assert.Equal(t, RowStatusRedundantLhs, act.CheckStatus(n, none, -1, 3))

	// -1 <= row <= 10: both sides redundant
	assert.Equal(t, RowStatusRedundant, act.CheckStatus(n, none, -1, 10))

	// 2 <= row: minimum 0 stays below 2 and maximum 4 reaches it,
	// nothing provable
	var lhsOnly RowFlags
	lhsOnly.Set(RowRhsInf)
	assert.Equal(t, RowStatusUnknown, act.CheckStatus(n, lhsOnly, 2, 0))

	// row <= -1 is unreachable from below
	assert.Equal(t, RowStatusInfeasible, act.CheckStatus(n, none, -5, -1))

	// 5 <= row <= 10 cannot be reached from above
	assert.Equal(t, RowStatusInfeasible, act.CheckStatus(n, none, 5, 10))
}

func TestCheckStatusWithInfiniteContributions(t *testing.T) {
	n := testNum()
	var none RowFlags

	act := RowActivity{Min: 0, Max: 4, NInfMin: 1}

	// an infinite minimum contribution blocks the infeasibility proof
	assert.Equal(t, RowStatusUnknown, act.CheckStatus(n, none, -5, -1))
}

func TestComputeRowActivity(t *testing.T) {
	domains := &VariableDomains{
		LowerBounds: []float64{0, -1, 0},
		UpperBounds: []float64{2, 1, 0},
		Flags:       []ColFlags{0, 0, ColUbInf},
	}

	act := computeRowActivity([]float64{1, -2, 3}, []int{0, 1, 2}, domains)

	// x0: [0,2], -2*x1: [-2,2], 3*x2: [0, inf)
	require.Equal(t, 0, act.NInfMin)
	require.Equal(t, 1, act.NInfMax)
	assert.InDelta(t, -2.0, act.Min, 1e-12)
	assert.InDelta(t, 4.0, act.Max, 1e-12)
}
