package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMatrixProblem constructs
//
//	r0: x0 + x1 + x2 = 6
//	r1: x0 + 2*x2 <= 8
//	r2: x1 - x2 >= -1
//
// with all columns in [0, 4].
func buildMatrixProblem() *Problem {
	b := NewProblemBuilder()
	b.SetNumCols(3)
	b.SetNumRows(3)
	for c := 0; c < 3; c++ {
		b.SetColLB(c, 0)
		b.SetColUB(c, 4)
	}
	b.AddEntry(0, 0, 1)
	b.AddEntry(0, 1, 1)
	b.AddEntry(0, 2, 1)
	b.AddEntry(1, 0, 1)
	b.AddEntry(1, 2, 2)
	b.AddEntry(2, 1, 1)
	b.AddEntry(2, 2, -1)
	b.SetRowLhs(0, 6)
	b.SetRowRhs(0, 6)
	b.SetRowLhsInf(1)
	b.SetRowRhs(1, 8)
	b.SetRowLhs(2, -1)
	b.SetRowRhsInf(2)
	return b.Build()
}

func TestBuilderDerivedData(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix

	assert.Equal(t, []int{3, 2, 2}, m.RowSizes)
	assert.Equal(t, []int{2, 2, 3}, m.ColSizes)
	assert.True(t, m.RowFlags[0].Test(RowEquation))
	assert.False(t, m.RowFlags[1].Test(RowEquation))

	// column views mirror row views
	cv := m.ColumnCoefficients(2)
	assert.Equal(t, []int{0, 1, 2}, cv.Inds)
	assert.Equal(t, []float64{1, 2, -1}, cv.Vals)

	// activities: r1 has x0 + 2*x2 over [0,4] each
	assert.InDelta(t, 0.0, p.Activities[1].Min, 1e-12)
	assert.InDelta(t, 12.0, p.Activities[1].Max, 1e-12)
}

func TestChangeCoefficientsDiscoversSingletons(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix

	var buf MatrixBuffer
	buf.AddEntry(1, 2, 0) // r1 and r2 lose x2 and become singletons
	buf.AddEntry(2, 2, 0) // x2 only remains in r0

	var singletonRows, singletonCols, emptyCols []int
	nchanges := 0
	m.ChangeCoefficients(&buf, &singletonRows, &singletonCols, &emptyCols,
		p.Activities, func(row, col int, oldVal, newVal float64) {
			nchanges++
		})

	assert.Equal(t, 2, nchanges)
	assert.Equal(t, []int{1, 2}, singletonRows)
	assert.Equal(t, []int{2}, singletonCols)
	assert.Empty(t, emptyCols)
	assert.Equal(t, 1, m.RowSizes[1])
	assert.Equal(t, 1, m.ColSizes[2])
}

func TestDeleteRowsAndCols(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix

	m.RowFlags[0].Set(RowRedundant)
	p.Domains.Flags[2].Set(ColFixed)

	redundantRows := []int{0}
	deletedCols := []int{2}
	var singletonRows, singletonCols, emptyCols []int

	m.DeleteRowsAndCols(&redundantRows, &deletedCols, p.Activities,
		&singletonRows, &singletonCols, &emptyCols)

	assert.Empty(t, redundantRows)
	assert.Empty(t, deletedCols)
	assert.Equal(t, -1, m.RowSizes[0])
	assert.Equal(t, -1, m.ColSizes[2])

	// r1 and r2 each lost their x2 entry
	assert.Equal(t, []int{1, 2}, singletonRows)
	// x0 and x1 each lost their r0 entry and remain in one row
	assert.ElementsMatch(t, []int{0, 1}, singletonCols)
}

func TestAggregateEliminatesColumn(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix
	n := testNum()

	var changed, singletonRows, singletonCols, emptyCols []int

	// substitute x2 via r0: x0 + x1 + x2 = 6
	eq := m.RowCoefficients(0)
	m.Aggregate(n, 2, eq, 6, &p.Domains, &changed, p.Activities,
		&singletonRows, &singletonCols, &emptyCols, 0)

	// the equality row cancels itself
	assert.Equal(t, -1, m.RowSizes[0])
	assert.True(t, m.RowFlags[0].Test(RowRedundant))
	assert.Equal(t, 0.0, m.Lhs[0])
	assert.Equal(t, 0.0, m.Rhs[0])

	// x2 is gone
	assert.Equal(t, -1, m.ColSizes[2])

	// r1: x0 + 2*x2 <= 8 with x2 = 6 - x0 - x1 becomes -x0 - 2*x1 <= -4
	rv := m.RowCoefficients(1)
	require.Equal(t, []int{0, 1}, rv.Inds)
	assert.InDelta(t, -1.0, rv.Vals[0], 1e-12)
	assert.InDelta(t, -2.0, rv.Vals[1], 1e-12)
	assert.InDelta(t, -4.0, m.Rhs[1], 1e-12)

	// r2: x1 - x2 >= -1 becomes x0 + 2*x1 >= 5
	rv = m.RowCoefficients(2)
	require.Equal(t, []int{0, 1}, rv.Inds)
	assert.InDelta(t, 1.0, rv.Vals[0], 1e-12)
	assert.InDelta(t, 2.0, rv.Vals[1], 1e-12)
	assert.InDelta(t, 5.0, m.Lhs[2], 1e-12)

	// both changed rows were enqueued with fresh exact activities
	assert.ElementsMatch(t, []int{1, 2}, changed)
	assert.InDelta(t, -12.0, p.Activities[1].Min, 1e-12)
	assert.InDelta(t, 0.0, p.Activities[1].Max, 1e-12)
}

func TestSparsifyCancelsEntries(t *testing.T) {
	b := NewProblemBuilder()
	b.SetNumCols(3)
	b.SetNumRows(2)
	for c := 0; c < 3; c++ {
		b.SetColLB(c, 0)
		b.SetColUB(c, 1)
	}
	// r0: x0 + x1 = 2 (equality), r1: x0 + x1 + x2 <= 5
	b.AddEntry(0, 0, 1)
	b.AddEntry(0, 1, 1)
	b.AddEntry(1, 0, 1)
	b.AddEntry(1, 1, 1)
	b.AddEntry(1, 2, 1)
	b.SetRowLhs(0, 2)
	b.SetRowRhs(0, 2)
	b.SetRowLhsInf(1)
	b.SetRowRhs(1, 5)
	p := b.Build()
	m := p.Matrix

	var changed, singletonRows, singletonCols, emptyCols []int
	canceled := m.Sparsify(testNum(), 0, -1, 1, &p.Domains, &changed,
		p.Activities, &singletonRows, &singletonCols, &emptyCols, 0)

	// r1 - r0 leaves x2 <= 3
	assert.Equal(t, 2, canceled)
	rv := m.RowCoefficients(1)
	assert.Equal(t, []int{2}, rv.Inds)
	assert.InDelta(t, 3.0, m.Rhs[1], 1e-12)
	assert.Equal(t, []int{1}, singletonRows)
}

func TestCompressRenumbers(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix

	// wipe r0 and x2 by hand, then compress
	type entry struct {
		r, c int
		v    float64
	}
	m.RowFlags[0].Set(RowRedundant)
	p.Domains.Flags[2].Set(ColFixed)
	redundantRows := []int{0}
	deletedCols := []int{2}
	var s1, s2, s3 []int
	m.DeleteRowsAndCols(&redundantRows, &deletedCols, p.Activities, &s1, &s2, &s3)

	var before []entry
	for r := 0; r < m.NRows(); r++ {
		if m.RowSizes[r] < 0 {
			continue
		}
		rv := m.RowCoefficients(r)
		for i, c := range rv.Inds {
			before = append(before, entry{r, c, rv.Vals[i]})
		}
	}

	rowMap, colMap := m.Compress(false)

	assert.Equal(t, []int{-1, 0, 1}, rowMap)
	assert.Equal(t, []int{0, 1, -1}, colMap)
	assert.Equal(t, 2, m.NRows())
	assert.Equal(t, 2, m.NCols())

	var after []entry
	for r := 0; r < m.NRows(); r++ {
		rv := m.RowCoefficients(r)
		for i, c := range rv.Inds {
			after = append(after, entry{r, c, rv.Vals[i]})
		}
	}

	// surviving coefficients are preserved modulo renumbering
	require.Equal(t, len(before), len(after))
	for i, e := range before {
		assert.Equal(t, entry{rowMap[e.r], colMap[e.c], e.v}, after[i])
	}

	// column views stay consistent
	for c := 0; c < m.NCols(); c++ {
		cv := m.ColumnCoefficients(c)
		assert.Equal(t, m.ColSizes[c], cv.Len())
		for i, r := range cv.Inds {
			rv := m.RowCoefficients(r)
			pos := -1
			for j, cc := range rv.Inds {
				if cc == c {
					pos = j
				}
			}
			require.GreaterOrEqual(t, pos, 0)
			assert.Equal(t, rv.Vals[pos], cv.Vals[i])
		}
	}
}

func TestCheckAggregationSparsityCondition(t *testing.T) {
	b := NewProblemBuilder()
	b.SetNumCols(5)
	b.SetNumRows(2)
	for c := 0; c < 5; c++ {
		b.SetColLB(c, 0)
		b.SetColUB(c, 1)
	}
	// equality with four entries, and a second row sharing only x0
	b.AddEntry(0, 0, 1)
	b.AddEntry(0, 1, 1)
	b.AddEntry(0, 2, 1)
	b.AddEntry(0, 3, 1)
	b.AddEntry(1, 0, 1)
	b.AddEntry(1, 4, 1)
	b.SetRowLhs(0, 1)
	b.SetRowRhs(0, 1)
	b.SetRowLhsInf(1)
	b.SetRowRhs(1, 5)
	p := b.Build()
	m := p.Matrix

	eq := m.RowCoefficients(0)

	assert.True(t, m.CheckAggregationSparsityCondition(0, eq, 10, 10))
	assert.False(t, m.CheckAggregationSparsityCondition(0, eq, 0, 10))
	assert.False(t, m.CheckAggregationSparsityCondition(0, eq, 10, 2))
}

func TestModifySides(t *testing.T) {
	p := buildMatrixProblem()
	m := p.Matrix

	m.ModifyLeftHandSide(1, 8)
	assert.True(t, m.RowFlags[1].Test(RowEquation))

	m.ModifyRightHandSideInf(1)
	assert.False(t, m.RowFlags[1].Test(RowEquation))
	assert.True(t, m.RowFlags[1].Test(RowRhsInf))

	m.ModifyRightHandSide(1, math.Nextafter(8, 9))
	assert.False(t, m.RowFlags[1].Test(RowEquation))
}
