package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomFeasibleProblem builds a problem that is feasible by
// construction: a reference point is drawn inside the box and every
// row's sides are placed around the row value at that point. Integral
// columns get integer bounds and an integer reference value.
// Coefficient magnitudes stay well above the cleanup thresholds.
func randomFeasibleProblem(rnd *rand.Rand, minRowLen int) (*Problem, []float64) {
	nCols := 2 + rnd.Intn(5)
	nRows := 1 + rnd.Intn(5)

	b := NewProblemBuilder()
	b.SetNumCols(nCols)
	b.SetNumRows(nRows)

	ref := make([]float64, nCols)
	for c := 0; c < nCols; c++ {
		lb := float64(rnd.Intn(7) - 3)
		width := float64(1 + rnd.Intn(4))
		ub := lb + width
		b.SetColLB(c, lb)
		b.SetColUB(c, ub)
		if rnd.Intn(3) == 0 {
			b.SetColIntegral(c, true)
			ref[c] = lb + float64(rnd.Intn(int(width)+1))
		} else {
			ref[c] = lb + rnd.Float64()*width
		}
		b.SetObj(c, float64(rnd.Intn(5)-2))
	}

	for r := 0; r < nRows; r++ {
		cols := rnd.Perm(nCols)
		length := minRowLen + rnd.Intn(nCols-minRowLen+1)
		if length > nCols {
			length = nCols
		}
		rowval := 0.0
		for _, c := range cols[:length] {
			v := (0.5 + rnd.Float64()*4) * float64(1-2*rnd.Intn(2))
			b.AddEntry(r, c, v)
			rowval += v * ref[c]
		}

		lhsSlack := rnd.Float64() * 3
		rhsSlack := rnd.Float64() * 3
		switch rnd.Intn(4) {
		case 0:
			b.SetRowLhs(r, rowval-lhsSlack)
			b.SetRowRhsInf(r)
		case 1:
			b.SetRowLhsInf(r)
			b.SetRowRhs(r, rowval+rhsSlack)
		case 2:
			b.SetRowLhs(r, rowval-lhsSlack)
			b.SetRowRhs(r, rowval+rhsSlack)
		default:
			// equation through the reference point
			b.SetRowLhs(r, rowval)
			b.SetRowRhs(r, rowval)
		}
	}

	return b.Build(), ref
}

// applyRandomBoundChanges drives the mutators with valid tightenings.
func applyRandomBoundChanges(rnd *rand.Rand, pu *ProblemUpdate) {
	p := pu.Problem()
	for k := 0; k < 8; k++ {
		c := rnd.Intn(p.NCols())
		f := p.Domains.Flags[c]
		if f.Test(ColInactive) {
			continue
		}
		lb := p.Domains.LowerBounds[c]
		ub := p.Domains.UpperBounds[c]
		if f.Test(ColUnbounded) || ub <= lb {
			continue
		}
		switch rnd.Intn(3) {
		case 0:
			pu.ChangeLB(c, lb+rnd.Float64()*(ub-lb)*0.5)
		case 1:
			pu.ChangeUB(c, ub-rnd.Float64()*(ub-lb)*0.5)
		default:
			pu.FixCol(c, lb+rnd.Float64()*(ub-lb))
		}
	}
}

func liveRows(p *Problem) []int {
	var rows []int
	for r := 0; r < p.NRows(); r++ {
		if p.Matrix.RowSizes[r] >= 0 && !p.Matrix.IsRowRedundant(r) {
			rows = append(rows, r)
		}
	}
	return rows
}

func TestPropActivityExactness(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("activities stay exact under bound changes and flush",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			p, _ := randomFeasibleProblem(rnd, 1)

			opts := DefaultOptions()
			opts.DualReds = 0
			pu, _, _ := newTestUpdate(p, opts)

			applyRandomBoundChanges(rnd, pu)
			pu.Flush()

			for _, r := range liveRows(p) {
				rv := p.Matrix.RowCoefficients(r)
				want := computeRowActivity(rv.Vals, rv.Inds, &p.Domains)
				got := p.Activities[r]
				if want.NInfMin != got.NInfMin || want.NInfMax != got.NInfMax {
					return false
				}
				if math.Abs(want.Min-got.Min) > 1e-9 || math.Abs(want.Max-got.Max) > 1e-9 {
					return false
				}
			}
			return true
		}, gen.Int64()))

	properties.TestingRun(t)
}

func TestPropEquationFlag(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("equation flag matches the sides on live rows",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			p, _ := randomFeasibleProblem(rnd, 1)

			opts := DefaultOptions()
			opts.DualReds = 0
			pu, _, _ := newTestUpdate(p, opts)

			if st := pu.TrivialPresolve(); st == PresolveInfeasible {
				return true
			}
			applyRandomBoundChanges(rnd, pu)
			if st := pu.Flush(); st == PresolveInfeasible {
				return true
			}

			m := p.Matrix
			for _, r := range liveRows(p) {
				isEq := m.RowFlags[r].Test(RowEquation)
				shouldEq := !m.RowFlags[r].Test(RowLhsInf) &&
					!m.RowFlags[r].Test(RowRhsInf) && m.Lhs[r] == m.Rhs[r]
				if isEq != shouldEq {
					return false
				}
			}
			return true
		}, gen.Int64()))

	properties.TestingRun(t)
}

func TestPropSingletonConsistency(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("singleton column worklist holds only singletons after flush",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			p, _ := randomFeasibleProblem(rnd, 1)

			opts := DefaultOptions()
			opts.DualReds = 0
			pu, _, _ := newTestUpdate(p, opts)

			if st := pu.TrivialPresolve(); st == PresolveInfeasible {
				return true
			}
			applyRandomBoundChanges(rnd, pu)
			if st := pu.Flush(); st == PresolveInfeasible {
				return true
			}

			for _, c := range pu.SingletonCols() {
				if p.Matrix.ColSizes[c] != 1 {
					return false
				}
			}
			return true
		}, gen.Int64()))

	properties.TestingRun(t)
}

func TestPropTrivialPresolveIdempotent(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	snapshot := func(p *Problem) interface{} {
		type state struct {
			Lbs, Ubs []float64
			CFlags   []ColFlags
			Lhs, Rhs []float64
			RFlags   []RowFlags
			RowSizes []int
			ColSizes []int
			Obj      []float64
			Offset   float64
		}
		return state{
			Lbs:      append([]float64(nil), p.Domains.LowerBounds...),
			Ubs:      append([]float64(nil), p.Domains.UpperBounds...),
			CFlags:   append([]ColFlags(nil), p.Domains.Flags...),
			Lhs:      append([]float64(nil), p.Matrix.Lhs...),
			Rhs:      append([]float64(nil), p.Matrix.Rhs...),
			RFlags:   append([]RowFlags(nil), p.Matrix.RowFlags...),
			RowSizes: append([]int(nil), p.Matrix.RowSizes...),
			ColSizes: append([]int(nil), p.Matrix.ColSizes...),
			Obj:      append([]float64(nil), p.Objective.Coefficients...),
			Offset:   p.Objective.Offset,
		}
	}

	properties.Property("trivial presolve applied twice equals once",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			p, _ := randomFeasibleProblem(rnd, 2)

			opts := DefaultOptions()
			opts.DualReds = 0
			pu, _, _ := newTestUpdate(p, opts)

			if st := pu.TrivialPresolve(); st == PresolveInfeasible {
				return true
			}
			first := snapshot(p)

			if st := pu.TrivialPresolve(); st == PresolveInfeasible {
				return false
			}
			second := snapshot(p)

			return cmp.Diff(first, second) == ""
		}, gen.Int64()))

	properties.TestingRun(t)
}

func TestPropLiftedSolution(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("postsolve lifts reduced solutions to feasible originals",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))

			p, ref := randomFeasibleProblem(rnd, 1)
			rnd2 := rand.New(rand.NewSource(seed))
			original, _ := randomFeasibleProblem(rnd2, 1)

			opts := DefaultOptions()
			opts.DualReds = 0
			n := opts.Num()
			pu, _, ps := newTestUpdate(p, opts)

			if st := pu.TrivialPresolve(); st == PresolveInfeasible {
				return true
			}
			pu.Compress(true)

			// restrict the reference point to the reduced space
			reduced := make([]float64, len(ps.OrigColMapping))
			reducedObj := 0.0
			for i, orig := range ps.OrigColMapping {
				reduced[i] = ref[orig]
				reducedObj += p.Objective.Coefficients[i] * ref[orig]
			}

			lifted := ps.Undo(reduced)

			// feasibility in the original problem
			m := original.Matrix
			for r := 0; r < original.NRows(); r++ {
				rv := m.RowCoefficients(r)
				rowval := 0.0
				for i, c := range rv.Inds {
					rowval += rv.Vals[i] * lifted[c]
				}
				if !m.RowFlags[r].Test(RowLhsInf) && n.IsFeasLT(rowval, m.Lhs[r]) {
					return false
				}
				if !m.RowFlags[r].Test(RowRhsInf) && n.IsFeasGT(rowval, m.Rhs[r]) {
					return false
				}
			}
			for c := 0; c < original.NCols(); c++ {
				f := original.Domains.Flags[c]
				if !f.Test(ColLbInf) && n.IsFeasLT(lifted[c], original.Domains.LowerBounds[c]) {
					return false
				}
				if !f.Test(ColUbInf) && n.IsFeasGT(lifted[c], original.Domains.UpperBounds[c]) {
					return false
				}
			}

			// objective equality modulo the accumulated offset
			originalObj := 0.0
			for c := 0; c < original.NCols(); c++ {
				originalObj += original.Objective.Coefficients[c] * lifted[c]
			}
			return math.Abs(originalObj-(reducedObj+p.Objective.Offset)) <= 1e-6
		}, gen.Int64()))

	properties.TestingRun(t)
}

func TestPropCompressPreservesRows(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	type entry struct {
		Col int
		Val float64
	}

	properties.Property("compress preserves surviving row coefficients",
		prop.ForAll(func(seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			p, _ := randomFeasibleProblem(rnd, 1)
			m := p.Matrix

			// delete a random subset of rows
			var redundantRows, deletedCols []int
			for r := 0; r < p.NRows(); r++ {
				if rnd.Intn(3) == 0 {
					m.RowFlags[r].Set(RowRedundant)
					redundantRows = append(redundantRows, r)
				}
			}
			var s1, s2, s3 []int
			m.DeleteRowsAndCols(&redundantRows, &deletedCols, p.Activities, &s1, &s2, &s3)

			before := map[int][]entry{}
			for r := 0; r < m.NRows(); r++ {
				if m.RowSizes[r] < 0 {
					continue
				}
				rv := m.RowCoefficients(r)
				for i, c := range rv.Inds {
					before[r] = append(before[r], entry{c, rv.Vals[i]})
				}
			}

			rowMap, colMap := m.Compress(false)

			for r, entries := range before {
				newR := rowMap[r]
				if newR < 0 {
					return false
				}
				rv := m.RowCoefficients(newR)
				if rv.Len() != len(entries) {
					return false
				}
				for i, e := range entries {
					if rv.Inds[i] != colMap[e.Col] || rv.Vals[i] != e.Val {
						return false
					}
				}
			}
			return true
		}, gen.Int64()))

	properties.TestingRun(t)
}
