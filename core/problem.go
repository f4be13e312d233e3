package core

import (
	"golang.org/x/exp/slices"

	"github.com/mkoeppe/papilo/num"
)

// VariableDomains holds the bounds and flags of all columns. Bound
// values are only meaningful when the matching infinity flag is clear.
type VariableDomains struct {
	LowerBounds []float64
	UpperBounds []float64
	Flags       []ColFlags
}

// Objective is the linear objective with a constant offset accumulated
// by presolve reductions.
type Objective struct {
	Coefficients []float64
	Offset       float64
}

// Locks counts the rows that make it unsafe to relax a column downward
// or upward. They drive the dual reductions.
type Locks struct {
	Down int
	Up   int
}

// Problem is a mixed-integer or linear optimization problem in the form
//
//	min  c·x + offset
//	s.t. lhs ≤ A·x ≤ rhs,  lb ≤ x ≤ ub
//
// with per-column integrality flags.
type Problem struct {
	Name string

	Domains   VariableDomains
	Objective Objective
	Matrix    *ConstraintMatrix

	Activities []RowActivity
	Locks      []Locks

	NumIntegralCols   int
	NumContinuousCols int
}

// NRows returns the number of row slots, including deleted rows.
func (p *Problem) NRows() int { return p.Matrix.NRows() }

// NCols returns the number of column slots, including deleted columns.
func (p *Problem) NCols() int { return p.Matrix.NCols() }

// RecomputeAllActivities computes every row activity from scratch. A
// fresh activity starts with LastChange -1 so the first round can
// enqueue the row.
func (p *Problem) RecomputeAllActivities() {
	fresh := len(p.Activities) != p.NRows()
	if fresh {
		p.Activities = make([]RowActivity, p.NRows())
	}
	for r := 0; r < p.NRows(); r++ {
		last := -1
		if !fresh {
			last = p.Activities[r].LastChange
		}
		if p.Matrix.RowSizes[r] < 0 {
			p.Activities[r] = RowActivity{LastChange: last}
			continue
		}
		rv := p.Matrix.RowCoefficients(r)
		p.Activities[r] = computeRowActivity(rv.Vals, rv.Inds, &p.Domains)
		p.Activities[r].LastChange = last
	}
}

// RecomputeLocks recomputes the down and up locks of all columns from
// the non-redundant rows.
func (p *Problem) RecomputeLocks() {
	if len(p.Locks) != p.NCols() {
		p.Locks = make([]Locks, p.NCols())
	} else {
		for c := range p.Locks {
			p.Locks[c] = Locks{}
		}
	}

	for r := 0; r < p.NRows(); r++ {
		if p.Matrix.RowSizes[r] < 0 || p.Matrix.IsRowRedundant(r) {
			continue
		}
		rf := p.Matrix.RowFlags[r]
		rv := p.Matrix.RowCoefficients(r)
		for i, c := range rv.Inds {
			v := rv.Vals[i]
			if !rf.Test(RowLhsInf) {
				if v > 0 {
					p.Locks[c].Down++
				} else {
					p.Locks[c].Up++
				}
			}
			if !rf.Test(RowRhsInf) {
				if v > 0 {
					p.Locks[c].Up++
				} else {
					p.Locks[c].Down++
				}
			}
		}
	}
}

// SubstituteVarInObj removes col from the objective using the equality
// row eqRow: with obj coefficient d and equality a·x = b where a_col is
// the coefficient of col, every other coefficient a_j adds -d*a_j/a_col
// and the offset gains d*b/a_col.
func (p *Problem) SubstituteVarInObj(n num.Num[float64], col, eqRow int) {
	obj := &p.Objective
	d := obj.Coefficients[col]
	if d == 0 {
		return
	}

	eq := p.Matrix.RowCoefficients(eqRow)
	pos, ok := slices.BinarySearch(eq.Inds, col)
	if !ok {
		panic("substituted column not part of the equality row")
	}
	scale := d / eq.Vals[pos]

	for i, c := range eq.Inds {
		if c == col {
			continue
		}
		obj.Coefficients[c] -= scale * eq.Vals[i]
		if n.IsZero(obj.Coefficients[c]) {
			obj.Coefficients[c] = 0
		}
	}
	obj.Offset += scale * p.Matrix.Rhs[eqRow]
	obj.Coefficients[col] = 0
}

// RemoveRedundantBounds marks finite column bounds as huge when no
// non-redundant row tests the activity endpoint they feed. Such a bound
// stops contributing a finite amount to activities but keeps its value
// for bound comparisons. It returns the number of lower and upper bounds
// dropped this way.
func (p *Problem) RemoveRedundantBounds(n num.Num[float64]) (int, int) {
	nlb, nub := 0, 0
	m := p.Matrix

	for c := 0; c < p.NCols(); c++ {
		f := &p.Domains.Flags[c]
		if m.ColSizes[c] <= 0 || f.Test(ColInactive) || f.Test(ColIntegral) {
			continue
		}

		lbNeeded := false
		ubNeeded := false
		cv := m.ColumnCoefficients(c)
		for i, r := range cv.Inds {
			if m.IsRowRedundant(r) {
				continue
			}
			rf := m.RowFlags[r]
			v := cv.Vals[i]
			// the endpoint fed by a bound is only tested against the
			// opposite finite side of the row
			if v > 0 {
				if !rf.Test(RowRhsInf) {
					lbNeeded = true
				}
				if !rf.Test(RowLhsInf) {
					ubNeeded = true
				}
			} else {
				if !rf.Test(RowLhsInf) {
					lbNeeded = true
				}
				if !rf.Test(RowRhsInf) {
					ubNeeded = true
				}
			}
			if lbNeeded && ubNeeded {
				break
			}
		}

		if !lbNeeded && !f.Test(ColLbUseless) {
			oldLb := p.Domains.LowerBounds[c]
			UpdateActivitiesAfterBoundChange(cv.Vals, cv.Inds, BoundLower,
				oldLb, oldLb, false, true, p.Activities,
				func(ActivityChange, int, *RowActivity) {})
			f.Set(ColLbHuge)
			nlb++
		}
		if !ubNeeded && !f.Test(ColUbUseless) {
			oldUb := p.Domains.UpperBounds[c]
			UpdateActivitiesAfterBoundChange(cv.Vals, cv.Inds, BoundUpper,
				oldUb, oldUb, false, true, p.Activities,
				func(ActivityChange, int, *RowActivity) {})
			f.Set(ColUbHuge)
			nub++
		}
	}

	return nlb, nub
}

// Compress renumbers the problem storage, dropping deleted rows and
// columns, and returns the old-to-new mappings.
func (p *Problem) Compress(full bool) (rowMap, colMap []int) {
	rowMap, colMap = p.Matrix.Compress(full)

	for c, newC := range colMap {
		if newC < 0 {
			continue
		}
		p.Domains.LowerBounds[newC] = p.Domains.LowerBounds[c]
		p.Domains.UpperBounds[newC] = p.Domains.UpperBounds[c]
		p.Domains.Flags[newC] = p.Domains.Flags[c]
		p.Objective.Coefficients[newC] = p.Objective.Coefficients[c]
		if len(p.Locks) > 0 {
			p.Locks[newC] = p.Locks[c]
		}
	}
	nCols := p.Matrix.NCols()
	p.Domains.LowerBounds = p.Domains.LowerBounds[:nCols]
	p.Domains.UpperBounds = p.Domains.UpperBounds[:nCols]
	p.Domains.Flags = p.Domains.Flags[:nCols]
	p.Objective.Coefficients = p.Objective.Coefficients[:nCols]
	if len(p.Locks) > 0 {
		p.Locks = p.Locks[:nCols]
	}

	for r, newR := range rowMap {
		if newR < 0 {
			continue
		}
		p.Activities[newR] = p.Activities[r]
	}
	p.Activities = p.Activities[:p.Matrix.NRows()]

	if full {
		p.Domains.LowerBounds = slices.Clone(p.Domains.LowerBounds)
		p.Domains.UpperBounds = slices.Clone(p.Domains.UpperBounds)
		p.Domains.Flags = slices.Clone(p.Domains.Flags)
		p.Objective.Coefficients = slices.Clone(p.Objective.Coefficients)
		p.Activities = slices.Clone(p.Activities)
		if len(p.Locks) > 0 {
			p.Locks = slices.Clone(p.Locks)
		}
	}

	return rowMap, colMap
}
