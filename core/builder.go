package core

import (
	"math"

	"golang.org/x/exp/slices"
)

// ProblemBuilder assembles a Problem from parser-level data. Bounds
// default to [0, +inf) and rows to equations with zero sides until set
// otherwise. Infinite values may be passed either through the dedicated
// setters or as ±math.Inf.
type ProblemBuilder struct {
	name string

	nRows, nCols int
	entries      []MatrixEntry

	lbs, ubs []float64
	cflags   []ColFlags
	obj      []float64
	offset   float64

	lhs, rhs []float64
	rflags   []RowFlags
}

// NewProblemBuilder returns an empty builder.
func NewProblemBuilder() *ProblemBuilder {
	return &ProblemBuilder{name: "problem"}
}

// SetName sets the problem name.
func (b *ProblemBuilder) SetName(name string) { b.name = name }

// SetNumCols fixes the number of columns.
func (b *ProblemBuilder) SetNumCols(n int) {
	b.nCols = n
	b.lbs = make([]float64, n)
	b.ubs = make([]float64, n)
	b.cflags = make([]ColFlags, n)
	b.obj = make([]float64, n)
	for c := 0; c < n; c++ {
		b.cflags[c] = ColUbInf
	}
}

// SetNumRows fixes the number of rows.
func (b *ProblemBuilder) SetNumRows(n int) {
	b.nRows = n
	b.lhs = make([]float64, n)
	b.rhs = make([]float64, n)
	b.rflags = make([]RowFlags, n)
}

// AddEntry adds a nonzero coefficient.
func (b *ProblemBuilder) AddEntry(row, col int, val float64) {
	if val == 0 {
		return
	}
	b.entries = append(b.entries, MatrixEntry{Row: row, Col: col, Val: val})
}

// SetColLB sets a finite or infinite lower bound.
func (b *ProblemBuilder) SetColLB(col int, val float64) {
	if math.IsInf(val, -1) {
		b.SetColLBInf(col)
		return
	}
	b.lbs[col] = val
	b.cflags[col].Unset(ColLbInf)
}

// SetColUB sets a finite or infinite upper bound.
func (b *ProblemBuilder) SetColUB(col int, val float64) {
	if math.IsInf(val, 1) {
		b.SetColUBInf(col)
		return
	}
	b.ubs[col] = val
	b.cflags[col].Unset(ColUbInf)
}

// SetColLBInf drops the lower bound of a column.
func (b *ProblemBuilder) SetColLBInf(col int) {
	b.lbs[col] = 0
	b.cflags[col].Set(ColLbInf)
}

// SetColUBInf drops the upper bound of a column.
func (b *ProblemBuilder) SetColUBInf(col int) {
	b.ubs[col] = 0
	b.cflags[col].Set(ColUbInf)
}

// SetColIntegral marks a column as integer.
func (b *ProblemBuilder) SetColIntegral(col int, integral bool) {
	if integral {
		b.cflags[col].Set(ColIntegral)
	} else {
		b.cflags[col].Unset(ColIntegral)
	}
}

// SetObj sets the objective coefficient of a column.
func (b *ProblemBuilder) SetObj(col int, val float64) { b.obj[col] = val }

// SetObjOffset sets the constant objective offset.
func (b *ProblemBuilder) SetObjOffset(val float64) { b.offset = val }

// SetRowLhs sets a finite or infinite left-hand side.
func (b *ProblemBuilder) SetRowLhs(row int, val float64) {
	if math.IsInf(val, -1) {
		b.SetRowLhsInf(row)
		return
	}
	b.lhs[row] = val
	b.rflags[row].Unset(RowLhsInf)
}

// SetRowRhs sets a finite or infinite right-hand side.
func (b *ProblemBuilder) SetRowRhs(row int, val float64) {
	if math.IsInf(val, 1) {
		b.SetRowRhsInf(row)
		return
	}
	b.rhs[row] = val
	b.rflags[row].Unset(RowRhsInf)
}

// SetRowLhsInf drops the left-hand side of a row.
func (b *ProblemBuilder) SetRowLhsInf(row int) {
	b.lhs[row] = 0
	b.rflags[row].Set(RowLhsInf)
}

// SetRowRhsInf drops the right-hand side of a row.
func (b *ProblemBuilder) SetRowRhsInf(row int) {
	b.rhs[row] = 0
	b.rflags[row].Set(RowRhsInf)
}

// Build assembles the problem. Equation flags, sizes, activities and
// live column counts are derived from the collected data.
func (b *ProblemBuilder) Build() *Problem {
	m := NewConstraintMatrix(b.nRows, b.nCols)
	copy(m.Lhs, b.lhs)
	copy(m.Rhs, b.rhs)
	copy(m.RowFlags, b.rflags)

	entries := slices.Clone(b.entries)
	slices.SortFunc(entries, func(a, c MatrixEntry) bool {
		if a.Row != c.Row {
			return a.Row < c.Row
		}
		return a.Col < c.Col
	})
	for _, e := range entries {
		m.setEntry(e.Row, e.Col, e.Val)
	}

	for r := 0; r < b.nRows; r++ {
		m.updateEquationFlag(r)
	}

	p := &Problem{
		Name: b.name,
		Domains: VariableDomains{
			LowerBounds: slices.Clone(b.lbs),
			UpperBounds: slices.Clone(b.ubs),
			Flags:       slices.Clone(b.cflags),
		},
		Objective: Objective{
			Coefficients: slices.Clone(b.obj),
			Offset:       b.offset,
		},
		Matrix: m,
	}

	for c := 0; c < b.nCols; c++ {
		if p.Domains.Flags[c].Test(ColIntegral) {
			p.NumIntegralCols++
		} else {
			p.NumContinuousCols++
		}
	}

	p.RecomputeAllActivities()

	return p
}
