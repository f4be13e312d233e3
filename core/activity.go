package core

import "github.com/mkoeppe/papilo/num"

// ActivityChange names the activity endpoint moved by an update.
type ActivityChange uint8

const (
	ActivityChangeMin ActivityChange = iota
	ActivityChangeMax
)

// BoundChange names the side of a column domain that moved.
type BoundChange uint8

const (
	BoundLower BoundChange = iota
	BoundUpper
)

// RowStatus classifies a row against its activity bounds.
type RowStatus uint8

const (
	// RowStatusUnknown means the activity proves nothing.
	RowStatusUnknown RowStatus = iota
	// RowStatusRedundant means the row can never be violated.
	RowStatusRedundant
	// RowStatusRedundantLhs means the left-hand side can never be
	// violated and may be dropped.
	RowStatusRedundantLhs
	// RowStatusRedundantRhs means the right-hand side can never be
	// violated and may be dropped.
	RowStatusRedundantRhs
	// RowStatusInfeasible means the row cannot be satisfied.
	RowStatusInfeasible
)

func (s RowStatus) String() string {
	switch s {
	case RowStatusUnknown:
		return "UNKNOWN"
	case RowStatusRedundant:
		return "REDUNDANT"
	case RowStatusRedundantLhs:
		return "REDUNDANT_LHS"
	case RowStatusRedundantRhs:
		return "REDUNDANT_RHS"
	case RowStatusInfeasible:
		return "INFEASIBLE"
	default:
		panic("invalid row status")
	}
}

// RowActivity tracks the attainable range of a row's left-hand side
// under the current column bounds. Min and Max hold the finite part of
// the sums; NInfMin and NInfMax count the columns contributing an
// infinite amount to the respective endpoint. LastChange stores the
// round in which the row was last enqueued for re-evaluation.
type RowActivity struct {
	Min        float64
	Max        float64
	NInfMin    int
	NInfMax    int
	LastChange int
}

// CheckStatus classifies the row with sides lhs/rhs against the current
// activity bounds.
func (a *RowActivity) CheckStatus(n num.Num[float64], rflags RowFlags, lhs, rhs float64) RowStatus {
	if !rflags.Test(RowRhsInf) && a.NInfMin == 0 && n.IsFeasGT(a.Min, rhs) {
		return RowStatusInfeasible
	}
	if !rflags.Test(RowLhsInf) && a.NInfMax == 0 && n.IsFeasLT(a.Max, lhs) {
		return RowStatusInfeasible
	}

	lhsRedundant := rflags.Test(RowLhsInf) ||
		(a.NInfMin == 0 && n.IsFeasGE(a.Min, lhs))
	rhsRedundant := rflags.Test(RowRhsInf) ||
		(a.NInfMax == 0 && n.IsFeasLE(a.Max, rhs))

	switch {
	case lhsRedundant && rhsRedundant:
		return RowStatusRedundant
	case lhsRedundant && !rflags.Test(RowLhsInf):
		return RowStatusRedundantLhs
	case rhsRedundant && !rflags.Test(RowRhsInf):
		return RowStatusRedundantRhs
	}

	return RowStatusUnknown
}

// UpdateActivitiesAfterBoundChange adjusts the activities of all rows in
// a column after one of the column's bounds moved. vals and rows hold
// the column's coefficients, bc names the moved side, and oldInf/newInf
// state whether the old and new bound contribute an infinite amount. The
// change callback fires once per touched activity endpoint.
func UpdateActivitiesAfterBoundChange(vals []float64, rows []int, bc BoundChange,
	oldBound, newBound float64, oldInf, newInf bool,
	activities []RowActivity, change func(ActivityChange, int, *RowActivity)) {

	for i, v := range vals {
		r := rows[i]
		act := &activities[r]

		// A lower bound contributes to the minimum activity on positive
		// coefficients and to the maximum on negative ones; an upper
		// bound contributes the other way around.
		touchesMin := (bc == BoundLower) == (v > 0)

		if touchesMin {
			switch {
			case oldInf && newInf:
			case oldInf:
				act.NInfMin--
				act.Min += v * newBound
			case newInf:
				act.NInfMin++
				act.Min -= v * oldBound
			default:
				act.Min += v * (newBound - oldBound)
			}
			if !(oldInf && newInf) {
				change(ActivityChangeMin, r, act)
			}
		} else {
			switch {
			case oldInf && newInf:
			case oldInf:
				act.NInfMax--
				act.Max += v * newBound
			case newInf:
				act.NInfMax++
				act.Max -= v * oldBound
			default:
				act.Max += v * (newBound - oldBound)
			}
			if !(oldInf && newInf) {
				change(ActivityChangeMax, r, act)
			}
		}
	}
}

// UpdateActivityAfterCoeffChange adjusts a single row activity after the
// coefficient of a column in that row changed from oldVal to newVal. The
// column's bounds and flags decide which endpoint each bound contributes
// to before and after the change.
func UpdateActivityAfterCoeffChange(lb, ub float64, cflags ColFlags,
	oldVal, newVal float64, activity *RowActivity,
	change func(ActivityChange, *RowActivity)) {

	if oldVal == newVal {
		return
	}

	minTouched := false
	maxTouched := false

	apply := func(v float64, add bool) {
		if v == 0 {
			return
		}
		sign := 1.0
		delta := 1
		if !add {
			sign = -1.0
			delta = -1
		}
		if v > 0 {
			if cflags.Test(ColLbUseless) {
				activity.NInfMin += delta
			} else {
				activity.Min += sign * v * lb
			}
			if cflags.Test(ColUbUseless) {
				activity.NInfMax += delta
			} else {
				activity.Max += sign * v * ub
			}
		} else {
			if cflags.Test(ColLbUseless) {
				activity.NInfMax += delta
			} else {
				activity.Max += sign * v * lb
			}
			if cflags.Test(ColUbUseless) {
				activity.NInfMin += delta
			} else {
				activity.Min += sign * v * ub
			}
		}
		minTouched = true
		maxTouched = true
	}

	apply(oldVal, false)
	apply(newVal, true)

	if minTouched {
		change(ActivityChangeMin, activity)
	}
	if maxTouched {
		change(ActivityChangeMax, activity)
	}
}

// computeRowActivity recomputes a row activity from scratch.
func computeRowActivity(vals []float64, cols []int, domains *VariableDomains) RowActivity {
	var act RowActivity
	for i, v := range vals {
		c := cols[i]
		f := domains.Flags[c]
		if v > 0 {
			if f.Test(ColLbUseless) {
				act.NInfMin++
			} else {
				act.Min += v * domains.LowerBounds[c]
			}
			if f.Test(ColUbUseless) {
				act.NInfMax++
			} else {
				act.Max += v * domains.UpperBounds[c]
			}
		} else if v < 0 {
			if f.Test(ColLbUseless) {
				act.NInfMax++
			} else {
				act.Max += v * domains.LowerBounds[c]
			}
			if f.Test(ColUbUseless) {
				act.NInfMin++
			} else {
				act.Min += v * domains.UpperBounds[c]
			}
		}
	}
	return act
}
