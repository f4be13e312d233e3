// Package num implements the numeric capability set used throughout the
// presolve core: feasibility-tolerant comparisons, feasibility rounding,
// and the huge-value classification of bounds.
//
// All predicates are generic over the float type so the core can be
// instantiated with a different precision without touching call sites.
package num

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Default tolerance values.
const (
	DefaultFeasTol = 1e-6
	DefaultEpsilon = 1e-9
	DefaultHugeVal = 1e8
)

// Num bundles the tolerances of a presolve run. Two values closer than
// Epsilon are numerically equal; two values closer than FeasTol are equal
// for feasibility purposes. Values at or above HugeVal in magnitude are
// finite for bound comparisons but are treated as infinite for row
// activities.
type Num[F constraints.Float] struct {
	FeasTol F
	Epsilon F
	HugeVal F
}

// Default returns the tolerances used when no configuration is given.
func Default[F constraints.Float]() Num[F] {
	return Num[F]{
		FeasTol: DefaultFeasTol,
		Epsilon: DefaultEpsilon,
		HugeVal: DefaultHugeVal,
	}
}

func abs[F constraints.Float](v F) F {
	if v < 0 {
		return -v
	}
	return v
}

// IsEq reports whether a and b are equal within Epsilon.
func (n Num[F]) IsEq(a, b F) bool {
	return abs(a-b) <= n.Epsilon
}

// IsZero reports whether v is zero within Epsilon.
func (n Num[F]) IsZero(v F) bool {
	return abs(v) <= n.Epsilon
}

// IsFeasEq reports whether a and b are equal within the feasibility
// tolerance.
func (n Num[F]) IsFeasEq(a, b F) bool {
	return abs(a-b) <= n.FeasTol
}

// IsFeasZero reports whether v vanishes within the feasibility tolerance.
func (n Num[F]) IsFeasZero(v F) bool {
	return abs(v) <= n.FeasTol
}

// IsFeasLT reports whether a is strictly below b by more than the
// feasibility tolerance.
func (n Num[F]) IsFeasLT(a, b F) bool {
	return b-a > n.FeasTol
}

// IsFeasGT reports whether a is strictly above b by more than the
// feasibility tolerance.
func (n Num[F]) IsFeasGT(a, b F) bool {
	return a-b > n.FeasTol
}

// IsFeasLE reports whether a is below b or equal within tolerance.
func (n Num[F]) IsFeasLE(a, b F) bool {
	return !n.IsFeasGT(a, b)
}

// IsFeasGE reports whether a is above b or equal within tolerance.
func (n Num[F]) IsFeasGE(a, b F) bool {
	return !n.IsFeasLT(a, b)
}

// FeasCeil rounds v up to an integer, keeping values within the
// feasibility tolerance of an integer at that integer.
func (n Num[F]) FeasCeil(v F) F {
	return F(math.Ceil(float64(v - n.FeasTol)))
}

// FeasFloor rounds v down to an integer, keeping values within the
// feasibility tolerance of an integer at that integer.
func (n Num[F]) FeasFloor(v F) F {
	return F(math.Floor(float64(v + n.FeasTol)))
}

// Round rounds v to the nearest integer.
func (n Num[F]) Round(v F) F {
	return F(math.Round(float64(v)))
}

// IsFeasIntegral reports whether v is integral within the feasibility
// tolerance.
func (n Num[F]) IsFeasIntegral(v F) bool {
	return abs(v-n.Round(v)) <= n.FeasTol
}

// IsHugeVal reports whether v is too large in magnitude to take part in
// activity sums.
func (n Num[F]) IsHugeVal(v F) bool {
	return abs(v) >= n.HugeVal
}
