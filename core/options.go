package core

import "github.com/mkoeppe/papilo/num"

// Options holds the configuration of the presolve core.
type Options struct {
	// RandomSeed drives the deterministic row/column permutations used
	// as tie breakers.
	RandomSeed uint64

	// DualReds controls dual reductions: 0 disables them, 1 allows only
	// reductions on columns with nonzero objective, 2 allows all.
	DualReds int

	// CompressFac triggers storage compression once the live fraction of
	// rows or columns falls below it. Zero disables compression.
	CompressFac float64

	// MinAbsCoeff is the smallest coefficient magnitude kept in the
	// matrix; smaller entries are dropped during cleanup.
	MinAbsCoeff float64

	FeasTol float64
	Epsilon float64
	HugeVal float64

	// MaxFillinPerSubstitution bounds the total fill-in a single
	// substitution may create.
	MaxFillinPerSubstitution int

	// MaxShiftPerRow bounds the fill-in a substitution may create in a
	// single row.
	MaxShiftPerRow int
}

// DefaultOptions returns the options used by the driver when the user
// does not override anything.
func DefaultOptions() Options {
	return Options{
		RandomSeed:               0,
		DualReds:                 2,
		CompressFac:              0.8,
		MinAbsCoeff:              1e-10,
		FeasTol:                  num.DefaultFeasTol,
		Epsilon:                  num.DefaultEpsilon,
		HugeVal:                  num.DefaultHugeVal,
		MaxFillinPerSubstitution: 10,
		MaxShiftPerRow:           10,
	}
}

// Num returns the numeric helper configured by the options.
func (o Options) Num() num.Num[float64] {
	return num.Num[float64]{FeasTol: o.FeasTol, Epsilon: o.Epsilon, HugeVal: o.HugeVal}
}
