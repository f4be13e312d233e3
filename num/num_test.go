package num

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeasComparisons(t *testing.T) {
	n := Default[float64]()

	assert.True(t, n.IsFeasEq(1.0, 1.0+5e-7))
	assert.False(t, n.IsFeasEq(1.0, 1.0+2e-6))

	assert.True(t, n.IsFeasLT(1.0, 1.1))
	assert.False(t, n.IsFeasLT(1.0, 1.0+5e-7))
	assert.True(t, n.IsFeasGT(1.1, 1.0))
	assert.False(t, n.IsFeasGT(1.0+5e-7, 1.0))

	assert.True(t, n.IsFeasGE(1.0, 1.0+5e-7))
	assert.True(t, n.IsFeasLE(1.0+5e-7, 1.0))
}

func TestFeasRounding(t *testing.T) {
	n := Default[float64]()

	assert.Equal(t, 1.0, n.FeasCeil(0.4))
	assert.Equal(t, 0.0, n.FeasFloor(0.4))

	// values within tolerance of an integer stay on it
	assert.Equal(t, 1.0, n.FeasCeil(1.0+5e-7))
	assert.Equal(t, 1.0, n.FeasFloor(1.0-5e-7))

	assert.True(t, n.IsFeasIntegral(2.0+5e-7))
	assert.False(t, n.IsFeasIntegral(2.5))
}

func TestHugeVal(t *testing.T) {
	n := Default[float64]()

	assert.True(t, n.IsHugeVal(1e9))
	assert.True(t, n.IsHugeVal(-1e9))
	assert.False(t, n.IsHugeVal(1e7))
}

func TestZeroPredicates(t *testing.T) {
	n := Default[float64]()

	assert.True(t, n.IsZero(1e-10))
	assert.False(t, n.IsZero(1e-8))
	assert.True(t, n.IsFeasZero(1e-7))
	assert.False(t, n.IsFeasZero(1e-5))
}
