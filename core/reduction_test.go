package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReductionsTransactions(t *testing.T) {
	var reds Reductions

	tx := reds.StartTransaction()
	reds.LockColBounds(3)
	reds.ChangeColLB(3, 1)
	tx.End()

	tx = reds.StartTransaction()
	reds.LockRow(0)
	reds.ChangeRowRhs(0, 5)
	tx.End()

	require.Len(t, reds.Transactions(), 2)
	assert.Equal(t, 4, reds.Size())

	first := reds.Transaction(0)
	require.Len(t, first, 2)
	assert.Equal(t, ColOpBoundsLocked, first[0].Row)
	assert.Equal(t, int32(3), first[0].Col)
	assert.Equal(t, ColOpLowerBound, first[1].Row)
	assert.Equal(t, 1.0, first[1].NewVal)

	second := reds.Transaction(1)
	require.Len(t, second, 2)
	assert.Equal(t, RowOpLocked, second[0].Col)
	assert.Equal(t, int32(0), second[0].Row)
	assert.Equal(t, RowOpRhs, second[1].Col)
	assert.Equal(t, 5.0, second[1].NewVal)
}

func TestEmptyTransactionsAreDropped(t *testing.T) {
	var reds Reductions

	tx := reds.StartTransaction()
	tx.End()

	assert.Empty(t, reds.Transactions())
}

func TestReplaceColEmitsPair(t *testing.T) {
	var reds Reductions

	tx := reds.StartTransaction()
	reds.ReplaceCol(1, 2.5, 4, -1)
	tx.End()

	records := reds.Transaction(0)
	require.Len(t, records, 2)
	assert.Equal(t, ColOpReplace, records[0].Row)
	assert.Equal(t, int32(1), records[0].Col)
	assert.Equal(t, 2.5, records[0].NewVal)
	assert.Equal(t, ColOpNone, records[1].Row)
	assert.Equal(t, int32(4), records[1].Col)
	assert.Equal(t, -1.0, records[1].NewVal)
}

func TestSparsifyEncoding(t *testing.T) {
	var reds Reductions

	tx := reds.StartTransaction()
	reds.Sparsify(2, []RowScale{{Row: 0, Scale: -1}, {Row: 1, Scale: 0.5}})
	tx.End()

	records := reds.Transaction(0)
	require.Len(t, records, 3)
	assert.Equal(t, RowOpSparsify, records[0].Col)
	assert.Equal(t, 2.0, records[0].NewVal)
	assert.Equal(t, RowOpNone, records[1].Col)
	assert.Equal(t, int32(0), records[1].Row)
	assert.Equal(t, RowOpNone, records[2].Col)
	assert.Equal(t, 0.5, records[2].NewVal)
}

func TestOpTagsAreNegative(t *testing.T) {
	for _, tag := range []int32{
		ColOpNone, ColOpObjective, ColOpLowerBound, ColOpUpperBound,
		ColOpFixed, ColOpLocked, ColOpLockedStrong, ColOpSubstitute,
		ColOpBoundsLocked, ColOpReplace, ColOpSubstituteObj,
		ColOpParallel, ColOpImplInt, ColOpFixedInfinity,
		RowOpNone, RowOpRhs, RowOpLhs, RowOpRedundant, RowOpLocked,
		RowOpLockedStrong, RowOpRhsInf, RowOpLhsInf, RowOpSparsify,
	} {
		assert.Negative(t, tag)
	}
}
