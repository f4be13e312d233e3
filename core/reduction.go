package core

// Reduction is a single record produced by a presolve method. Plain
// records with non-negative Row and Col set the matrix coefficient at
// that position. A negative Row encodes a column operation whose tag is
// the Row value; a negative Col encodes a row operation whose tag is the
// Col value.
type Reduction struct {
	Row    int32
	Col    int32
	NewVal float64
}

// Column operation tags, stored in Reduction.Row.
const (
	ColOpNone int32 = -(iota + 1)
	ColOpObjective
	ColOpLowerBound
	ColOpUpperBound
	ColOpFixed
	ColOpLocked
	ColOpLockedStrong
	ColOpSubstitute
	ColOpBoundsLocked
	ColOpReplace
	ColOpSubstituteObj
	ColOpParallel
	ColOpImplInt
	ColOpFixedInfinity
)

// Row operation tags, stored in Reduction.Col.
const (
	RowOpNone int32 = -(iota + 1)
	RowOpRhs
	RowOpLhs
	RowOpRedundant
	RowOpLocked
	RowOpLockedStrong
	RowOpRhsInf
	RowOpLhsInf
	RowOpSparsify
)

// Transaction is a half-open range into the reduction records.
type Transaction struct {
	Start int
	End   int
}

// Reductions collects the records of one presolve method as a flat
// buffer partitioned into transactions, so batches can be handed to the
// applier without further allocation.
type Reductions struct {
	reductions   []Reduction
	transactions []Transaction
}

func (r *Reductions) add(row, col int32, newVal float64) {
	r.reductions = append(r.reductions, Reduction{Row: row, Col: col, NewVal: newVal})
}

// Clear drops all records and transactions.
func (r *Reductions) Clear() {
	r.reductions = r.reductions[:0]
	r.transactions = r.transactions[:0]
}

// Size returns the number of records.
func (r *Reductions) Size() int { return len(r.reductions) }

// Records returns the flat record buffer.
func (r *Reductions) Records() []Reduction { return r.reductions }

// Transactions returns the recorded transaction ranges.
func (r *Reductions) Transactions() []Transaction { return r.transactions }

// Transaction returns the records of the i-th transaction.
func (r *Reductions) Transaction(i int) []Reduction {
	t := r.transactions[i]
	return r.reductions[t.Start:t.End]
}

// TransactionGuard brackets the records appended between its creation
// and End into one transaction.
type TransactionGuard struct {
	r     *Reductions
	start int
}

// StartTransaction opens a transaction and returns its guard.
func (r *Reductions) StartTransaction() TransactionGuard {
	return TransactionGuard{r: r, start: len(r.reductions)}
}

// End closes the transaction. Empty transactions are dropped.
func (g TransactionGuard) End() {
	if len(g.r.reductions) == g.start {
		return
	}
	g.r.transactions = append(g.r.transactions,
		Transaction{Start: g.start, End: len(g.r.reductions)})
}

// ChangeMatrixEntry records a coefficient change.
func (r *Reductions) ChangeMatrixEntry(row, col int, newVal float64) {
	r.add(int32(row), int32(col), newVal)
}

// LockCol requests a weak lock on all column data.
func (r *Reductions) LockCol(col int) {
	r.add(ColOpLocked, int32(col), 0)
}

// LockColStrong requests a strong lock on all column data.
func (r *Reductions) LockColStrong(col int) {
	r.add(ColOpLockedStrong, int32(col), 0)
}

// LockColBounds requests that the column bounds stay untouched by other
// transactions of the round.
func (r *Reductions) LockColBounds(col int) {
	r.add(ColOpBoundsLocked, int32(col), 0)
}

// ChangeObjCoeff records a new objective coefficient.
func (r *Reductions) ChangeObjCoeff(col int, newVal float64) {
	r.add(ColOpObjective, int32(col), newVal)
}

// FixCol records fixing a column to val.
func (r *Reductions) FixCol(col int, val float64) {
	r.add(ColOpFixed, int32(col), val)
}

// FixColInfinity records fixing a column at plus or minus infinity,
// depending on the sign of val.
func (r *Reductions) FixColInfinity(col int, val float64) {
	r.add(ColOpFixedInfinity, int32(col), val)
}

// ChangeColLB records a new lower bound.
func (r *Reductions) ChangeColLB(col int, val float64) {
	r.add(ColOpLowerBound, int32(col), val)
}

// ChangeColUB records a new upper bound.
func (r *Reductions) ChangeColUB(col int, val float64) {
	r.add(ColOpUpperBound, int32(col), val)
}

// ImpliedInteger records that a column is implied integral.
func (r *Reductions) ImpliedInteger(col int) {
	r.add(ColOpImplInt, int32(col), 0)
}

// SubstituteCol records the elimination of col via the equality row.
func (r *Reductions) SubstituteCol(col, equalityRow int) {
	r.add(ColOpSubstitute, int32(col), float64(equalityRow))
}

// SubstituteColInObjective records rewriting the objective with the
// equality row without touching the matrix.
func (r *Reductions) SubstituteColInObjective(col, equalityRow int) {
	r.add(ColOpSubstituteObj, int32(col), float64(equalityRow))
}

// ParallelCols records merging col1 into col2.
func (r *Reductions) ParallelCols(col1, col2 int) {
	r.add(ColOpParallel, int32(col1), float64(col2))
}

// ReplaceCol records the affine coupling col1 = factor*col2 + offset as
// a two-record pair.
func (r *Reductions) ReplaceCol(col1 int, factor float64, col2 int, offset float64) {
	r.add(ColOpReplace, int32(col1), factor)
	r.add(ColOpNone, int32(col2), offset)
}

// LockRow requests a weak lock on a row.
func (r *Reductions) LockRow(row int) {
	r.add(int32(row), RowOpLocked, 0)
}

// LockRowStrong requests a strong lock on a row.
func (r *Reductions) LockRowStrong(row int) {
	r.add(int32(row), RowOpLockedStrong, 0)
}

// ChangeRowLhs records a new finite left-hand side.
func (r *Reductions) ChangeRowLhs(row int, val float64) {
	r.add(int32(row), RowOpLhs, val)
}

// ChangeRowRhs records a new finite right-hand side.
func (r *Reductions) ChangeRowRhs(row int, val float64) {
	r.add(int32(row), RowOpRhs, val)
}

// ChangeRowLhsInf records dropping the left-hand side.
func (r *Reductions) ChangeRowLhsInf(row int) {
	r.add(int32(row), RowOpLhsInf, 0)
}

// ChangeRowRhsInf records dropping the right-hand side.
func (r *Reductions) ChangeRowRhsInf(row int) {
	r.add(int32(row), RowOpRhsInf, 0)
}

// MarkRowRedundant records that a row can be discarded.
func (r *Reductions) MarkRowRedundant(row int) {
	r.add(int32(row), RowOpRedundant, 0)
}

// RowScale pairs a candidate row with the multiple of the equality row
// added to it during sparsification.
type RowScale struct {
	Row   int
	Scale float64
}

// Sparsify records adding multiples of the equality row eqRow to the
// given candidate rows.
func (r *Reductions) Sparsify(eqRow int, candidates []RowScale) {
	r.add(int32(eqRow), RowOpSparsify, float64(len(candidates)))
	for _, c := range candidates {
		r.add(int32(c.Row), RowOpNone, c.Scale)
	}
}
