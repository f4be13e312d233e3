package core

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"

	"github.com/mkoeppe/papilo/num"
)

// SparseVectorView is a read-only view on a sparse row or column. Inds
// holds the column indices for a row view and the row indices for a
// column view, sorted ascending. Vals holds the matching coefficients.
type SparseVectorView struct {
	Inds []int
	Vals []float64
}

// Len returns the number of nonzeros in the view.
func (v SparseVectorView) Len() int { return len(v.Inds) }

type sparseVec struct {
	inds []int
	vals []float64
}

func (s *sparseVec) find(idx int) (int, bool) {
	return slices.BinarySearch(s.inds, idx)
}

func (s *sparseVec) insertAt(pos, idx int, val float64) {
	s.inds = append(s.inds, 0)
	copy(s.inds[pos+1:], s.inds[pos:])
	s.inds[pos] = idx
	s.vals = append(s.vals, 0)
	copy(s.vals[pos+1:], s.vals[pos:])
	s.vals[pos] = val
}

func (s *sparseVec) removeAt(pos int) {
	s.inds = append(s.inds[:pos], s.inds[pos+1:]...)
	s.vals = append(s.vals[:pos], s.vals[pos+1:]...)
}

// ConstraintMatrix stores the constraint coefficients both row-wise and
// column-wise together with the row sides and row flags. RowSizes and
// ColSizes hold the live nonzero counts; a value of -1 marks a deleted
// row or column.
type ConstraintMatrix struct {
	Lhs      []float64
	Rhs      []float64
	RowFlags []RowFlags
	RowSizes []int
	ColSizes []int

	rows []sparseVec
	cols []sparseVec
}

// NewConstraintMatrix builds an empty matrix with the given dimensions.
func NewConstraintMatrix(nRows, nCols int) *ConstraintMatrix {
	return &ConstraintMatrix{
		Lhs:      make([]float64, nRows),
		Rhs:      make([]float64, nRows),
		RowFlags: make([]RowFlags, nRows),
		RowSizes: make([]int, nRows),
		ColSizes: make([]int, nCols),
		rows:     make([]sparseVec, nRows),
		cols:     make([]sparseVec, nCols),
	}
}

// NRows returns the number of row slots, including deleted rows.
func (m *ConstraintMatrix) NRows() int { return len(m.rows) }

// NCols returns the number of column slots, including deleted columns.
func (m *ConstraintMatrix) NCols() int { return len(m.cols) }

// RowCoefficients returns a view on the nonzeros of a row.
func (m *ConstraintMatrix) RowCoefficients(row int) SparseVectorView {
	return SparseVectorView{Inds: m.rows[row].inds, Vals: m.rows[row].vals}
}

// ColumnCoefficients returns a view on the nonzeros of a column.
func (m *ConstraintMatrix) ColumnCoefficients(col int) SparseVectorView {
	return SparseVectorView{Inds: m.cols[col].inds, Vals: m.cols[col].vals}
}

// IsRowRedundant reports whether the row is marked redundant.
func (m *ConstraintMatrix) IsRowRedundant(row int) bool {
	return m.RowFlags[row].Test(RowRedundant)
}

func (m *ConstraintMatrix) updateEquationFlag(row int) {
	f := &m.RowFlags[row]
	if !f.Test(RowLhsInf) && !f.Test(RowRhsInf) && m.Lhs[row] == m.Rhs[row] {
		f.Set(RowEquation)
	} else {
		f.Unset(RowEquation)
	}
}

// ModifyLeftHandSide sets a finite left-hand side.
func (m *ConstraintMatrix) ModifyLeftHandSide(row int, val float64) {
	m.RowFlags[row].Unset(RowLhsInf)
	m.Lhs[row] = val
	m.updateEquationFlag(row)
}

// ModifyRightHandSide sets a finite right-hand side.
func (m *ConstraintMatrix) ModifyRightHandSide(row int, val float64) {
	m.RowFlags[row].Unset(RowRhsInf)
	m.Rhs[row] = val
	m.updateEquationFlag(row)
}

// ModifyLeftHandSideInf drops the left-hand side.
func (m *ConstraintMatrix) ModifyLeftHandSideInf(row int) {
	m.RowFlags[row].Set(RowLhsInf)
	m.RowFlags[row].Unset(RowEquation)
	m.Lhs[row] = 0
}

// ModifyRightHandSideInf drops the right-hand side.
func (m *ConstraintMatrix) ModifyRightHandSideInf(row int) {
	m.RowFlags[row].Set(RowRhsInf)
	m.RowFlags[row].Unset(RowEquation)
	m.Rhs[row] = 0
}

// setEntry writes the coefficient at (row, col) into both
// representations and returns the previous value.
func (m *ConstraintMatrix) setEntry(row, col int, val float64) float64 {
	rv := &m.rows[row]
	pos, found := rv.find(col)

	var old float64
	if found {
		old = rv.vals[pos]
	}
	if old == val {
		return old
	}

	switch {
	case val == 0 && found:
		rv.removeAt(pos)
		m.RowSizes[row]--
	case val != 0 && found:
		rv.vals[pos] = val
	case val != 0 && !found:
		rv.insertAt(pos, col, val)
		m.RowSizes[row]++
	default:
		return 0
	}

	cv := &m.cols[col]
	cpos, cfound := cv.find(row)
	switch {
	case val == 0 && cfound:
		cv.removeAt(cpos)
		m.ColSizes[col]--
	case val != 0 && cfound:
		cv.vals[cpos] = val
	case val != 0 && !cfound:
		cv.insertAt(cpos, row, val)
		m.ColSizes[col]++
	}

	return old
}

// ChangeCoefficients materializes all pending changes of the buffer.
// Newly created singleton rows, singleton columns and empty columns are
// appended to the given worklists, and coeffChanged fires for every
// coefficient that actually changed, before worklist discovery.
func (m *ConstraintMatrix) ChangeCoefficients(buf *MatrixBuffer,
	singletonRows, singletonCols, emptyCols *[]int,
	activities []RowActivity, coeffChanged func(row, col int, oldVal, newVal float64)) {

	if buf.Empty() {
		return
	}

	touchedRows := bitset.New(uint(len(m.rows)))
	touchedCols := bitset.New(uint(len(m.cols)))

	for _, e := range buf.RowMajor() {
		if m.RowSizes[e.Row] < 0 || m.ColSizes[e.Col] < 0 {
			continue
		}
		old := m.setEntry(e.Row, e.Col, e.Val)
		if old == e.Val {
			continue
		}
		touchedRows.Set(uint(e.Row))
		touchedCols.Set(uint(e.Col))
		if coeffChanged != nil {
			coeffChanged(e.Row, e.Col, old, e.Val)
		}
	}

	for r, ok := touchedRows.NextSet(0); ok; r, ok = touchedRows.NextSet(r + 1) {
		if m.RowSizes[r] == 1 && !m.RowFlags[r].Test(RowRedundant) {
			*singletonRows = append(*singletonRows, int(r))
		}
	}
	for c, ok := touchedCols.NextSet(0); ok; c, ok = touchedCols.NextSet(c + 1) {
		switch m.ColSizes[c] {
		case 1:
			*singletonCols = append(*singletonCols, int(c))
		case 0:
			*emptyCols = append(*emptyCols, int(c))
		}
	}
}

// DeleteRowsAndCols physically removes the rows and columns collected in
// the worklists. Rows must already carry the redundant flag and columns
// must be inactive. Newly created singleton rows, singleton columns and
// empty columns of the surviving part are appended to the worklists. The
// input worklists are drained.
func (m *ConstraintMatrix) DeleteRowsAndCols(redundantRows, deletedCols *[]int,
	activities []RowActivity, singletonRows, singletonCols, emptyCols *[]int) {

	if len(*redundantRows) == 0 && len(*deletedCols) == 0 {
		return
	}

	delRow := bitset.New(uint(len(m.rows)))
	delCol := bitset.New(uint(len(m.cols)))
	for _, r := range *redundantRows {
		delRow.Set(uint(r))
	}
	for _, c := range *deletedCols {
		delCol.Set(uint(c))
	}

	touchedRows := bitset.New(uint(len(m.rows)))
	touchedCols := bitset.New(uint(len(m.cols)))

	for _, r := range *redundantRows {
		if m.RowSizes[r] < 0 {
			continue
		}
		rv := &m.rows[r]
		for _, c := range rv.inds {
			if delCol.Test(uint(c)) {
				continue
			}
			cv := &m.cols[c]
			if pos, found := cv.find(r); found {
				cv.removeAt(pos)
				m.ColSizes[c]--
				touchedCols.Set(uint(c))
			}
		}
		rv.inds = nil
		rv.vals = nil
		m.RowSizes[r] = -1
		m.Lhs[r] = 0
		m.Rhs[r] = 0
	}

	for _, c := range *deletedCols {
		if m.ColSizes[c] < 0 {
			continue
		}
		cv := &m.cols[c]
		for _, r := range cv.inds {
			if delRow.Test(uint(r)) || m.RowSizes[r] < 0 {
				continue
			}
			rv := &m.rows[r]
			if pos, found := rv.find(c); found {
				rv.removeAt(pos)
				m.RowSizes[r]--
				touchedRows.Set(uint(r))
			}
		}
		cv.inds = nil
		cv.vals = nil
		m.ColSizes[c] = -1
	}

	for r, ok := touchedRows.NextSet(0); ok; r, ok = touchedRows.NextSet(r + 1) {
		if m.RowSizes[r] == 1 && !m.RowFlags[r].Test(RowRedundant) {
			*singletonRows = append(*singletonRows, int(r))
		}
	}
	for c, ok := touchedCols.NextSet(0); ok; c, ok = touchedCols.NextSet(c + 1) {
		if m.ColSizes[c] < 0 {
			continue
		}
		switch m.ColSizes[c] {
		case 1:
			*singletonCols = append(*singletonCols, int(c))
		case 0:
			*emptyCols = append(*emptyCols, int(c))
		}
	}

	*redundantRows = (*redundantRows)[:0]
	*deletedCols = (*deletedCols)[:0]
}

// CheckAggregationSparsityCondition estimates the fill-in of
// substituting col via the given equality vector and checks it against
// the budgets. maxShiftPerRow bounds the fill-in of any single row and
// maxFillin the total fill-in of the whole substitution.
func (m *ConstraintMatrix) CheckAggregationSparsityCondition(col int,
	eq SparseVectorView, maxFillin, maxShiftPerRow int) bool {

	support := bitset.New(uint(len(m.cols)))
	for _, c := range eq.Inds {
		support.Set(uint(c))
	}

	totalFillin := 0
	for _, r := range m.cols[col].inds {
		common := 0
		for _, c := range m.rows[r].inds {
			if support.Test(uint(c)) {
				common++
			}
		}
		// every row loses the entry of col and gains the equality
		// entries it does not share yet
		rowFillin := eq.Len() - common
		if rowFillin > maxShiftPerRow {
			return false
		}
		totalFillin += rowFillin - 1
	}

	return totalFillin <= maxFillin
}

// rewriteRow replaces the nonzeros of a row, keeping the column-wise
// representation in sync. The new entries are stored as given.
func (m *ConstraintMatrix) rewriteRow(row int, newInds []int, newVals []float64,
	touchedCols *bitset.BitSet) {

	old := &m.rows[row]
	for _, c := range old.inds {
		cv := &m.cols[c]
		if pos, found := cv.find(row); found {
			cv.removeAt(pos)
			m.ColSizes[c]--
			touchedCols.Set(uint(c))
		}
	}

	for i, c := range newInds {
		cv := &m.cols[c]
		pos, _ := cv.find(row)
		cv.insertAt(pos, row, newVals[i])
		m.ColSizes[c]++
		touchedCols.Set(uint(c))
	}

	old.inds = newInds
	old.vals = newVals
	m.RowSizes[row] = len(newInds)
}

// mergeRow computes base + scale*addend over the sparse supports,
// dropping entries that cancel within epsilon. skipCol is excluded from
// the result entirely; pass a negative value to keep all columns.
func mergeRow(n num.Num[float64], base SparseVectorView, scale float64,
	addend SparseVectorView, skipCol int) ([]int, []float64) {

	inds := make([]int, 0, base.Len()+addend.Len())
	vals := make([]float64, 0, base.Len()+addend.Len())

	i, j := 0, 0
	for i < base.Len() || j < addend.Len() {
		var c int
		var v float64
		switch {
		case j == addend.Len() || (i < base.Len() && base.Inds[i] < addend.Inds[j]):
			c, v = base.Inds[i], base.Vals[i]
			i++
		case i == base.Len() || addend.Inds[j] < base.Inds[i]:
			c, v = addend.Inds[j], scale*addend.Vals[j]
			j++
		default:
			c, v = base.Inds[i], base.Vals[i]+scale*addend.Vals[j]
			i++
			j++
		}
		if c == skipCol || n.IsZero(v) {
			continue
		}
		inds = append(inds, c)
		vals = append(vals, v)
	}

	return inds, vals
}

// enqueueActivity recomputes a row activity from scratch and enqueues
// the row for re-evaluation if it was not seen this round.
func (m *ConstraintMatrix) enqueueActivity(row int, domains *VariableDomains,
	activities []RowActivity, changedActivities *[]int, round int) {

	last := activities[row].LastChange
	activities[row] = computeRowActivity(m.rows[row].vals, m.rows[row].inds, domains)
	activities[row].LastChange = last

	if m.RowFlags[row].Test(RowRedundant) || activities[row].LastChange == round {
		return
	}
	activities[row].LastChange = round
	*changedActivities = append(*changedActivities, row)
}

// Aggregate eliminates col from every row it appears in by adding the
// appropriate multiple of the equality eq·x = eqRHS. Rows whose support
// cancels completely (in particular the equality row itself) are deleted
// with zeroed sides. Changed rows get exact fresh activities and are
// enqueued; new singleton rows and singleton/empty columns land in the
// worklists.
func (m *ConstraintMatrix) Aggregate(n num.Num[float64], col int,
	eq SparseVectorView, eqRHS float64, domains *VariableDomains,
	changedActivities *[]int, activities []RowActivity,
	singletonRows, singletonCols, emptyCols *[]int, round int) {

	eqPos, ok := slices.BinarySearch(eq.Inds, col)
	if !ok {
		panic("aggregated column not part of the equality")
	}
	eqVal := eq.Vals[eqPos]

	// the equality may be a live row that cancels mid-loop, so work on
	// copies of it and of the column support
	eq = SparseVectorView{
		Inds: append([]int(nil), eq.Inds...),
		Vals: append([]float64(nil), eq.Vals...),
	}
	colRows := append([]int(nil), m.cols[col].inds...)
	colVals := append([]float64(nil), m.cols[col].vals...)

	touchedCols := bitset.New(uint(len(m.cols)))
	touchedRows := make([]int, 0, len(colRows))

	for k, row := range colRows {
		scale := colVals[k] / eqVal

		inds, vals := mergeRow(n, m.RowCoefficients(row), -scale, eq, col)
		m.rewriteRow(row, inds, vals, touchedCols)

		if len(inds) == 0 {
			m.RowSizes[row] = -1
			m.RowFlags[row].Set(RowRedundant)
			m.Lhs[row] = 0
			m.Rhs[row] = 0
			continue
		}

		shift := scale * eqRHS
		if shift != 0 {
			if !m.RowFlags[row].Test(RowLhsInf) {
				m.Lhs[row] -= shift
			}
			if !m.RowFlags[row].Test(RowRhsInf) {
				m.Rhs[row] -= shift
			}
		}
		m.updateEquationFlag(row)

		touchedRows = append(touchedRows, row)
	}

	m.cols[col].inds = nil
	m.cols[col].vals = nil
	m.ColSizes[col] = -1

	for _, row := range touchedRows {
		m.enqueueActivity(row, domains, activities, changedActivities, round)
		if m.RowSizes[row] == 1 {
			*singletonRows = append(*singletonRows, row)
		}
	}
	for c, ok := touchedCols.NextSet(0); ok; c, ok = touchedCols.NextSet(c + 1) {
		if m.ColSizes[c] < 0 {
			continue
		}
		switch m.ColSizes[c] {
		case 1:
			*singletonCols = append(*singletonCols, int(c))
		case 0:
			*emptyCols = append(*emptyCols, int(c))
		}
	}
}

// Sparsify adds scale times the equality row eqRow to candRow and
// returns the number of nonzeros canceled, counting fill-in negatively.
// The sides of candRow shift by scale times the equality's side.
func (m *ConstraintMatrix) Sparsify(n num.Num[float64], eqRow int, scale float64,
	candRow int, domains *VariableDomains, changedActivities *[]int,
	activities []RowActivity, singletonRows, singletonCols, emptyCols *[]int,
	round int) int {

	oldLen := m.RowSizes[candRow]
	if oldLen < 0 || m.RowSizes[eqRow] < 0 {
		return 0
	}

	touchedCols := bitset.New(uint(len(m.cols)))
	inds, vals := mergeRow(n, m.RowCoefficients(candRow), scale, m.RowCoefficients(eqRow), -1)
	m.rewriteRow(candRow, inds, vals, touchedCols)

	shift := scale * m.Rhs[eqRow]
	if shift != 0 {
		if !m.RowFlags[candRow].Test(RowLhsInf) {
			m.Lhs[candRow] += shift
		}
		if !m.RowFlags[candRow].Test(RowRhsInf) {
			m.Rhs[candRow] += shift
		}
	}
	m.updateEquationFlag(candRow)

	m.enqueueActivity(candRow, domains, activities, changedActivities, round)
	if m.RowSizes[candRow] == 1 {
		*singletonRows = append(*singletonRows, candRow)
	}

	for c, ok := touchedCols.NextSet(0); ok; c, ok = touchedCols.NextSet(c + 1) {
		if m.ColSizes[c] < 0 {
			continue
		}
		switch m.ColSizes[c] {
		case 1:
			*singletonCols = append(*singletonCols, int(c))
		case 0:
			*emptyCols = append(*emptyCols, int(c))
		}
	}

	return oldLen - len(inds)
}

// Compress renumbers rows and columns so that the live entries occupy a
// dense prefix. It returns the old-to-new mappings with -1 for deleted
// indices. With full set, the compacted storage is reallocated to exact
// size.
func (m *ConstraintMatrix) Compress(full bool) (rowMap, colMap []int) {
	rowMap = make([]int, len(m.rows))
	colMap = make([]int, len(m.cols))

	nextRow := 0
	for r := range m.rows {
		if m.RowSizes[r] < 0 {
			rowMap[r] = -1
			continue
		}
		rowMap[r] = nextRow
		nextRow++
	}
	nextCol := 0
	for c := range m.cols {
		if m.ColSizes[c] < 0 {
			colMap[c] = -1
			continue
		}
		colMap[c] = nextCol
		nextCol++
	}

	for r, newR := range rowMap {
		if newR < 0 {
			continue
		}
		rv := m.rows[r]
		for i, c := range rv.inds {
			rv.inds[i] = colMap[c]
		}
		m.rows[newR] = rv
		m.RowSizes[newR] = m.RowSizes[r]
		m.Lhs[newR] = m.Lhs[r]
		m.Rhs[newR] = m.Rhs[r]
		m.RowFlags[newR] = m.RowFlags[r]
	}
	m.rows = m.rows[:nextRow]
	m.RowSizes = m.RowSizes[:nextRow]
	m.Lhs = m.Lhs[:nextRow]
	m.Rhs = m.Rhs[:nextRow]
	m.RowFlags = m.RowFlags[:nextRow]

	for c, newC := range colMap {
		if newC < 0 {
			continue
		}
		cv := m.cols[c]
		for i, r := range cv.inds {
			cv.inds[i] = rowMap[r]
		}
		m.cols[newC] = cv
		m.ColSizes[newC] = m.ColSizes[c]
	}
	m.cols = m.cols[:nextCol]
	m.ColSizes = m.ColSizes[:nextCol]

	if full {
		m.rows = slices.Clone(m.rows)
		m.RowSizes = slices.Clone(m.RowSizes)
		m.Lhs = slices.Clone(m.Lhs)
		m.Rhs = slices.Clone(m.Rhs)
		m.RowFlags = slices.Clone(m.RowFlags)
		m.cols = slices.Clone(m.cols)
		m.ColSizes = slices.Clone(m.ColSizes)
	}

	return rowMap, colMap
}
