package core

import (
	"encoding/binary"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20"

	"github.com/mkoeppe/papilo/num"
)

// PresolveStatus is the outcome of a single reduction primitive or of a
// presolve pass.
type PresolveStatus uint8

const (
	// PresolveUnchanged means the call was a no-op.
	PresolveUnchanged PresolveStatus = iota
	// PresolveReduced means the problem was changed.
	PresolveReduced
	// PresolveInfeasible means a contradiction was certified.
	PresolveInfeasible
	// PresolveUnbndOrInfeas means a dual argument shows the problem is
	// unbounded or infeasible.
	PresolveUnbndOrInfeas
)

func (s PresolveStatus) String() string {
	switch s {
	case PresolveUnchanged:
		return "UNCHANGED"
	case PresolveReduced:
		return "REDUCED"
	case PresolveInfeasible:
		return "INFEASIBLE"
	case PresolveUnbndOrInfeas:
		return "UNBND_OR_INFEAS"
	default:
		panic("invalid presolve status")
	}
}

// ConflictType classifies a transaction against the changes already
// accepted in the current round.
type ConflictType uint8

const (
	NoConflict ConflictType = iota
	Conflict
	Postpone
)

// ApplyResult is the outcome of applying one transaction.
type ApplyResult uint8

const (
	// Applied means all records of the transaction took effect.
	Applied ApplyResult = iota
	// Rejected means the transaction conflicted and had no effect.
	Rejected
	// Postponed means the transaction is replayed later in the round.
	Postponed
	// Infeasible means a record certified a contradiction.
	Infeasible
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "APPLIED"
	case Rejected:
		return "REJECTED"
	case Postponed:
		return "POSTPONED"
	case Infeasible:
		return "INFEASIBLE"
	default:
		panic("invalid apply result")
	}
}

// CompressObserver is notified with the old-to-new index mappings when
// the problem storage is renumbered. Observers must outlive the update
// core; the core does not keep them alive.
type CompressObserver interface {
	Compress(rowMap, colMap []int)
}

// ProblemUpdate mediates all mutations of a Problem during presolving.
// It applies reduction transactions, keeps activities, locks, sizes and
// flags consistent with the primary data, feeds the postsolve trail and
// compresses storage on demand.
type ProblemUpdate struct {
	problem   *Problem
	postsolve *Postsolve
	stats     *Statistics
	opts      Options
	n         num.Num[float64]
	log       zerolog.Logger

	postponeSubstitutions bool

	dirtyRowStates []int
	dirtyColStates []int
	rowState       []entityState
	colState       []entityState

	deletedCols   []int
	redundantRows []int

	changedActivities    []int
	singletonRows        []int
	singletonColumns     []int
	emptyColumns         []int
	firstNewSingletonCol int

	matrixBuffer MatrixBuffer

	compressObservers []CompressObserver

	randomColPerm []int
	randomRowPerm []int

	lastCompressNDelCols int
	lastCompressNDelRows int
}

// NewProblemUpdate creates the update core for a problem. The postsolve
// trail must have been created for the same problem.
func NewProblemUpdate(problem *Problem, postsolve *Postsolve, stats *Statistics,
	opts Options, log zerolog.Logger) *ProblemUpdate {

	pu := &ProblemUpdate{
		problem:               problem,
		postsolve:             postsolve,
		stats:                 stats,
		opts:                  opts,
		n:                     opts.Num(),
		log:                   log,
		postponeSubstitutions: true,
		rowState:              make([]entityState, problem.NRows()),
		colState:              make([]entityState, problem.NCols()),
		randomRowPerm:         randomPermutation(problem.NRows(), opts.RandomSeed, 0),
		randomColPerm:         randomPermutation(problem.NCols(), opts.RandomSeed, 1),
	}
	return pu
}

// randomPermutation derives a deterministic permutation of [0, size)
// from the seed. The stream byte separates the row and column
// permutations of the same seed.
func randomPermutation(size int, seed uint64, stream byte) []int {
	key := make([]byte, chacha20.KeySize)
	binary.LittleEndian.PutUint64(key, seed)
	nonce := make([]byte, chacha20.NonceSize)
	nonce[0] = stream

	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		panic(err)
	}

	buf := make([]byte, 8)
	next := func() uint64 {
		for i := range buf {
			buf[i] = 0
		}
		cipher.XORKeyStream(buf, buf)
		return binary.LittleEndian.Uint64(buf)
	}

	perm := make([]int, size)
	for i := range perm {
		perm[i] = i
	}
	for i := size - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// SetPostponeSubstitutions toggles whether substitution and sparsify
// transactions are postponed instead of applied.
func (pu *ProblemUpdate) SetPostponeSubstitutions(postpone bool) {
	pu.postponeSubstitutions = postpone
}

// Problem returns the mediated problem.
func (pu *ProblemUpdate) Problem() *Problem { return pu.problem }

// Postsolve returns the trail fed by this core.
func (pu *ProblemUpdate) Postsolve() *Postsolve { return pu.postsolve }

// PresolveOptions returns the configuration of the core.
func (pu *ProblemUpdate) PresolveOptions() Options { return pu.opts }

// ChangedActivities returns the rows pending a redundancy check.
func (pu *ProblemUpdate) ChangedActivities() []int { return pu.changedActivities }

// SingletonCols returns the singleton column worklist.
func (pu *ProblemUpdate) SingletonCols() []int { return pu.singletonColumns }

// EmptyCols returns the empty column worklist.
func (pu *ProblemUpdate) EmptyCols() []int { return pu.emptyColumns }

// RandomColPerm returns the deterministic column tie-break ranks.
func (pu *ProblemUpdate) RandomColPerm() []int { return pu.randomColPerm }

// RandomRowPerm returns the deterministic row tie-break ranks.
func (pu *ProblemUpdate) RandomRowPerm() []int { return pu.randomRowPerm }

// FirstNewSingletonCol returns the split between previously seen and
// newly discovered singleton columns.
func (pu *ProblemUpdate) FirstNewSingletonCol() int { return pu.firstNewSingletonCol }

// NActiveRows returns the number of live rows.
func (pu *ProblemUpdate) NActiveRows() int {
	return pu.problem.NRows() - pu.stats.NDeletedRows + pu.lastCompressNDelRows
}

// NActiveCols returns the number of live columns.
func (pu *ProblemUpdate) NActiveCols() int {
	return pu.problem.NCols() - pu.stats.NDeletedCols + pu.lastCompressNDelCols
}

// ObserveCompress registers an observer for storage renumbering.
func (pu *ProblemUpdate) ObserveCompress(obs CompressObserver) {
	pu.compressObservers = append(pu.compressObservers, obs)
}

// IsColBetterForSubstitution ranks two columns as substitution targets:
// sparser first, then zero objective, then the random permutation.
func (pu *ProblemUpdate) IsColBetterForSubstitution(col1, col2 int) bool {
	size1 := pu.problem.Matrix.ColSizes[col1]
	size2 := pu.problem.Matrix.ColSizes[col2]
	if size1 != size2 {
		return size1 < size2
	}

	obj1zero := pu.problem.Objective.Coefficients[col1] == 0
	obj2zero := pu.problem.Objective.Coefficients[col2] == 0
	if obj1zero != obj2zero {
		return obj1zero
	}

	return pu.randomColPerm[col1] < pu.randomColPerm[col2]
}

// RemoveRedundantBounds forwards to the problem store.
func (pu *ProblemUpdate) RemoveRedundantBounds() (int, int) {
	return pu.problem.RemoveRedundantBounds(pu.n)
}

func (pu *ProblemUpdate) setColState(col int, state entityState) {
	if pu.colState[col] == stateUnmodified {
		pu.dirtyColStates = append(pu.dirtyColStates, col)
	}
	pu.colState[col] |= state
}

func (pu *ProblemUpdate) setRowState(row int, state entityState) {
	if pu.rowState[row] == stateUnmodified {
		pu.dirtyRowStates = append(pu.dirtyRowStates, row)
	}
	pu.rowState[row] |= state
}

// updateActivity enqueues a row for re-evaluation after one of its
// activity endpoints moved. Rows already seen this round, redundant rows
// and endpoints that remain multiply infinite are skipped.
func (pu *ProblemUpdate) updateActivity(change ActivityChange, row int, activity *RowActivity) {
	if activity.LastChange == pu.stats.NRounds {
		return
	}
	if change == ActivityChangeMin && activity.NInfMin > 1 {
		return
	}
	if change == ActivityChangeMax && activity.NInfMax > 1 {
		return
	}
	if pu.problem.Matrix.IsRowRedundant(row) {
		return
	}

	activity.LastChange = pu.stats.NRounds
	pu.changedActivities = append(pu.changedActivities, row)
}

// MarkRowRedundant flags a row redundant and queues it for deletion.
func (pu *ProblemUpdate) MarkRowRedundant(row int) {
	rflags := &pu.problem.Matrix.RowFlags[row]
	if !rflags.Test(RowRedundant) {
		pu.redundantRows = append(pu.redundantRows, row)
		pu.stats.NDeletedRows++
		rflags.Set(RowRedundant)
	}
}

// MarkColFixed flags a column fixed and queues it for deletion. The
// bounds must already coincide.
func (pu *ProblemUpdate) MarkColFixed(col int) {
	cflags := &pu.problem.Domains.Flags[col]
	cflags.Set(ColFixed)
	pu.deletedCols = append(pu.deletedCols, col)
	pu.stats.NDeletedCols++

	if cflags.Test(ColIntegral) {
		pu.problem.NumIntegralCols--
	} else {
		pu.problem.NumContinuousCols--
	}
}

// FixCol fixes a column to val, propagating both bound changes to the
// activities.
func (pu *ProblemUpdate) FixCol(col int, val float64) PresolveStatus {
	domains := &pu.problem.Domains
	cflags := domains.Flags

	if cflags[col].Test(ColSubstituted) {
		return PresolveUnchanged
	}

	lbChanged := cflags[col].Test(ColLbInf) || val != domains.LowerBounds[col]
	ubChanged := cflags[col].Test(ColUbInf) || val != domains.UpperBounds[col]

	if lbChanged {
		pu.stats.NBoundChgs++
	}
	if ubChanged {
		pu.stats.NBoundChgs++
	}

	if !lbChanged && !ubChanged {
		return PresolveUnchanged
	}

	colvec := pu.problem.Matrix.ColumnCoefficients(col)

	if (!cflags[col].Test(ColLbInf) && pu.n.IsFeasLT(val, domains.LowerBounds[col])) ||
		(!cflags[col].Test(ColUbInf) && pu.n.IsFeasGT(val, domains.UpperBounds[col])) ||
		(cflags[col].Test(ColIntegral) && !pu.n.IsFeasIntegral(val)) {
		pu.log.Debug().Int("col", col).Float64("val", val).
			Msg("fixing column detected to be infeasible")
		return PresolveInfeasible
	}

	if cflags[col].Test(ColFixed) {
		return PresolveUnchanged
	}

	if lbChanged {
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundLower,
			domains.LowerBounds[col], val, cflags[col].Test(ColLbUseless), false,
			pu.problem.Activities, pu.updateActivity)
		domains.LowerBounds[col] = val
		domains.Flags[col].Unset(ColLbUseless)
	}

	if ubChanged {
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundUpper,
			domains.UpperBounds[col], val, cflags[col].Test(ColUbUseless), false,
			pu.problem.Activities, pu.updateActivity)
		domains.UpperBounds[col] = val
		domains.Flags[col].Unset(ColUbUseless)
	}

	pu.MarkColFixed(col)
	pu.setColState(col, stateBoundsModified)

	return PresolveReduced
}

// FixColInfinity marks a column fixed at plus or minus infinity. val
// must be nonzero, but its sign is not used: when the fixing is trailed,
// the direction is minus infinity if the column's lower bound is
// infinite and plus infinity if only its upper bound is. The activities
// are left untouched: the rows containing the column are redundant or
// about to become so.
func (pu *ProblemUpdate) FixColInfinity(col int, val float64) PresolveStatus {
	cflags := pu.problem.Domains.Flags

	if cflags[col].Test(ColSubstituted) || cflags[col].Test(ColFixed) || val == 0 {
		return PresolveUnchanged
	}

	pu.MarkColFixed(col)
	pu.setColState(col, stateBoundsModified)

	return PresolveReduced
}

// ChangeLB tightens the lower bound of a column.
func (pu *ProblemUpdate) ChangeLB(col int, val float64) PresolveStatus {
	domains := &pu.problem.Domains
	cflags := domains.Flags
	lbs := domains.LowerBounds
	ubs := domains.UpperBounds

	if cflags[col].Test(ColSubstituted) {
		return PresolveUnchanged
	}

	newbound := val
	if cflags[col].Test(ColIntegral | ColImplInt) {
		newbound = pu.n.FeasCeil(newbound)
	}

	if !cflags[col].Test(ColLbInf) && newbound <= lbs[col] {
		return PresolveUnchanged
	}

	pu.stats.NBoundChgs++

	if !cflags[col].Test(ColUbInf) && newbound > ubs[col] {
		if pu.n.IsFeasGT(newbound, ubs[col]) {
			pu.log.Debug().Int("col", col).Float64("val", newbound).
				Msg("changing lower bound detected to be infeasible")
			return PresolveInfeasible
		}
		if !cflags[col].Test(ColLbInf) && lbs[col] == ubs[col] {
			return PresolveUnchanged
		}
		newbound = ubs[col]
	}

	if !pu.n.IsHugeVal(newbound) {
		colvec := pu.problem.Matrix.ColumnCoefficients(col)
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundLower,
			lbs[col], newbound, cflags[col].Test(ColLbUseless), false,
			pu.problem.Activities, pu.updateActivity)
		domains.Flags[col].Unset(ColLbUseless)
	} else {
		colvec := pu.problem.Matrix.ColumnCoefficients(col)
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundLower,
			lbs[col], newbound, cflags[col].Test(ColLbUseless), true,
			pu.problem.Activities, pu.updateActivity)
		domains.Flags[col].Unset(ColLbInf)
		domains.Flags[col].Set(ColLbHuge)
	}

	lbs[col] = newbound

	if !cflags[col].Test(ColUbInf) && ubs[col] == lbs[col] {
		pu.MarkColFixed(col)
	}

	pu.setColState(col, stateBoundsModified)

	return PresolveReduced
}

// ChangeUB tightens the upper bound of a column.
func (pu *ProblemUpdate) ChangeUB(col int, val float64) PresolveStatus {
	domains := &pu.problem.Domains
	cflags := domains.Flags
	lbs := domains.LowerBounds
	ubs := domains.UpperBounds

	if cflags[col].Test(ColSubstituted) {
		return PresolveUnchanged
	}

	newbound := val
	if cflags[col].Test(ColIntegral | ColImplInt) {
		newbound = pu.n.FeasFloor(newbound)
	}

	if !cflags[col].Test(ColUbInf) && newbound >= ubs[col] {
		return PresolveUnchanged
	}

	pu.stats.NBoundChgs++

	if !cflags[col].Test(ColLbInf) && newbound < lbs[col] {
		if pu.n.IsFeasLT(newbound, lbs[col]) {
			pu.log.Debug().Int("col", col).Float64("val", newbound).
				Msg("changing upper bound detected to be infeasible")
			return PresolveInfeasible
		}
		if !cflags[col].Test(ColUbInf) && lbs[col] == ubs[col] {
			return PresolveUnchanged
		}
		newbound = lbs[col]
	}

	if !pu.n.IsHugeVal(newbound) {
		colvec := pu.problem.Matrix.ColumnCoefficients(col)
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundUpper,
			ubs[col], newbound, cflags[col].Test(ColUbUseless), false,
			pu.problem.Activities, pu.updateActivity)
		domains.Flags[col].Unset(ColUbUseless)
	} else {
		colvec := pu.problem.Matrix.ColumnCoefficients(col)
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundUpper,
			ubs[col], newbound, cflags[col].Test(ColUbUseless), true,
			pu.problem.Activities, pu.updateActivity)
		domains.Flags[col].Unset(ColUbInf)
		domains.Flags[col].Set(ColUbHuge)
	}

	ubs[col] = newbound

	if !cflags[col].Test(ColLbInf) && ubs[col] == lbs[col] {
		pu.MarkColFixed(col)
	}

	pu.setColState(col, stateBoundsModified)

	return PresolveReduced
}

// RemoveFixedCols pushes the constant contribution of every fixed
// column out of the sides, the activities and the objective, and trails
// the fixings.
func (pu *ProblemUpdate) RemoveFixedCols() {
	problem := pu.problem
	m := problem.Matrix
	domains := &problem.Domains
	obj := &problem.Objective

	for _, col := range pu.deletedCols {
		cflags := domains.Flags[col]
		if !cflags.Test(ColFixed) {
			continue
		}

		if cflags.Test(ColLbInf) {
			pu.postsolve.NotifyFixedInfCol(col, -1, domains.UpperBounds[col], problem)
			continue
		}
		if cflags.Test(ColUbInf) {
			pu.postsolve.NotifyFixedInfCol(col, 1, domains.LowerBounds[col], problem)
			continue
		}

		fixval := domains.LowerBounds[col]
		pu.postsolve.NotifyFixedCol(col, fixval)

		if fixval == 0 {
			continue
		}

		if obj.Coefficients[col] != 0 {
			obj.Offset += fixval * obj.Coefficients[col]
			obj.Coefficients[col] = 0
		}

		colvec := m.ColumnCoefficients(col)
		for i, row := range colvec.Inds {
			if m.RowFlags[row].Test(RowRedundant) {
				continue
			}
			constant := fixval * colvec.Vals[i]
			pu.problem.Activities[row].Min -= constant
			pu.problem.Activities[row].Max -= constant
			if !m.RowFlags[row].Test(RowLhsInf) {
				m.Lhs[row] -= constant
			}
			if !m.RowFlags[row].Test(RowRhsInf) {
				m.Rhs[row] -= constant
			}
			if !m.RowFlags[row].Test(RowLhsInf|RowRhsInf|RowEquation) &&
				m.Lhs[row] == m.Rhs[row] {
				m.RowFlags[row].Set(RowEquation)
			}
		}
	}
}

func (pu *ProblemUpdate) roundIntegralColumn(col int, status *PresolveStatus) {
	domains := &pu.problem.Domains
	if !domains.Flags[col].Test(ColIntegral) {
		return
	}

	if !domains.Flags[col].Test(ColLbInf) {
		ceillb := pu.n.FeasCeil(domains.LowerBounds[col])
		if ceillb != domains.LowerBounds[col] {
			pu.stats.NBoundChgs++
			domains.LowerBounds[col] = ceillb
			*status = PresolveReduced
		}
	}
	if !domains.Flags[col].Test(ColUbInf) {
		floorub := pu.n.FeasFloor(domains.UpperBounds[col])
		if floorub != domains.UpperBounds[col] {
			pu.stats.NBoundChgs++
			domains.UpperBounds[col] = floorub
			*status = PresolveReduced
		}
	}
}

func (pu *ProblemUpdate) markHugeValues(col int) {
	domains := &pu.problem.Domains
	f := &domains.Flags[col]
	if !f.Test(ColLbInf) && pu.n.IsHugeVal(domains.LowerBounds[col]) {
		f.Set(ColLbHuge)
	}
	if !f.Test(ColUbInf) && pu.n.IsHugeVal(domains.UpperBounds[col]) {
		f.Set(ColUbHuge)
	}
}

func (pu *ProblemUpdate) isDualfixEnabled(col int) bool {
	switch pu.opts.DualReds {
	case 0:
		return false
	case 1:
		return pu.problem.Objective.Coefficients[col] != 0
	default:
		return true
	}
}

// applyDualfix fixes a column to one of its bounds when no row blocks
// moving it in the improving direction.
func (pu *ProblemUpdate) applyDualfix(col int) PresolveStatus {
	if !pu.isDualfixEnabled(col) {
		return PresolveUnchanged
	}

	domains := &pu.problem.Domains
	obj := pu.problem.Objective.Coefficients
	locks := pu.problem.Locks

	if locks[col].Down == 0 && obj[col] >= 0 {
		if domains.Flags[col].Test(ColLbInf) {
			if obj[col] != 0 {
				pu.log.Debug().Int("col", col).
					Msg("dual fixing detected unbounded or infeasible")
				return PresolveUnbndOrInfeas
			}
		} else {
			domains.UpperBounds[col] = domains.LowerBounds[col]
			domains.Flags[col].Unset(ColUbInf)
			pu.stats.NBoundChgs++
			pu.MarkColFixed(col)
			return PresolveReduced
		}
	}

	if locks[col].Up == 0 && obj[col] <= 0 {
		if domains.Flags[col].Test(ColUbInf) {
			if obj[col] != 0 {
				pu.log.Debug().Int("col", col).
					Msg("dual fixing detected unbounded or infeasible")
				return PresolveUnbndOrInfeas
			}
		} else {
			domains.LowerBounds[col] = domains.UpperBounds[col]
			domains.Flags[col].Unset(ColLbInf)
			pu.stats.NBoundChgs++
			pu.MarkColFixed(col)
			return PresolveReduced
		}
	}

	return PresolveUnchanged
}

// TrivialColumnPresolve rounds integral bounds, marks huge bounds,
// detects conflicting bounds, fixes equal-bound columns, applies dual
// fixing and classifies empty and singleton columns.
func (pu *ProblemUpdate) TrivialColumnPresolve() PresolveStatus {
	domains := &pu.problem.Domains
	colsize := pu.problem.Matrix.ColSizes

	status := PresolveUnchanged

	for col := 0; col < pu.problem.NCols(); col++ {
		if domains.Flags[col].Test(ColInactive) {
			continue
		}

		pu.roundIntegralColumn(col, &status)
		pu.markHugeValues(col)

		if !domains.Flags[col].Test(ColUnbounded) {
			if domains.LowerBounds[col] > domains.UpperBounds[col] {
				pu.log.Debug().Int("col", col).
					Msg("trivial presolve detected conflicting bounds")
				return PresolveInfeasible
			}
			if domains.LowerBounds[col] == domains.UpperBounds[col] {
				pu.MarkColFixed(col)
				status = PresolveReduced
				continue
			}
		}

		switch st := pu.applyDualfix(col); st {
		case PresolveUnbndOrInfeas:
			return st
		case PresolveReduced:
			status = PresolveReduced
			continue
		}

		switch colsize[col] {
		case 0:
			pu.emptyColumns = append(pu.emptyColumns, col)
		case 1:
			pu.singletonColumns = append(pu.singletonColumns, col)
		}
	}

	return status
}

// RemoveSingletonRow turns a single-entry row into a bound change or a
// fixing of its unique column and marks the row redundant.
func (pu *ProblemUpdate) RemoveSingletonRow(row int) PresolveStatus {
	m := pu.problem.Matrix

	status := PresolveUnchanged

	if m.RowSizes[row] != 1 || m.RowFlags[row].Test(RowRedundant) {
		return status
	}

	rowvec := m.RowCoefficients(row)
	val := rowvec.Vals[0]
	col := rowvec.Inds[0]
	lhs := m.Lhs[row]
	rhs := m.Rhs[row]
	rflags := m.RowFlags[row]

	switch {
	case rflags.Test(RowEquation):
		status = pu.FixCol(col, rhs/val)
	case val < 0:
		if !rflags.Test(RowLhsInf) {
			status = pu.ChangeUB(col, lhs/val)
		}
		if !rflags.Test(RowRhsInf) && status != PresolveInfeasible {
			status = pu.ChangeLB(col, rhs/val)
		}
	default:
		if !rflags.Test(RowLhsInf) {
			status = pu.ChangeLB(col, lhs/val)
		}
		if !rflags.Test(RowRhsInf) && status != PresolveInfeasible {
			status = pu.ChangeUB(col, rhs/val)
		}
	}

	pu.MarkRowRedundant(row)

	return status
}

// CleanupSmallCoefficients drops tiny coefficients of a row and removes
// small ones whose accumulated worst-case side distortion stays within a
// fraction of the feasibility tolerance, compensating the sides.
func (pu *ProblemUpdate) CleanupSmallCoefficients(row int) {
	m := pu.problem.Matrix
	domains := &pu.problem.Domains

	rowvec := m.RowCoefficients(row)
	length := rowvec.Len()

	totalMod := 0.0
	for i := 0; i < length; i++ {
		col := rowvec.Inds[i]
		val := rowvec.Vals[i]

		if domains.Flags[col].Test(ColUnbounded | ColInactive) {
			continue
		}

		absval := val
		if absval < 0 {
			absval = -absval
		}

		if absval < pu.opts.MinAbsCoeff {
			pu.matrixBuffer.AddEntry(row, col, 0)
			pu.log.Debug().Float64("val", val).Msg("removed tiny coefficient")
			continue
		}

		width := domains.UpperBounds[col] - domains.LowerBounds[col]
		if absval > 1e-3 || absval*width*float64(length) > 1e-2*pu.n.FeasTol {
			continue
		}

		tempTotalMod := totalMod + absval*width
		if tempTotalMod > 0.1*pu.n.FeasTol {
			continue
		}

		pu.matrixBuffer.AddEntry(row, col, 0)
		pu.log.Debug().Float64("val", val).Msg("removed small coefficient")

		if lb := domains.LowerBounds[col]; lb != 0 {
			sidechange := val * lb
			if !m.RowFlags[row].Test(RowRhsInf) {
				m.Rhs[row] -= sidechange
				pu.stats.NSideChgs++
			}
			if !m.RowFlags[row].Test(RowLhsInf) {
				m.Lhs[row] -= sidechange
				pu.stats.NSideChgs++
			}
			if !m.RowFlags[row].Test(RowLhsInf|RowRhsInf|RowEquation) &&
				m.Lhs[row] == m.Rhs[row] {
				m.RowFlags[row].Set(RowEquation)
			}
		}

		totalMod = tempTotalMod
	}
}

// TrivialRowPresolve classifies every row by size: empty rows are
// checked against their sides and discarded, singleton rows turn into
// bound changes, and the rest are tested against their activities.
func (pu *ProblemUpdate) TrivialRowPresolve() PresolveStatus {
	m := pu.problem.Matrix

	status := PresolveUnchanged

	for row := 0; row < pu.problem.NRows(); row++ {
		switch m.RowSizes[row] {
		case 0:
			if !m.RowFlags[row].Test(RowLhsInf) && pu.n.IsFeasGT(m.Lhs[row], 0) {
				pu.log.Debug().Int("row", row).Msg("trivial presolve detected infeasible empty row")
				return PresolveInfeasible
			}
			if !m.RowFlags[row].Test(RowRhsInf) && pu.n.IsFeasLT(m.Rhs[row], 0) {
				pu.log.Debug().Int("row", row).Msg("trivial presolve detected infeasible empty row")
				return PresolveInfeasible
			}
			m.RowFlags[row].Set(RowRedundant)
			m.RowSizes[row] = -1
			status = PresolveReduced
		case 1:
			if pu.RemoveSingletonRow(row) == PresolveInfeasible {
				pu.log.Debug().Int("row", row).Msg("singleton row detected to be infeasible")
				return PresolveInfeasible
			}
			status = PresolveReduced
		case -1:
			// already deleted
		default:
			st := pu.problem.Activities[row].CheckStatus(pu.n, m.RowFlags[row], m.Lhs[row], m.Rhs[row])
			switch st {
			case RowStatusRedundant:
				pu.MarkRowRedundant(row)
				status = PresolveReduced
			case RowStatusRedundantLhs:
				m.ModifyLeftHandSideInf(row)
				status = PresolveReduced
				pu.CleanupSmallCoefficients(row)
			case RowStatusRedundantRhs:
				m.ModifyRightHandSideInf(row)
				status = PresolveReduced
				pu.CleanupSmallCoefficients(row)
			case RowStatusInfeasible:
				return PresolveInfeasible
			case RowStatusUnknown:
				if !m.RowFlags[row].Test(RowLhsInf|RowRhsInf|RowEquation) &&
					m.Lhs[row] == m.Rhs[row] {
					m.RowFlags[row].Set(RowEquation)
				}
				pu.CleanupSmallCoefficients(row)
			}
		}
	}

	pu.FlushChangedCoeffs()

	return status
}

// TrivialPresolve performs the startup pass: locks, column pass, exact
// activities, row pass, and a full flush of the results.
func (pu *ProblemUpdate) TrivialPresolve() PresolveStatus {
	if pu.opts.DualReds != 0 {
		pu.problem.RecomputeLocks()
	}

	status := pu.TrivialColumnPresolve()
	if status == PresolveInfeasible || status == PresolveUnbndOrInfeas {
		return status
	}

	pu.problem.RecomputeAllActivities()

	status = pu.TrivialRowPresolve()
	if status == PresolveInfeasible || status == PresolveUnbndOrInfeas {
		return status
	}

	pu.RemoveFixedCols()

	pu.problem.Matrix.DeleteRowsAndCols(&pu.redundantRows, &pu.deletedCols,
		pu.problem.Activities, &pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns)

	for _, row := range pu.singletonRows {
		if pu.RemoveSingletonRow(row) == PresolveInfeasible {
			pu.log.Debug().Int("row", row).Msg("singleton row detected to be infeasible")
			return PresolveInfeasible
		}
	}
	pu.singletonRows = pu.singletonRows[:0]

	pu.compactSingletonCols()

	st := pu.CheckChangedActivities()
	if st == PresolveInfeasible || st == PresolveUnbndOrInfeas {
		return st
	}

	pu.changedActivities = pu.changedActivities[:0]

	for r := 0; r < pu.problem.NRows(); r++ {
		if pu.problem.Matrix.RowSizes[r] < 0 || pu.problem.Matrix.IsRowRedundant(r) {
			continue
		}
		act := &pu.problem.Activities[r]
		rf := pu.problem.Matrix.RowFlags[r]
		if act.NInfMin == 0 || act.NInfMax == 0 ||
			(act.NInfMax == 1 && !rf.Test(RowLhsInf)) ||
			(act.NInfMin == 1 && !rf.Test(RowRhsInf)) {
			pu.changedActivities = append(pu.changedActivities, r)
		}
	}

	if fst := pu.Flush(); fst == PresolveInfeasible || fst == PresolveUnbndOrInfeas {
		return fst
	}

	return status
}

// compactSingletonCols drops entries of the singleton column worklist
// that are no longer singletons, preserving the first-new split.
func (pu *ProblemUpdate) compactSingletonCols() {
	if len(pu.singletonColumns) == 0 {
		return
	}

	colsize := pu.problem.Matrix.ColSizes

	k := 0
	i := 0
	for ; i != pu.firstNewSingletonCol; i++ {
		if colsize[pu.singletonColumns[i]] != 1 {
			k++
		} else if k != 0 {
			pu.singletonColumns[i-k] = pu.singletonColumns[i]
		}
	}
	pu.firstNewSingletonCol -= k

	n := len(pu.singletonColumns)
	for ; i != n; i++ {
		if colsize[pu.singletonColumns[i]] != 1 {
			k++
		} else if k != 0 {
			pu.singletonColumns[i-k] = pu.singletonColumns[i]
		}
	}
	pu.singletonColumns = pu.singletonColumns[:n-k]

	if pu.firstNewSingletonCol < 0 {
		pu.firstNewSingletonCol = 0
	}
}

// RemoveEmptyColumns fixes every empty column to a value optimal for its
// objective direction, or reports unboundedness when no finite bound
// backs the improving direction. Requires dual reductions.
func (pu *ProblemUpdate) RemoveEmptyColumns() PresolveStatus {
	if pu.opts.DualReds == 0 || len(pu.emptyColumns) == 0 {
		return PresolveUnchanged
	}

	obj := &pu.problem.Objective
	domains := &pu.problem.Domains
	colsize := pu.problem.Matrix.ColSizes

	for _, col := range pu.emptyColumns {
		if colsize[col] != 0 {
			continue
		}
		if pu.opts.DualReds == 1 && obj.Coefficients[col] == 0 {
			continue
		}

		if !domains.Flags[col].Test(ColInactive) {
			var fixval float64

			if obj.Coefficients[col] == 0 {
				fixval = 0
				if !domains.Flags[col].Test(ColUbInf) && domains.UpperBounds[col] < 0 {
					fixval = domains.UpperBounds[col]
				} else if !domains.Flags[col].Test(ColLbInf) && domains.LowerBounds[col] > 0 {
					fixval = domains.LowerBounds[col]
				}
			} else {
				if obj.Coefficients[col] < 0 {
					if domains.Flags[col].Test(ColUbInf) {
						return PresolveUnbndOrInfeas
					}
					fixval = domains.UpperBounds[col]
				} else {
					if domains.Flags[col].Test(ColLbInf) {
						return PresolveUnbndOrInfeas
					}
					fixval = domains.LowerBounds[col]
				}
				obj.Offset += obj.Coefficients[col] * fixval
				obj.Coefficients[col] = 0
			}

			pu.postsolve.NotifyFixedCol(col, fixval)
			domains.Flags[col].Set(ColFixed)
			pu.stats.NDeletedCols++

			if domains.Flags[col].Test(ColIntegral) {
				pu.problem.NumIntegralCols--
			} else {
				pu.problem.NumContinuousCols--
			}
		}

		colsize[col] = -1
	}

	pu.emptyColumns = pu.emptyColumns[:0]

	return PresolveReduced
}

// CheckChangedActivities tests every enqueued row for redundancy or
// infeasibility.
func (pu *ProblemUpdate) CheckChangedActivities() PresolveStatus {
	m := pu.problem.Matrix

	status := PresolveUnchanged
	for _, r := range pu.changedActivities {
		if m.RowFlags[r].Test(RowRedundant) {
			continue
		}

		switch pu.problem.Activities[r].CheckStatus(pu.n, m.RowFlags[r], m.Lhs[r], m.Rhs[r]) {
		case RowStatusRedundant:
			pu.MarkRowRedundant(r)
			status = PresolveReduced
		case RowStatusRedundantLhs:
			m.ModifyLeftHandSideInf(r)
			status = PresolveReduced
		case RowStatusRedundantRhs:
			m.ModifyRightHandSideInf(r)
			status = PresolveReduced
		case RowStatusInfeasible:
			return PresolveInfeasible
		case RowStatusUnknown:
		}
	}

	return status
}

// FlushChangedCoeffs materializes the pending coefficient changes in one
// batched matrix rewrite, keeping activities in sync.
func (pu *ProblemUpdate) FlushChangedCoeffs() {
	if pu.matrixBuffer.Empty() {
		return
	}

	domains := &pu.problem.Domains
	activities := pu.problem.Activities

	coeffChanged := func(row, col int, oldval, newval float64) {
		UpdateActivityAfterCoeffChange(
			domains.LowerBounds[col], domains.UpperBounds[col], domains.Flags[col],
			oldval, newval, &activities[row],
			func(change ActivityChange, activity *RowActivity) {
				pu.updateActivity(change, row, activity)
			})
		pu.stats.NCoefChgs++
	}

	pu.problem.Matrix.ChangeCoefficients(&pu.matrixBuffer,
		&pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns,
		activities, coeffChanged)

	pu.matrixBuffer.Clear()
}

// Flush drains all pending buffers: coefficient changes, singleton
// rows, activity checks, fixed column elimination, physical deletion,
// singleton compaction and empty column fixing.
func (pu *ProblemUpdate) Flush() PresolveStatus {
	pu.FlushChangedCoeffs()

	if len(pu.singletonRows) != 0 {
		for _, row := range pu.singletonRows {
			if pu.RemoveSingletonRow(row) == PresolveInfeasible {
				pu.log.Debug().Int("row", row).Msg("singleton row detected to be infeasible")
				return PresolveInfeasible
			}
		}
		pu.singletonRows = pu.singletonRows[:0]
	}

	if pu.CheckChangedActivities() == PresolveInfeasible {
		return PresolveInfeasible
	}

	rflags := pu.problem.Matrix.RowFlags
	live := pu.changedActivities[:0]
	for _, r := range pu.changedActivities {
		if !rflags[r].Test(RowRedundant) {
			live = append(live, r)
		}
	}
	pu.changedActivities = live

	pu.RemoveFixedCols()

	pu.problem.Matrix.DeleteRowsAndCols(&pu.redundantRows, &pu.deletedCols,
		pu.problem.Activities, &pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns)

	pu.compactSingletonCols()

	if pu.RemoveEmptyColumns() == PresolveUnbndOrInfeas {
		return PresolveUnbndOrInfeas
	}

	return PresolveReduced
}

// ClearChangeInfo resets the per-round change tracking.
func (pu *ProblemUpdate) ClearChangeInfo() {
	pu.changedActivities = pu.changedActivities[:0]
	pu.firstNewSingletonCol = len(pu.singletonColumns)
}

// ClearStates resets the per-round conflict detection flags and
// triggers compression when too little of the storage is live.
func (pu *ProblemUpdate) ClearStates() {
	for _, row := range pu.dirtyRowStates {
		pu.rowState[row] = stateUnmodified
	}
	pu.dirtyRowStates = pu.dirtyRowStates[:0]

	for _, col := range pu.dirtyColStates {
		pu.colState[col] = stateUnmodified
	}
	pu.dirtyColStates = pu.dirtyColStates[:0]

	if pu.opts.CompressFac != 0 {
		if (pu.problem.NCols() > 100 &&
			float64(pu.NActiveCols()) < float64(pu.problem.NCols())*pu.opts.CompressFac) ||
			(pu.problem.NRows() > 100 &&
				float64(pu.NActiveRows()) < float64(pu.problem.NRows())*pu.opts.CompressFac) {
			pu.Compress(false)
		}
	}
}

// compressIndexVector remaps a worklist of indices, dropping deleted
// entries.
func compressIndexVector(mapping []int, vec []int) []int {
	out := vec[:0]
	for _, idx := range vec {
		if newIdx := mapping[idx]; newIdx >= 0 {
			out = append(out, newIdx)
		}
	}
	return out
}

// compressPermutation compacts tie-break ranks onto the surviving
// indices.
func compressPermutation(mapping []int, perm []int) []int {
	n := 0
	for old, newIdx := range mapping {
		if newIdx < 0 {
			continue
		}
		perm[newIdx] = perm[old]
		n++
	}
	return perm[:n]
}

// Compress renumbers the problem and all index-holding state, notifying
// the postsolve trail and the registered observers with the old-to-new
// mappings. With full set the storage is reallocated to exact size.
func (pu *ProblemUpdate) Compress(full bool) {
	if pu.problem.NCols() == pu.NActiveCols() &&
		pu.problem.NRows() == pu.NActiveRows() && !full {
		return
	}

	pu.log.Debug().
		Int("rows", pu.problem.NRows()).Int("cols", pu.problem.NCols()).
		Int("activeRows", pu.NActiveRows()).Int("activeCols", pu.NActiveCols()).
		Msg("compressing problem")

	rowMap, colMap := pu.problem.Compress(full)

	pu.rowState = make([]entityState, pu.problem.NRows())
	pu.colState = make([]entityState, pu.problem.NCols())

	numNewSingletonCols := len(pu.singletonColumns) - pu.firstNewSingletonCol

	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	run(func() { pu.randomRowPerm = compressPermutation(rowMap, pu.randomRowPerm) })
	run(func() { pu.randomColPerm = compressPermutation(colMap, pu.randomColPerm) })
	run(func() { pu.postsolve.Compress(rowMap, colMap, full) })
	run(func() { pu.changedActivities = compressIndexVector(rowMap, pu.changedActivities) })
	run(func() { pu.singletonRows = compressIndexVector(rowMap, pu.singletonRows) })
	run(func() {
		pu.singletonColumns = compressIndexVector(colMap, pu.singletonColumns)
		pu.firstNewSingletonCol = len(pu.singletonColumns) - numNewSingletonCols
		if pu.firstNewSingletonCol < 0 {
			pu.firstNewSingletonCol = 0
		}
	})
	run(func() { pu.emptyColumns = compressIndexVector(colMap, pu.emptyColumns) })
	run(func() {
		for _, obs := range pu.compressObservers {
			obs.Compress(rowMap, colMap)
		}
	})
	wg.Wait()

	pu.lastCompressNDelRows = pu.stats.NDeletedRows
	pu.lastCompressNDelCols = pu.stats.NDeletedCols
}
