package core

import "golang.org/x/exp/slices"

// CheckTransactionConflicts scans a transaction against the per-round
// state flags and reports whether it can be applied, must be rejected,
// or is to be postponed.
func (pu *ProblemUpdate) CheckTransactionConflicts(reductions []Reduction) ConflictType {
	for i := range reductions {
		reduction := &reductions[i]

		switch {
		case reduction.Row >= 0 && reduction.Col >= 0:
			// a coefficient change requires neither side to be locked
			if pu.colState[reduction.Col].test(stateLocked) ||
				pu.rowState[reduction.Row].test(stateLocked) {
				return Conflict
			}

		case reduction.Row < 0:
			col := int(reduction.Col)
			switch reduction.Row {
			case ColOpLocked, ColOpLockedStrong:
				// locking a column requires it to be unmodified
				if pu.colState[col].test(stateModified) {
					return Conflict
				}
			case ColOpObjective:
				if pu.colState[col].test(stateLocked) {
					return Conflict
				}
			case ColOpBoundsLocked:
				if pu.colState[col].test(stateBoundsModified) {
					return Conflict
				}
			case ColOpSubstitute, ColOpReplace:
				// substitutions run last so other reductions of the
				// round are not starved
				if pu.postponeSubstitutions {
					return Postpone
				}
			}

		default:
			row := int(reduction.Row)
			switch reduction.Col {
			case RowOpLocked, RowOpLockedStrong:
				if pu.rowState[row].test(stateModified | stateBoundsModified) {
					return Conflict
				}
			case RowOpLhs, RowOpLhsInf, RowOpRhs, RowOpRhsInf:
				if pu.rowState[row].test(stateLocked) {
					return Conflict
				}
			case RowOpSparsify:
				if pu.postponeSubstitutions {
					return Postpone
				}
			}
		}
	}

	return NoConflict
}

// ApplyTransaction validates and applies one transaction. On the first
// infeasible record the transaction aborts; every record applied until
// then left the derived data consistent with the primary data.
func (pu *ProblemUpdate) ApplyTransaction(reductions []Reduction) ApplyResult {
	switch pu.CheckTransactionConflicts(reductions) {
	case Conflict:
		return Rejected
	case Postpone:
		return Postponed
	}

	for i := 0; i < len(reductions); i++ {
		reduction := reductions[i]

		switch {
		case reduction.Row >= 0 && reduction.Col >= 0:
			pu.setRowState(int(reduction.Row), stateModified)
			pu.setColState(int(reduction.Col), stateModified)
			pu.matrixBuffer.AddEntry(int(reduction.Row), int(reduction.Col), reduction.NewVal)

		case reduction.Row < 0:
			result := pu.applyColReduction(reductions, &i)
			if result != Applied {
				return result
			}

		default:
			result := pu.applyRowReduction(reductions, &i)
			if result != Applied {
				return result
			}
		}
	}

	return Applied
}

func (pu *ProblemUpdate) applyColReduction(reductions []Reduction, i *int) ApplyResult {
	reduction := reductions[*i]
	col := int(reduction.Col)

	domains := &pu.problem.Domains
	cflags := domains.Flags

	switch reduction.Row {
	case ColOpLockedStrong:
		pu.setColState(col, stateLocked)

	case ColOpObjective:
		pu.setColState(col, stateModified)
		pu.problem.Objective.Coefficients[col] = reduction.NewVal

	case ColOpFixed:
		if pu.FixCol(col, reduction.NewVal) == PresolveInfeasible {
			return Infeasible
		}

	case ColOpFixedInfinity:
		if pu.FixColInfinity(col, reduction.NewVal) == PresolveInfeasible {
			return Infeasible
		}

	case ColOpLowerBound:
		if pu.ChangeLB(col, reduction.NewVal) == PresolveInfeasible {
			return Infeasible
		}

	case ColOpUpperBound:
		if pu.ChangeUB(col, reduction.NewVal) == PresolveInfeasible {
			return Infeasible
		}

	case ColOpImplInt:
		if !cflags[col].Test(ColInactive) {
			domains.Flags[col].Set(ColImplInt)
			if !cflags[col].Test(ColLbInf) {
				if pu.ChangeLB(col, domains.LowerBounds[col]) == PresolveInfeasible {
					return Infeasible
				}
			}
			if !cflags[col].Test(ColUbInf) {
				if pu.ChangeUB(col, domains.UpperBounds[col]) == PresolveInfeasible {
					return Infeasible
				}
			}
		}

	case ColOpSubstitute:
		return pu.applySubstitution(col, int(reduction.NewVal))

	case ColOpSubstituteObj:
		pu.applySubstitutionObj(col, int(reduction.NewVal))

	case ColOpParallel:
		return pu.applyParallelCols(col, int(reduction.NewVal))

	case ColOpReplace:
		// the pair record carries the second column and the offset
		*i++
		next := reductions[*i]
		return pu.applyReplace(col, reduction.NewVal, int(next.Col), next.NewVal)
	}

	return Applied
}

func (pu *ProblemUpdate) applySubstitution(col, equalityRow int) ApplyResult {
	m := pu.problem.Matrix
	domains := &pu.problem.Domains

	if m.RowCoefficients(equalityRow).Len() == 1 {
		val := m.Lhs[equalityRow] / m.RowCoefficients(equalityRow).Vals[0]
		if pu.FixCol(col, val) == PresolveInfeasible {
			return Infeasible
		}
		return Applied
	}

	eq := m.RowCoefficients(equalityRow)
	if !m.CheckAggregationSparsityCondition(col, eq,
		pu.opts.MaxFillinPerSubstitution, pu.opts.MaxShiftPerRow) {
		return Rejected
	}

	colvec := m.ColumnCoefficients(col)
	relevantRows := append([]int(nil), colvec.Inds...)
	nbRelevantRows := len(relevantRows)

	domains.Flags[col].Set(ColSubstituted)

	pu.problem.SubstituteVarInObj(pu.n, col, equalityRow)

	for _, r := range relevantRows {
		pu.setRowState(r, stateModified)
	}
	for _, c := range eq.Inds {
		pu.setColState(c, stateModified)
	}

	eqRHS := m.Lhs[equalityRow]
	eqLen := eq.Len()

	pu.postsolve.NotifySubstitution(col, eq, eqRHS)

	m.Aggregate(pu.n, col, eq, eqRHS, domains,
		&pu.changedActivities, pu.problem.Activities,
		&pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns,
		pu.stats.NRounds)

	pu.stats.NCoefChgs += eqLen * nbRelevantRows
	pu.stats.NDeletedCols++
	pu.stats.NDeletedRows++

	if domains.Flags[col].Test(ColIntegral) {
		pu.problem.NumIntegralCols--
	} else {
		pu.problem.NumContinuousCols--
	}

	if eqRHS != 0 {
		pu.stats.NSideChgs += 2 * nbRelevantRows
	}

	return Applied
}

func (pu *ProblemUpdate) applySubstitutionObj(col, equalityRow int) {
	m := pu.problem.Matrix
	domains := &pu.problem.Domains

	domains.Flags[col].Set(ColSubstituted)

	pu.problem.SubstituteVarInObj(pu.n, col, equalityRow)

	colvec := m.ColumnCoefficients(col)

	if domains.Flags[col].Test(ColLbUseless) || domains.LowerBounds[col] != 0 {
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundLower,
			domains.LowerBounds[col], 0, domains.Flags[col].Test(ColLbUseless), false,
			pu.problem.Activities, pu.updateActivity)
	}
	if domains.Flags[col].Test(ColUbUseless) || domains.UpperBounds[col] != 0 {
		UpdateActivitiesAfterBoundChange(colvec.Vals, colvec.Inds, BoundUpper,
			domains.UpperBounds[col], 0, domains.Flags[col].Test(ColUbUseless), false,
			pu.problem.Activities, pu.updateActivity)
	}

	domains.Flags[col].Unset(ColLbUseless, ColUbUseless)
	domains.LowerBounds[col] = 0
	domains.UpperBounds[col] = 0
	pu.deletedCols = append(pu.deletedCols, col)

	eq := m.RowCoefficients(equalityRow)
	pu.postsolve.NotifySubstitution(col, eq, m.Lhs[equalityRow])

	for _, c := range eq.Inds {
		pu.setColState(c, stateModified)
	}

	pu.stats.NDeletedCols++
	if domains.Flags[col].Test(ColIntegral) {
		pu.problem.NumIntegralCols--
	} else {
		pu.problem.NumContinuousCols--
	}
}

func (pu *ProblemUpdate) applyParallelCols(col1, col2 int) ApplyResult {
	m := pu.problem.Matrix
	domains := &pu.problem.Domains
	cflags := domains.Flags
	lbs := domains.LowerBounds
	ubs := domains.UpperBounds

	if cflags[col1].Test(ColInactive) || cflags[col2].Test(ColInactive) {
		return Rejected
	}

	pu.setColState(col1, stateBoundsModified)
	pu.setColState(col2, stateBoundsModified)

	col1vec := m.ColumnCoefficients(col1)
	col2vec := m.ColumnCoefficients(col2)
	col2scale := col1vec.Vals[0] / col2vec.Vals[0]

	col1lbinf := cflags[col1].Test(ColLbInf)
	col1ubinf := cflags[col1].Test(ColUbInf)
	col2lbinf := cflags[col2].Test(ColLbInf)
	col2ubinf := cflags[col2].Test(ColUbInf)

	pu.postsolve.NotifyParallelCols(
		col1, cflags[col1].Test(ColIntegral), col1lbinf, lbs[col1], col1ubinf, ubs[col1],
		col2, cflags[col2].Test(ColIntegral), col2lbinf, lbs[col2], col2ubinf, ubs[col2],
		col2scale)
	pu.stats.NDeletedCols++

	var newlb, newub float64
	var newflags ColFlags
	newflags.Set(ColLbInf, ColUbInf)

	// a continuous column 1 makes the merged column continuous no
	// matter what column 2 was
	if cflags[col1].Test(ColIntegral) {
		pu.problem.NumIntegralCols--
		newflags.Set(ColIntegral)
	} else if cflags[col2].Test(ColIntegral) {
		pu.problem.NumIntegralCols--
	} else {
		pu.problem.NumContinuousCols--
	}

	if col2scale < 0 {
		if !col2lbinf && !col1ubinf {
			newlb = lbs[col2] + col2scale*ubs[col1]
			newflags.Unset(ColLbInf)
			if cflags[col1].Test(ColUbHuge) || cflags[col2].Test(ColLbHuge) {
				newflags.Set(ColLbHuge)
			}
		}
		if !col2ubinf && !col1lbinf {
			newub = ubs[col2] + col2scale*lbs[col1]
			newflags.Unset(ColUbInf)
			if cflags[col1].Test(ColLbHuge) || cflags[col2].Test(ColUbHuge) {
				newflags.Set(ColUbHuge)
			}
		}
	} else {
		if !col2lbinf && !col1lbinf {
			newlb = lbs[col2] + col2scale*lbs[col1]
			newflags.Unset(ColLbInf)
			if cflags[col1].Test(ColLbHuge) || cflags[col2].Test(ColLbHuge) {
				newflags.Set(ColLbHuge)
			}
		}
		if !col2ubinf && !col1ubinf {
			newub = ubs[col2] + col2scale*ubs[col1]
			newflags.Unset(ColUbInf)
			if cflags[col1].Test(ColUbHuge) || cflags[col2].Test(ColUbHuge) {
				newflags.Set(ColUbHuge)
			}
		}
	}

	// the merged column keeps the combined contribution; whatever part
	// of the old finite contributions turns infinite must leave the
	// activities now
	if newflags.Test(ColLbUseless) {
		if !cflags[col2].Test(ColLbUseless) {
			// column 2 contributed finitely, so column 1 brings the
			// infinite part; remove column 2's finite share
			if lbs[col2] != 0 {
				UpdateActivitiesAfterBoundChange(col2vec.Vals, col2vec.Inds, BoundLower,
					lbs[col2], 0, false, false, pu.problem.Activities, pu.updateActivity)
			}
		} else if col2scale < 0 {
			if cflags[col1].Test(ColUbUseless) || ubs[col1] != 0 {
				UpdateActivitiesAfterBoundChange(col1vec.Vals, col1vec.Inds, BoundUpper,
					ubs[col1], 0, cflags[col1].Test(ColUbUseless), false,
					pu.problem.Activities, pu.updateActivity)
			}
		} else {
			if cflags[col1].Test(ColLbUseless) || lbs[col1] != 0 {
				UpdateActivitiesAfterBoundChange(col1vec.Vals, col1vec.Inds, BoundLower,
					lbs[col1], 0, cflags[col1].Test(ColLbUseless), false,
					pu.problem.Activities, pu.updateActivity)
			}
		}
	}

	if newflags.Test(ColUbUseless) {
		if !cflags[col2].Test(ColUbUseless) {
			if ubs[col2] != 0 {
				UpdateActivitiesAfterBoundChange(col2vec.Vals, col2vec.Inds, BoundUpper,
					ubs[col2], 0, false, false, pu.problem.Activities, pu.updateActivity)
			}
		} else if col2scale < 0 {
			if cflags[col1].Test(ColLbUseless) || lbs[col1] != 0 {
				UpdateActivitiesAfterBoundChange(col1vec.Vals, col1vec.Inds, BoundLower,
					lbs[col1], 0, cflags[col1].Test(ColLbUseless), false,
					pu.problem.Activities, pu.updateActivity)
			}
		} else {
			if cflags[col1].Test(ColUbUseless) || ubs[col1] != 0 {
				UpdateActivitiesAfterBoundChange(col1vec.Vals, col1vec.Inds, BoundUpper,
					ubs[col1], 0, cflags[col1].Test(ColUbUseless), false,
					pu.problem.Activities, pu.updateActivity)
			}
		}
	}

	// column 1 now acts as if fixed to zero; the substituted flag
	// routes postsolve through the parallel-column event instead of a
	// plain fixing
	lbs[col1] = 0
	ubs[col1] = 0
	domains.Flags[col1].Unset(ColLbUseless, ColUbUseless)
	domains.Flags[col1].Set(ColSubstituted)
	pu.deletedCols = append(pu.deletedCols, col1)

	lbs[col2] = newlb
	ubs[col2] = newub
	domains.Flags[col2] = newflags

	return Applied
}

func (pu *ProblemUpdate) applyReplace(col1 int, factor float64, col2 int, offset float64) ApplyResult {
	m := pu.problem.Matrix
	domains := &pu.problem.Domains
	cflags := domains.Flags
	lbs := domains.LowerBounds
	ubs := domains.UpperBounds

	// one variable fixed determines the other
	if cflags[col1].Test(ColFixed) || cflags[col2].Test(ColFixed) {
		if !cflags[col1].Test(ColInactive) {
			if pu.FixCol(col1, factor*lbs[col2]+offset) == PresolveInfeasible {
				return Infeasible
			}
		} else if !cflags[col2].Test(ColInactive) {
			if pu.FixCol(col2, (lbs[col1]-offset)/factor) == PresolveInfeasible {
				return Infeasible
			}
		}
		return Applied
	}

	if cflags[col1].Test(ColInactive) || cflags[col2].Test(ColInactive) {
		return Applied
	}

	var col2ImpLb, col2ImpUb float64
	if factor > 0 {
		col2ImpLb = (lbs[col1] - offset) / factor
		col2ImpUb = (ubs[col1] - offset) / factor
	} else {
		col2ImpLb = (ubs[col1] - offset) / factor
		col2ImpUb = (lbs[col1] - offset) / factor
	}
	if col2ImpLb > lbs[col2] {
		if pu.ChangeLB(col2, col2ImpLb) == PresolveInfeasible {
			return Infeasible
		}
	} else if col2ImpUb < ubs[col2] {
		if pu.ChangeUB(col2, col2ImpUb) == PresolveInfeasible {
			return Infeasible
		}
	}

	// synthesize the equality x1 - factor*x2 = offset, sorted by column
	inds := []int{col1, col2}
	vals := []float64{1, -factor}
	if col1 > col2 {
		inds[0], inds[1] = inds[1], inds[0]
		vals[0], vals[1] = vals[1], vals[0]
	}
	equality := SparseVectorView{Inds: inds, Vals: vals}

	if !m.CheckAggregationSparsityCondition(col1, equality,
		pu.opts.MaxFillinPerSubstitution, pu.opts.MaxShiftPerRow) {
		return Applied
	}

	colvec := m.ColumnCoefficients(col1)
	relevantRows := append([]int(nil), colvec.Inds...)
	length := len(relevantRows)

	domains.Flags[col1].Set(ColSubstituted)

	if cflags[col1].Test(ColIntegral) {
		pu.problem.NumIntegralCols--
	} else {
		pu.problem.NumContinuousCols--
	}

	for _, r := range relevantRows {
		pu.setRowState(r, stateModified)
	}

	pu.postsolve.NotifySubstitution(col1, equality, offset)

	m.Aggregate(pu.n, col1, equality, offset, domains,
		&pu.changedActivities, pu.problem.Activities,
		&pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns,
		pu.stats.NRounds)

	pu.setColState(col1, stateModified)
	pu.setColState(col2, stateModified)

	obj := &pu.problem.Objective
	if obj.Coefficients[col1] != 0 {
		obj.Coefficients[col2] += obj.Coefficients[col1] * factor
		if pu.n.IsZero(obj.Coefficients[col2]) {
			obj.Coefficients[col2] = 0
		}
		obj.Offset += obj.Coefficients[col1] * offset
		obj.Coefficients[col1] = 0
	}

	if offset != 0 {
		pu.stats.NSideChgs += 2 * length
	}
	pu.stats.NCoefChgs += 2 * length
	pu.stats.NDeletedCols++

	return Applied
}

func (pu *ProblemUpdate) applyRowReduction(reductions []Reduction, i *int) ApplyResult {
	reduction := reductions[*i]
	row := int(reduction.Row)

	m := pu.problem.Matrix
	rflags := m.RowFlags

	switch reduction.Col {
	case RowOpLockedStrong:
		pu.setRowState(row, stateLocked)

	case RowOpLhs:
		pu.setRowState(row, stateBoundsModified)
		if rflags[row].Test(RowLhsInf) {
			rowvec := m.RowCoefficients(row)
			for _, c := range rowvec.Inds {
				pu.setColState(c, stateModified)
			}
		}
		m.ModifyLeftHandSide(row, reduction.NewVal)
		pu.stats.NSideChgs++

	case RowOpRhs:
		pu.setRowState(row, stateBoundsModified)
		if rflags[row].Test(RowRhsInf) {
			rowvec := m.RowCoefficients(row)
			for _, c := range rowvec.Inds {
				pu.setColState(c, stateModified)
			}
		}
		m.ModifyRightHandSide(row, reduction.NewVal)
		pu.stats.NSideChgs++

	case RowOpLhsInf:
		if !rflags[row].Test(RowLhsInf) {
			pu.setRowState(row, stateBoundsModified)
			m.ModifyLeftHandSideInf(row)
			pu.stats.NSideChgs++
		}

	case RowOpRhsInf:
		if !rflags[row].Test(RowRhsInf) {
			pu.setRowState(row, stateBoundsModified)
			m.ModifyRightHandSideInf(row)
			pu.stats.NSideChgs++
		}

	case RowOpRedundant:
		if !rflags[row].Test(RowRedundant) {
			pu.setRowState(row, stateBoundsModified)
			pu.MarkRowRedundant(row)
		}

	case RowOpSparsify:
		nSparsifyRows := int(reduction.NewVal)
		eqRow := row

		nCancel := 0
		nCanceledRows := 0

		eqLen := m.RowCoefficients(eqRow).Len()
		eqRHS := m.Rhs[eqRow]

		for k := 0; k < nSparsifyRows; k++ {
			*i++
			candRow := int(reductions[*i].Row)
			scale := reductions[*i].NewVal

			canceled := m.Sparsify(pu.n, eqRow, scale, candRow, &pu.problem.Domains,
				&pu.changedActivities, pu.problem.Activities,
				&pu.singletonRows, &pu.singletonColumns, &pu.emptyColumns,
				pu.stats.NRounds)

			if canceled != 0 {
				pu.setRowState(candRow, stateModified)
				nCanceledRows++
				nCancel += canceled

				if eqRHS != 0 {
					if !rflags[candRow].Test(RowLhsInf) {
						pu.stats.NSideChgs++
					}
					if !rflags[candRow].Test(RowRhsInf) {
						pu.stats.NSideChgs++
					}
				}
			}
		}

		if nCancel != 0 {
			pu.stats.NCoefChgs += eqLen * nCanceledRows
			eqInds := slices.Clone(m.RowCoefficients(eqRow).Inds)
			for _, c := range eqInds {
				pu.setColState(c, stateModified)
			}
		}
	}

	return Applied
}
