package core

import (
	"bytes"
	"io"
	"math"

	"github.com/blang/semver/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/mkoeppe/papilo/num"
)

// SnapshotVersion stamps serialized postsolve trails. Snapshots are
// accepted as long as the major version matches.
const SnapshotVersion = "1.0.0"

type postsolveType uint8

const (
	postsolveFixedCol postsolveType = iota
	postsolveFixedInfCol
	postsolveSubstitutedCol
	postsolveParallelCols
)

// flag bits used inside parallel-column and fixed-at-infinity events
const (
	trailIntegral = 1 << iota
	trailLbInf
	trailUbInf
)

// Postsolve is the append-only transformation trail. Events reference
// original-space indices: the trail keeps a mapping from current to
// original indices that compression updates, so stored events never need
// renumbering.
//
// Events hold value copies only; the trail does not point back into the
// problem.
type Postsolve struct {
	NColsOriginal int
	NRowsOriginal int

	// OrigColMapping and OrigRowMapping translate current indices to
	// original ones.
	OrigColMapping []int
	OrigRowMapping []int

	types   []postsolveType
	indices []int
	values  []float64
	start   []int

	n num.Num[float64]
}

// NewPostsolve creates an empty trail for a problem with the given
// original dimensions.
func NewPostsolve(nRows, nCols int, n num.Num[float64]) *Postsolve {
	ps := &Postsolve{
		NColsOriginal:  nCols,
		NRowsOriginal:  nRows,
		OrigColMapping: make([]int, nCols),
		OrigRowMapping: make([]int, nRows),
		start:          []int{0},
		n:              n,
	}
	for i := range ps.OrigColMapping {
		ps.OrigColMapping[i] = i
	}
	for i := range ps.OrigRowMapping {
		ps.OrigRowMapping[i] = i
	}
	return ps
}

// NumEvents returns the number of recorded events.
func (ps *Postsolve) NumEvents() int { return len(ps.types) }

func (ps *Postsolve) push(t postsolveType, inds []int, vals []float64) {
	ps.types = append(ps.types, t)
	ps.indices = append(ps.indices, inds...)
	ps.values = append(ps.values, vals...)
	ps.start = append(ps.start, len(ps.indices))
}

// NotifyFixedCol records fixing a column to val.
func (ps *Postsolve) NotifyFixedCol(col int, val float64) {
	ps.push(postsolveFixedCol,
		[]int{ps.OrigColMapping[col]},
		[]float64{val})
}

// NotifyFixedInfCol records fixing a column at plus (sign > 0) or minus
// (sign < 0) infinity. boundVal is the column's finite opposite bound,
// used as the starting point when the replay picks a concrete value. The
// rows currently containing the column are copied into the trail so the
// replay can honor them.
func (ps *Postsolve) NotifyFixedInfCol(col, sign int, boundVal float64, problem *Problem) {
	flags := 0
	if problem.Domains.Flags[col].Test(ColIntegral) {
		flags |= trailIntegral
	}

	inds := []int{ps.OrigColMapping[col], sign, flags}
	vals := []float64{boundVal, 0, 0}

	cv := problem.Matrix.ColumnCoefficients(col)
	for _, r := range cv.Inds {
		if problem.Matrix.RowSizes[r] < 0 {
			continue
		}
		rv := problem.Matrix.RowCoefficients(r)
		rf := problem.Matrix.RowFlags[r]

		lhs := math.Inf(-1)
		if !rf.Test(RowLhsInf) {
			lhs = problem.Matrix.Lhs[r]
		}
		rhs := math.Inf(1)
		if !rf.Test(RowRhsInf) {
			rhs = problem.Matrix.Rhs[r]
		}

		inds = append(inds, rv.Len())
		vals = append(vals, lhs)
		inds = append(inds, 0)
		vals = append(vals, rhs)
		for j, c := range rv.Inds {
			inds = append(inds, ps.OrigColMapping[c])
			vals = append(vals, rv.Vals[j])
		}
	}

	ps.push(postsolveFixedInfCol, inds, vals)
}

// NotifySubstitution records the elimination of col via the equality
// rowVec·x = rhs. rowVec must contain col.
func (ps *Postsolve) NotifySubstitution(col int, rowVec SparseVectorView, rhs float64) {
	inds := make([]int, 0, rowVec.Len()+1)
	vals := make([]float64, 0, rowVec.Len()+1)
	inds = append(inds, ps.OrigColMapping[col])
	vals = append(vals, rhs)
	for i, c := range rowVec.Inds {
		inds = append(inds, ps.OrigColMapping[c])
		vals = append(vals, rowVec.Vals[i])
	}
	ps.push(postsolveSubstitutedCol, inds, vals)
}

// NotifyParallelCols records merging col1 into col2 with
// col1 = scale·col2 in the matrix, so the merged variable carries
// x2 + scale·x1.
func (ps *Postsolve) NotifyParallelCols(col1 int, integral1 bool,
	lbInf1 bool, lb1 float64, ubInf1 bool, ub1 float64,
	col2 int, integral2 bool,
	lbInf2 bool, lb2 float64, ubInf2 bool, ub2 float64,
	scale float64) {

	pack := func(integral, lbInf, ubInf bool) int {
		f := 0
		if integral {
			f |= trailIntegral
		}
		if lbInf {
			f |= trailLbInf
		}
		if ubInf {
			f |= trailUbInf
		}
		return f
	}

	// indices and values of an event share one offset range, so the
	// index part is padded to the length of the five values
	ps.push(postsolveParallelCols,
		[]int{
			ps.OrigColMapping[col1],
			ps.OrigColMapping[col2],
			pack(integral1, lbInf1, ubInf1),
			pack(integral2, lbInf2, ubInf2),
			0,
		},
		[]float64{scale, lb1, ub1, lb2, ub2})
}

// Compress rewires the current-to-original mappings after the problem
// was renumbered with the given old-to-new maps.
func (ps *Postsolve) Compress(rowMap, colMap []int, full bool) {
	for oldC, newC := range colMap {
		if newC < 0 {
			continue
		}
		ps.OrigColMapping[newC] = ps.OrigColMapping[oldC]
	}
	nCols := 0
	for _, newC := range colMap {
		if newC >= 0 {
			nCols++
		}
	}
	ps.OrigColMapping = ps.OrigColMapping[:nCols]

	for oldR, newR := range rowMap {
		if newR < 0 {
			continue
		}
		ps.OrigRowMapping[newR] = ps.OrigRowMapping[oldR]
	}
	nRows := 0
	for _, newR := range rowMap {
		if newR >= 0 {
			nRows++
		}
	}
	ps.OrigRowMapping = ps.OrigRowMapping[:nRows]

	if full {
		ps.OrigColMapping = append([]int(nil), ps.OrigColMapping...)
		ps.OrigRowMapping = append([]int(nil), ps.OrigRowMapping...)
	}
}

// Undo lifts a solution of the reduced problem to the original space by
// replaying the trail in reverse.
func (ps *Postsolve) Undo(reducedSolution []float64) []float64 {
	sol := make([]float64, ps.NColsOriginal)
	for i, v := range reducedSolution {
		sol[ps.OrigColMapping[i]] = v
	}

	for k := len(ps.types) - 1; k >= 0; k-- {
		inds := ps.indices[ps.start[k]:ps.start[k+1]]
		vals := ps.values[ps.start[k]:ps.start[k+1]]

		switch ps.types[k] {
		case postsolveFixedCol:
			sol[inds[0]] = vals[0]

		case postsolveFixedInfCol:
			sol[inds[0]] = ps.undoFixedInfCol(inds, vals, sol)

		case postsolveSubstitutedCol:
			col := inds[0]
			rhs := vals[0]
			rest := 0.0
			coef := 0.0
			for i := 1; i < len(inds); i++ {
				if inds[i] == col {
					coef = vals[i]
					continue
				}
				rest += vals[i] * sol[inds[i]]
			}
			sol[col] = (rhs - rest) / coef

		case postsolveParallelCols:
			col1, col2 := inds[0], inds[1]
			scale := vals[0]
			merged := sol[col2]
			x1 := ps.splitParallel(merged, scale, inds, vals)
			sol[col1] = x1
			sol[col2] = merged - scale*x1
		}
	}

	return sol
}

// undoFixedInfCol picks a value for a column fixed at infinity that
// satisfies all rows recorded with the event.
func (ps *Postsolve) undoFixedInfCol(inds []int, vals []float64, sol []float64) float64 {
	col := inds[0]
	sign := inds[1]
	integral := inds[2]&trailIntegral != 0
	boundVal := vals[0]

	lo := math.Inf(-1)
	hi := math.Inf(1)

	i := 3
	for i < len(inds) {
		length := inds[i]
		lhs := vals[i]
		rhs := vals[i+1]
		entries := inds[i+2 : i+2+length]
		coeffs := vals[i+2 : i+2+length]
		i += 2 + length

		rest := 0.0
		coef := 0.0
		for j, c := range entries {
			if c == col {
				coef = coeffs[j]
				continue
			}
			rest += coeffs[j] * sol[c]
		}
		if coef == 0 {
			continue
		}

		if !math.IsInf(lhs, -1) {
			b := (lhs - rest) / coef
			if coef > 0 {
				lo = math.Max(lo, b)
			} else {
				hi = math.Min(hi, b)
			}
		}
		if !math.IsInf(rhs, 1) {
			b := (rhs - rest) / coef
			if coef > 0 {
				hi = math.Min(hi, b)
			} else {
				lo = math.Max(lo, b)
			}
		}
	}

	val := boundVal
	if sign > 0 {
		if lo > val && !math.IsInf(lo, -1) {
			val = lo
		}
		if integral {
			val = math.Ceil(val - ps.n.FeasTol)
		}
		if val > hi {
			val = hi
		}
	} else {
		if hi < val && !math.IsInf(hi, 1) {
			val = hi
		}
		if integral {
			val = math.Floor(val + ps.n.FeasTol)
		}
		if val < lo {
			val = lo
		}
	}
	return val
}

// splitParallel chooses a value for the removed column of a parallel
// pair so that both originals stay within their recorded domains.
func (ps *Postsolve) splitParallel(merged, scale float64, inds []int, vals []float64) float64 {
	flags1 := inds[2]
	flags2 := inds[3]
	lb1, ub1 := vals[1], vals[2]
	lb2, ub2 := vals[3], vals[4]

	lo := math.Inf(-1)
	hi := math.Inf(1)
	if flags1&trailLbInf == 0 {
		lo = lb1
	}
	if flags1&trailUbInf == 0 {
		hi = ub1
	}

	// x2 = merged - scale*x1 must stay within [lb2, ub2]
	if scale > 0 {
		if flags2&trailUbInf == 0 {
			lo = math.Max(lo, (merged-ub2)/scale)
		}
		if flags2&trailLbInf == 0 {
			hi = math.Min(hi, (merged-lb2)/scale)
		}
	} else if scale < 0 {
		if flags2&trailLbInf == 0 {
			lo = math.Max(lo, (merged-lb2)/scale)
		}
		if flags2&trailUbInf == 0 {
			hi = math.Min(hi, (merged-ub2)/scale)
		}
	}

	x1 := lo
	if math.IsInf(x1, -1) {
		x1 = math.Min(0, hi)
	}
	if flags1&trailIntegral != 0 {
		x1 = math.Ceil(x1 - ps.n.FeasTol)
		if x1 > hi {
			x1 = math.Floor(hi + ps.n.FeasTol)
		}
	}
	return x1
}

type postsolveSnapshot struct {
	Version        string
	NColsOriginal  int
	NRowsOriginal  int
	OrigColMapping []int
	OrigRowMapping []int
	Types          []uint8
	Indices        []int
	Values         []float64
	Start          []int
}

// WriteTo serializes the trail as a CBOR snapshot.
func (ps *Postsolve) WriteTo(w io.Writer) (int64, error) {
	snap := postsolveSnapshot{
		Version:        SnapshotVersion,
		NColsOriginal:  ps.NColsOriginal,
		NRowsOriginal:  ps.NRowsOriginal,
		OrigColMapping: ps.OrigColMapping,
		OrigRowMapping: ps.OrigRowMapping,
		Types:          make([]uint8, len(ps.types)),
		Indices:        ps.indices,
		Values:         ps.values,
		Start:          ps.start,
	}
	for i, t := range ps.types {
		snap.Types[i] = uint8(t)
	}

	var buf bytes.Buffer
	if err := cbor.NewEncoder(&buf).Encode(snap); err != nil {
		return 0, errors.Wrap(err, "encoding postsolve snapshot")
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), errors.Wrap(err, "writing postsolve snapshot")
}

// ReadFrom restores a trail from a CBOR snapshot, rejecting snapshots
// written by an incompatible major version.
func (ps *Postsolve) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), errors.Wrap(err, "reading postsolve snapshot")
	}

	var snap postsolveSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return int64(len(data)), errors.Wrap(err, "decoding postsolve snapshot")
	}

	stamped, err := semver.Parse(snap.Version)
	if err != nil {
		return int64(len(data)), errors.Wrapf(err, "parsing snapshot version %q", snap.Version)
	}
	current := semver.MustParse(SnapshotVersion)
	if stamped.Major != current.Major {
		return int64(len(data)), errors.Errorf(
			"incompatible snapshot version %s, want major %d", snap.Version, current.Major)
	}

	ps.NColsOriginal = snap.NColsOriginal
	ps.NRowsOriginal = snap.NRowsOriginal
	ps.OrigColMapping = snap.OrigColMapping
	ps.OrigRowMapping = snap.OrigRowMapping
	ps.types = make([]postsolveType, len(snap.Types))
	for i, t := range snap.Types {
		ps.types[i] = postsolveType(t)
	}
	ps.indices = snap.Indices
	ps.values = snap.Values
	ps.start = snap.Start

	return int64(len(data)), nil
}
