package core

import "golang.org/x/exp/slices"

// MatrixEntry is a pending coefficient change.
type MatrixEntry struct {
	Row int
	Col int
	Val float64
}

// MatrixBuffer collects coefficient changes until they are materialized
// in one batched matrix rewrite. Later writes to the same position win.
type MatrixBuffer struct {
	entries []MatrixEntry
	pos     map[[2]int]int
}

// AddEntry records the change of the coefficient at (row, col) to val. A
// value of zero deletes the entry.
func (b *MatrixBuffer) AddEntry(row, col int, val float64) {
	if b.pos == nil {
		b.pos = make(map[[2]int]int)
	}
	key := [2]int{row, col}
	if i, ok := b.pos[key]; ok {
		b.entries[i].Val = val
		return
	}
	b.pos[key] = len(b.entries)
	b.entries = append(b.entries, MatrixEntry{Row: row, Col: col, Val: val})
}

// Empty reports whether no changes are pending.
func (b *MatrixBuffer) Empty() bool {
	return len(b.entries) == 0
}

// Len returns the number of pending changes.
func (b *MatrixBuffer) Len() int {
	return len(b.entries)
}

// Clear discards all pending changes.
func (b *MatrixBuffer) Clear() {
	b.entries = b.entries[:0]
	b.pos = nil
}

// RowMajor returns the pending changes ordered by row, then column.
func (b *MatrixBuffer) RowMajor() []MatrixEntry {
	out := make([]MatrixEntry, len(b.entries))
	copy(out, b.entries)
	slices.SortFunc(out, func(a, c MatrixEntry) bool {
		if a.Row != c.Row {
			return a.Row < c.Row
		}
		return a.Col < c.Col
	})
	return out
}
