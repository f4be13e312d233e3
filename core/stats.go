package core

// Statistics counts the reductions performed during presolving.
type Statistics struct {
	NBoundChgs   int
	NSideChgs    int
	NCoefChgs    int
	NDeletedCols int
	NDeletedRows int
	NRounds      int
}
