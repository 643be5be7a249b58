package engine

import "github.com/tonimelisma/bulkmutate/internal/table"

// grouper decides block boundaries. A row joins the open block when its
// TargetKey matches and the block's operation count, taken as the larger
// of the per-row estimate and what has actually been built, stays within
// maxOps after adding one more row's estimate.
type grouper struct {
	maxOps     int
	opsPerLine int

	key  table.TargetKey
	rows int
}

func newGrouper(maxOps, opsPerLine int) *grouper {
	if opsPerLine < 1 {
		opsPerLine = 1
	}

	return &grouper{maxOps: maxOps, opsPerLine: opsPerLine}
}

// fits reports whether a row with key may join the open block. An empty
// block admits any row, including one whose estimate alone exceeds maxOps.
func (g *grouper) fits(key table.TargetKey, builtOps int) bool {
	if g.rows == 0 {
		return true
	}

	if !g.key.Equal(key) {
		return false
	}

	return max(g.rows*g.opsPerLine, builtOps)+g.opsPerLine <= g.maxOps
}

// add records a row admitted with key.
func (g *grouper) add(key table.TargetKey) {
	if g.rows == 0 {
		g.key = append(table.TargetKey(nil), key...)
	}

	g.rows++
}

// oversize reports whether a single row's estimate exceeds maxOps.
func (g *grouper) oversize() bool {
	return g.opsPerLine > g.maxOps
}

func (g *grouper) reset() {
	g.key = nil
	g.rows = 0
}
