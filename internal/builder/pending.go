package builder

import "github.com/tonimelisma/bulkmutate/internal/remote"

// Pending is an append-only operation list with the source line of every
// entry. The index of an operation here is the index the remote service
// uses when reporting per-item results.
type Pending struct {
	ops     []remote.Operation
	origins []int64
}

// Append adds ops produced by line and returns how many were added.
func (p *Pending) Append(line int64, ops ...remote.Operation) int {
	for _, op := range ops {
		p.ops = append(p.ops, op)
		p.origins = append(p.origins, line)
	}

	return len(ops)
}

// Ops returns the pending operations in submission order.
func (p *Pending) Ops() []remote.Operation {
	return p.ops
}

// Len returns the write cursor.
func (p *Pending) Len() int {
	return len(p.ops)
}

// Origin returns the source line of the operation at index i.
func (p *Pending) Origin(i int) (int64, bool) {
	if i < 0 || i >= len(p.origins) {
		return 0, false
	}

	return p.origins[i], true
}

// Reset empties the list and rewinds the write cursor.
func (p *Pending) Reset() {
	p.ops = nil
	p.origins = nil
}
