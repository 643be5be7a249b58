package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// entityRow is the entity type of TEST operations.
const entityRow = "Row"

// Test exercises the pipeline without touching the remote service. Each
// row yields one NOOP operation and Submit reports every one a success.
type Test struct {
	base
}

// NewTest returns a TEST builder.
func NewTest(deps Deps) *Test {
	return &Test{base: newBase(deps)}
}

func (b *Test) Name() string { return TagTest }

func (b *Test) Configure(table.Header) error { return nil }

func (b *Test) IDColumns() int { return 1 }

func (b *Test) OpsPerLine() int { return 1 }

func (b *Test) Validate(table.Row) error { return nil }

func (b *Test) Build(_ context.Context, row table.Row) (int, error) {
	return b.pending.Append(row.Line, remote.Operation{
		Operator: remote.OpNoop,
		Entity:   entityRow,
		ID:       strconv.FormatInt(row.Line, 10),
	}), nil
}

func (b *Test) Submit(_ context.Context, key table.TargetKey, ops []remote.Operation) (*remote.BatchResult, error) {
	b.logger.Debug("test submit", slog.String("key", key.String()), slog.Int("ops", len(ops)))

	results := make([]remote.Entity, len(ops))
	for i, op := range ops {
		results[i] = remote.Entity{Type: op.Entity, ID: op.ID}
	}

	return &remote.BatchResult{Results: results}, nil
}

func (b *Test) Describe(op remote.Operation, _ remote.Entity) string {
	return fmt.Sprintf("Test line %s processed.", op.ID)
}
