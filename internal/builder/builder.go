// Package builder turns input rows into remote operations. A Builder is
// selected once per run by the processor tag in the input preamble; it
// resolves its columns from the header, validates each row, appends the
// row's operations to a pending list that records which line produced each
// operation, and submits that list to the remote service in one call.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// Builder is one processor variant. The engine drives a single Builder
// sequentially; implementations are not safe for concurrent use.
type Builder interface {
	// Name returns the processor tag this builder handles.
	Name() string
	// Configure resolves required column names against the header.
	// Failures are *table.SchemaError and abort the run.
	Configure(h table.Header) error
	// IDColumns is the TargetKey width: rows whose leading IDColumns
	// fields are equal may share a block.
	IDColumns() int
	// OpsPerLine is the pre-estimated operation count per row used by
	// the block grouper.
	OpsPerLine() int
	// Validate performs per-row type and format checks. Failures are
	// *ValidationError.
	Validate(row table.Row) error
	// Build appends the row's operations to Pending and returns how many
	// were appended. Failures are *BuildError and append nothing.
	Build(ctx context.Context, row table.Row) (int, error)
	// Pending returns the operations built since the last Clear.
	Pending() *Pending
	// Submit sends ops for the block identified by key in a single call.
	Submit(ctx context.Context, key table.TargetKey, ops []remote.Operation) (*remote.BatchResult, error)
	// Describe renders the success narrative for one applied operation.
	Describe(op remote.Operation, result remote.Entity) string
	// Clear resets the pending list. It is idempotent.
	Clear()
}

// Deps are the collaborators builders may use.
type Deps struct {
	Sessions *remote.Sessions
	Logger   *slog.Logger
}

// base carries the state shared by every variant.
type base struct {
	pending Pending
	logger  *slog.Logger
}

func newBase(deps Deps) base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return base{logger: logger}
}

func (b *base) Pending() *Pending { return &b.pending }

func (b *base) Clear() { b.pending.Reset() }

// account resolves the Service for the block's account, which is the first
// TargetKey field for every account-scoped variant.
func account(ctx context.Context, sessions *remote.Sessions, key table.TargetKey) (remote.Service, error) {
	if len(key) == 0 || key[0] == "" {
		return nil, fmt.Errorf("builder: block has no account id")
	}

	if sessions == nil {
		return nil, fmt.Errorf("builder: no remote sessions configured")
	}

	return sessions.Service(ctx, key[0])
}
