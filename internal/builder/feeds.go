package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// originUser selects feeds created by the advertiser rather than the system.
const originUser = "USER"

// feedSweep lists, in removal order, every entity kind the sweep deletes.
var feedSweep = []remote.Query{
	{
		Entity:     remote.EntityCampaignFeed,
		Fields:     []string{"id", "campaign_id"},
		Predicates: []remote.Predicate{notDeleted()},
	},
	{
		Entity:     remote.EntityFeed,
		Fields:     []string{"id", "origin"},
		Predicates: []remote.Predicate{notDeleted(), {Field: "origin", Operator: remote.PredEquals, Values: []string{originUser}}},
	},
	{
		Entity:     remote.EntityFeedItem,
		Fields:     []string{"id"},
		Predicates: []remote.Predicate{notDeleted()},
	},
	{
		Entity:     remote.EntityFeedMapping,
		Fields:     []string{"id"},
		Predicates: []remote.Predicate{notDeleted()},
	},
}

func notDeleted() remote.Predicate {
	return remote.Predicate{Field: "status", Operator: remote.PredNotEquals, Values: []string{remote.StatusDeleted}}
}

// FeedDelete removes every live campaign feed, user feed, feed item and
// feed mapping of the row's account. The number of operations per row
// depends on what the account holds.
type FeedDelete struct {
	base
	sessions *remote.Sessions
	account  int
}

// NewFeedDelete returns a FEEDDELETE builder.
func NewFeedDelete(deps Deps) *FeedDelete {
	return &FeedDelete{base: newBase(deps), sessions: deps.Sessions}
}

func (b *FeedDelete) Name() string { return TagFeedDelete }

func (b *FeedDelete) Configure(h table.Header) error {
	cols, err := h.Resolve(colClientAccountID)
	if err != nil {
		return err
	}

	b.account = cols[colClientAccountID]

	return nil
}

func (b *FeedDelete) IDColumns() int { return 1 }

// OpsPerLine is an estimate: one removal per entity kind.
func (b *FeedDelete) OpsPerLine() int { return len(feedSweep) }

func (b *FeedDelete) Validate(row table.Row) error {
	v := strings.TrimSpace(row.Field(b.account))
	if _, err := strconv.ParseInt(v, 10, 64); err != nil {
		return numericError(row.Line, colClientAccountID, v)
	}

	return nil
}

func (b *FeedDelete) Build(ctx context.Context, row table.Row) (int, error) {
	accountID := strings.TrimSpace(row.Field(b.account))

	svc, err := account(ctx, b.sessions, table.TargetKey{accountID})
	if err != nil {
		return 0, b.buildError(row.Line, accountID, err)
	}

	var ops []remote.Operation

	for _, q := range feedSweep {
		entities, err := svc.List(ctx, q)
		if err != nil {
			return 0, b.buildError(row.Line, accountID, fmt.Errorf("listing %s: %w", q.Entity, err))
		}

		b.logger.Debug("feed sweep listed",
			slog.String("account", accountID),
			slog.String("entity", q.Entity),
			slog.Int("found", len(entities)),
		)

		for _, e := range entities {
			ops = append(ops, remote.Operation{Operator: remote.OpRemove, Entity: q.Entity, ID: e.ID})
		}
	}

	return b.pending.Append(row.Line, ops...), nil
}

func (b *FeedDelete) buildError(line int64, accountID string, err error) *BuildError {
	return &BuildError{
		Line:    line,
		Summary: fmt.Sprintf("For line#%d could not list feeds of account '%s'.", line, accountID),
		Err:     err,
	}
}

func (b *FeedDelete) Submit(ctx context.Context, key table.TargetKey, ops []remote.Operation) (*remote.BatchResult, error) {
	svc, err := account(ctx, b.sessions, key)
	if err != nil {
		return nil, err
	}

	return svc.Mutate(ctx, ops)
}

func (b *FeedDelete) Describe(op remote.Operation, result remote.Entity) string {
	status := result.Status
	if status == "" {
		status = remote.StatusDeleted
	}

	return fmt.Sprintf("%s \"%s\" now has Status %s.", op.Entity, op.ID, status)
}

// NothingToDo is the narrative for an account with nothing left to delete.
func (b *FeedDelete) NothingToDo() string {
	return "Nothing to delete."
}
