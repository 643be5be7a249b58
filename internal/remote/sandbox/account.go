package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

// Journal outcomes.
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
)

// account is a remote.Service bound to one sandbox account.
type account struct {
	store *Store
	id    string
}

// Mutate applies ops in order inside one transaction. Operations that fail
// are reported as ItemErrors and leave no trace; the rest are applied.
func (a *account) Mutate(ctx context.Context, ops []remote.Operation) (*remote.BatchResult, error) {
	s := a.store

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.throttleEvery > 0 && s.calls%s.throttleEvery == 0 {
		s.logger.Debug("sandbox throttling call", slog.Int("call", s.calls))
		return nil, remote.RateLimited(s.throttleRetryAfter, "sandbox throttle")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	terms, err := policyTerms(ctx, tx)
	if err != nil {
		return nil, err
	}

	result := &remote.BatchResult{Results: make([]remote.Entity, len(ops))}

	for i, op := range ops {
		entity, itemErr, err := a.apply(ctx, tx, i, op, terms)
		if err != nil {
			return nil, err
		}

		outcome := outcomeApplied
		if itemErr != nil {
			outcome = outcomeRejected
			result.Failures = append(result.Failures, *itemErr)
		} else {
			result.Results[i] = entity
		}

		if _, err := tx.ExecContext(ctx, sqlInsertMutation,
			uuid.NewString(), a.id, s.calls, i, string(op.Operator), op.Entity, op.ID, outcome, s.nowFunc().UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("sandbox: journaling operation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sandbox: committing: %w", err)
	}

	return result, nil
}

func (a *account) apply(
	ctx context.Context, tx *sql.Tx, i int, op remote.Operation, terms []policyTerm,
) (remote.Entity, *remote.ItemError, error) {
	if op.Operator == remote.OpNoop {
		return remote.Entity{Type: op.Entity, ID: op.ID}, nil, nil
	}

	current, err := scanEntity(tx.QueryRowContext(ctx, sqlSelectEntity, a.id, op.Entity, op.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Entity{}, &remote.ItemError{
			Index:     i,
			Kind:      remote.KindGeneric,
			FieldPath: fmt.Sprintf("operations[%d].id", i),
			Trigger:   op.ID,
			Detail:    "NOT_FOUND",
		}, nil
	}

	if err != nil {
		return remote.Entity{}, nil, fmt.Errorf("sandbox: reading %s %s: %w", op.Entity, op.ID, err)
	}

	switch op.Operator {
	case remote.OpRemove:
		current.Status = remote.StatusDeleted

	case remote.OpSet:
		if v := violation(i, op, terms); v != nil {
			return remote.Entity{}, v, nil
		}

		if current.Fields == nil {
			current.Fields = make(map[string]string, len(op.Fields))
		}

		maps.Copy(current.Fields, op.Fields)

		if name, ok := op.Fields["name"]; ok {
			current.Name = name
		}

		if status, ok := op.Fields["status"]; ok {
			current.Status = status
		}

	default:
		return remote.Entity{}, &remote.ItemError{
			Index:     i,
			Kind:      remote.KindGeneric,
			FieldPath: fmt.Sprintf("operations[%d].operator", i),
			Trigger:   string(op.Operator),
			Detail:    "UNSUPPORTED_OPERATOR",
		}, nil
	}

	if err := a.store.upsert(ctx, tx, a.id, current); err != nil {
		return remote.Entity{}, nil, err
	}

	return current, nil, nil
}

// violation returns a policy ItemError when any field value contains a
// registered term.
func violation(i int, op remote.Operation, terms []policyTerm) *remote.ItemError {
	for _, field := range slices.Sorted(maps.Keys(op.Fields)) {
		value := strings.ToLower(op.Fields[field])

		for _, pt := range terms {
			if !strings.Contains(value, strings.ToLower(pt.term)) {
				continue
			}

			return &remote.ItemError{
				Index:     i,
				Kind:      remote.KindPolicyViolation,
				FieldPath: fmt.Sprintf("operations[%d].fields.%s", i, field),
				Trigger:   pt.term,
				Detail:    "POLICY_FINDING",
				Policy:    &remote.Policy{Name: pt.policy, Exemptable: pt.exemptable},
			}
		}
	}

	return nil
}

// List returns entities of q.Entity matching every predicate.
func (a *account) List(ctx context.Context, q remote.Query) ([]remote.Entity, error) {
	rows, err := a.store.db.QueryContext(ctx, sqlListEntities, a.id, q.Entity)
	if err != nil {
		return nil, fmt.Errorf("sandbox: listing %s: %w", q.Entity, err)
	}
	defer rows.Close()

	var out []remote.Entity

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sandbox: scanning %s: %w", q.Entity, err)
		}

		if matchesAll(e, q.Predicates) {
			out = append(out, e)
		}
	}

	return out, rows.Err()
}

func matchesAll(e remote.Entity, preds []remote.Predicate) bool {
	for _, p := range preds {
		if !p.Matches(fieldValue(e, p.Field)) {
			return false
		}
	}

	return true
}

func fieldValue(e remote.Entity, field string) string {
	switch field {
	case "id":
		return e.ID
	case "name":
		return e.Name
	case "status":
		return e.Status
	case "origin":
		return e.Origin
	default:
		return e.Fields[field]
	}
}
