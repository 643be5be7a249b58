package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

// opStatus tracks a pending operation through one or more submissions.
type opStatus int

const (
	opUnresolved opStatus = iota
	opApplied
	opFailed
)

type opState struct {
	status  opStatus
	result  remote.Entity
	summary string
	cause   string
}

// reconciler correlates remote results with the block's pending operations.
// Indices are positions in the builder's pending list; a submission of a
// subset maps its i-th item back through the submitted slice.
type reconciler struct {
	ops    []remote.Operation
	states []opState
	logger *slog.Logger
}

func newReconciler(ops []remote.Operation, logger *slog.Logger) *reconciler {
	return &reconciler{ops: ops, states: make([]opState, len(ops)), logger: logger}
}

// unresolved returns the pending indices not yet applied or failed.
func (r *reconciler) unresolved() []int {
	var out []int

	for i, st := range r.states {
		if st.status == opUnresolved {
			out = append(out, i)
		}
	}

	return out
}

// subset returns the operations at the given pending indices, in order.
func (r *reconciler) subset(idx []int) []remote.Operation {
	out := make([]remote.Operation, len(idx))
	for i, p := range idx {
		out[i] = r.ops[p]
	}

	return out
}

// anyApplied reports whether some operation of the block took effect.
func (r *reconciler) anyApplied() bool {
	for _, st := range r.states {
		if st.status == opApplied {
			return true
		}
	}

	return false
}

// applyResult records a batch result for the submitted indices. Items the
// service rate-limited stay unresolved and are returned for resubmission
// together with the longest advertised wait.
func (r *reconciler) applyResult(submitted []int, res *remote.BatchResult) (retry []int, retryAfter time.Duration) {
	failed := make(map[int]remote.ItemError, len(res.Failures))

	for _, f := range res.Failures {
		if f.Index < 0 || f.Index >= len(submitted) {
			r.logger.Warn("per-item failure outside submitted range ignored",
				slog.Int("index", f.Index),
				slog.Int("ops", len(submitted)),
				slog.String("detail", f.Detail),
			)

			continue
		}

		failed[f.Index] = f
	}

	for i, p := range submitted {
		f, bad := failed[i]
		if !bad {
			r.states[p].status = opApplied
			if i < len(res.Results) {
				r.states[p].result = res.Results[i]
			}

			continue
		}

		if f.Kind == remote.KindRateLimited {
			retry = append(retry, p)
			retryAfter = max(retryAfter, f.RetryAfter)

			continue
		}

		r.fail(p, itemSummary(r.ops[p], f.Kind, f.Policy, f.Detail), itemCause(f))
	}

	return retry, retryAfter
}

// fail marks one pending operation as terminally failed.
func (r *reconciler) fail(p int, summary, cause string) {
	r.states[p] = opState{status: opFailed, summary: summary, cause: cause}
}

// failAll marks every index as terminally failed with the same reason.
func (r *reconciler) failAll(idx []int, summary, cause string) {
	for _, p := range idx {
		r.fail(p, summary, cause)
	}
}

// itemSummary renders the human-readable failure for one operation.
func itemSummary(op remote.Operation, kind remote.Kind, policy *remote.Policy, detail string) string {
	if kind == remote.KindPolicyViolation && policy != nil {
		exempt := "non-exemptable"
		if policy.Exemptable {
			exempt = "exemptable"
		}

		return fmt.Sprintf("%s violated %s policy \"%s\".", op.Entity, exempt, policy.Name)
	}

	if kind == remote.KindPolicyViolation {
		return fmt.Sprintf("%s violated policy: %s", op.Entity, detail)
	}

	return fmt.Sprintf("%s '%s' failed with: %s", op.Entity, op.ID, detail)
}

func itemCause(f remote.ItemError) string {
	var parts []string

	if f.FieldPath != "" {
		parts = append(parts, "field "+f.FieldPath)
	}

	if f.Trigger != "" {
		parts = append(parts, fmt.Sprintf("trigger %q", f.Trigger))
	}

	parts = append(parts, f.Kind.String()+": "+f.Detail)

	return strings.Join(parts, ", ")
}
