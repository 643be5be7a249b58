package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/bulkmutate/internal/builder"
	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

func TestRun_GroupsRowsByTarget(t *testing.T) {
	b := newFakeBuilder()
	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}, []string{"2"}), cp)

	sum, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "4.0"}, {"5.0"}}, b.callIDs())
	assert.Equal(t, []int64{4, 5}, cp.advances)
	assert.True(t, cp.cleared)
	assert.Equal(t, int64(2), sum.Blocks)
	assert.Equal(t, int64(3), sum.Succeeded)

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3, 4, 5}, lines(successes))
	assert.Empty(t, failures)
	assert.Empty(t, fixups)
	assert.Equal(t, "op 3.0 ok.", successes[0].Message)
}

func TestRun_UnsortedTargetsYieldSmallerBlocks(t *testing.T) {
	b := newFakeBuilder()
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"2"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3.0"}, {"4.0"}, {"5.0"}}, b.callIDs())
}

func TestRun_SkipsCheckpointedRowsWithoutBuilding(t *testing.T) {
	b := newFakeBuilder()
	cp := &memCheckpoint{current: 4}
	e, _ := newTestEngine(t, testConfig(), b,
		rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}, []string{"1"}), cp)

	sum, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 6}, b.built)
	assert.Equal(t, []int64{5, 6}, b.validated)
	assert.Equal(t, int64(4), sum.Seen)
	assert.Equal(t, int64(2), sum.Skipped)

	successes, _, _ := e.Sink().Finish()
	assert.Equal(t, []int64{5, 6}, lines(successes))
}

func TestRun_ResumeMatchesUninterruptedRun(t *testing.T) {
	records := [][]string{{"1"}, {"1"}, {"2"}, {"2"}, {"3"}}
	policyAtSecond := func(call int, ops []remote.Operation) (*remote.BatchResult, error) {
		res := okResult(ops)
		if ops[0].ID == "5.0" {
			res.Failures = []remote.ItemError{{Index: 1, Kind: remote.KindGeneric, Detail: "NOT_FOUND"}}
		}

		return res, nil
	}

	full := newFakeBuilder()
	full.submitFn = policyAtSecond
	e1, _ := newTestEngine(t, testConfig(), full, rowsFrom(records...), &memCheckpoint{})
	_, err := e1.Run(t.Context())
	require.NoError(t, err)

	resumed := newFakeBuilder()
	resumed.submitFn = policyAtSecond
	e2, _ := newTestEngine(t, testConfig(), resumed, rowsFrom(records...), &memCheckpoint{current: 4})
	_, err = e2.Run(t.Context())
	require.NoError(t, err)

	s1, f1, x1 := e1.Sink().Finish()
	s2, f2, x2 := e2.Sink().Finish()

	after := func(rs []ResultRecord) []ResultRecord {
		var out []ResultRecord
		for _, r := range rs {
			if r.Line > 4 {
				out = append(out, r)
			}
		}

		return out
	}

	assert.Equal(t, after(s1), s2)
	assert.Equal(t, after(f1), f2)
	assert.Len(t, x1, 1)
	assert.Equal(t, x1, x2)
}

func TestRun_FailureIndexResolvesToOriginRow(t *testing.T) {
	b := newFakeBuilder()
	b.opsFor = func(row table.Row) int {
		if row.Line == 3 {
			return 2
		}

		return 1
	}
	b.submitFn = func(_ int, ops []remote.Operation) (*remote.BatchResult, error) {
		res := okResult(ops)
		res.Failures = []remote.ItemError{{Index: 2, Kind: remote.KindGeneric, Detail: "NOT_FOUND", Trigger: "4.0"}}

		return res, nil
	}

	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3}, lines(successes))
	assert.Equal(t, "op 3.0 ok. op 3.1 ok.", successes[0].Message)
	require.Equal(t, []int64{4}, lines(failures))
	assert.Equal(t, "Campaign '4.0' failed with: NOT_FOUND", failures[0].Message)
	assert.Contains(t, failures[0].Cause, `trigger "4.0"`)
	require.Len(t, fixups, 1)
	assert.Equal(t, int64(4), fixups[0].Row.Line)
}

func TestRun_PolicyViolationAtFirstItem(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(_ int, ops []remote.Operation) (*remote.BatchResult, error) {
		res := okResult(ops)
		res.Failures = []remote.ItemError{{
			Index:  0,
			Kind:   remote.KindPolicyViolation,
			Policy: &remote.Policy{Name: "TRADEMARK", Exemptable: true},
		}}

		return res, nil
	}

	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{4}, lines(successes))
	require.Equal(t, []int64{3}, lines(failures))
	assert.Equal(t, `Campaign violated exemptable policy "TRADEMARK".`, failures[0].Message)
	require.Len(t, fixups, 1)
	assert.Equal(t, failures[0].Message, fixups[0].Reason)
}

func TestRun_RateLimitedBlockIsResubmittedAfterDelay(t *testing.T) {
	b := newFakeBuilder()
	cp := &memCheckpoint{}

	var checkpointDuringRetry int64 = -1

	b.submitFn = func(call int, ops []remote.Operation) (*remote.BatchResult, error) {
		if call == 1 {
			return nil, remote.RateLimited(5*time.Second, "slow down")
		}

		checkpointDuringRetry = cp.current

		return okResult(ops), nil
	}

	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}), cp)

	sum, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.delays)
	assert.Equal(t, [][]string{{"3.0", "4.0"}, {"3.0", "4.0"}}, b.callIDs())
	assert.Equal(t, int64(0), checkpointDuringRetry, "checkpoint must not move while the block is retried")
	assert.Equal(t, []int64{4}, cp.advances)
	assert.Equal(t, int64(1), sum.Retries)
}

func TestRun_RetryBoundTurnsRowsIntoFailures(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(int, []remote.Operation) (*remote.BatchResult, error) {
		return nil, remote.RateLimited(time.Second, "slow down")
	}

	cfg := testConfig()
	cfg.MaxRetries = 2
	cp := &memCheckpoint{}
	e, sleeps := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Len(t, b.calls, 3)
	assert.Len(t, sleeps.delays, 2)

	_, failures, fixups := e.Sink().Finish()
	require.Len(t, failures, 1)
	assert.Equal(t, "Not applied: retry limit of 2 exceeded.", failures[0].Message)
	assert.Len(t, fixups, 1)
	assert.Equal(t, []int64{3}, cp.advances)
}

func TestRun_AuthChallengeWaitsDefaultDelay(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(call int, ops []remote.Operation) (*remote.BatchResult, error) {
		if call == 1 {
			return nil, remote.NewError(remote.KindAuthChallenge, "captcha")
		}

		return okResult(ops), nil
	}

	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute}, sleeps.delays)
}

func TestRun_AuthFailedIsFatal(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(int, []remote.Operation) (*remote.BatchResult, error) {
		return nil, remote.NewError(remote.KindAuthFailed, "revoked")
	}

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"2"}), cp)

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, remote.ErrAuthFailed)
	assert.Len(t, b.calls, 1, "the run stops at the first fatal submission")
	assert.Empty(t, cp.advances)
	assert.False(t, cp.cleared)
}

func TestRun_PerItemRateLimitResubmitsOnlyThoseOps(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(call int, ops []remote.Operation) (*remote.BatchResult, error) {
		res := okResult(ops)
		if call == 1 {
			res.Failures = []remote.ItemError{{Index: 1, Kind: remote.KindRateLimited}}
		}

		return res, nil
	}

	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "4.0", "5.0"}, {"4.0"}}, b.callIDs())
	assert.Equal(t, []time.Duration{6 * time.Minute}, sleeps.delays)

	successes, failures, _ := e.Sink().Finish()
	assert.Equal(t, []int64{3, 4, 5}, lines(successes))
	assert.Empty(t, failures)
}

func TestRun_CallRejectionNamingItemResubmitsRest(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(call int, ops []remote.Operation) (*remote.BatchResult, error) {
		if call == 1 {
			return nil, &remote.Error{
				Kind:      remote.KindPolicyViolation,
				ItemIndex: 1,
				Policy:    &remote.Policy{Name: "ALCOHOL"},
			}
		}

		return okResult(ops), nil
	}

	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "4.0", "5.0"}, {"3.0", "5.0"}}, b.callIDs())

	successes, failures, _ := e.Sink().Finish()
	assert.Equal(t, []int64{3, 5}, lines(successes))
	require.Equal(t, []int64{4}, lines(failures))
	assert.Equal(t, `Campaign violated non-exemptable policy "ALCOHOL".`, failures[0].Message)
}

func TestRun_CallRejectionWithoutIndexFailsBlock(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(int, []remote.Operation) (*remote.BatchResult, error) {
		return nil, errors.New("connection reset")
	}

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	_, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3, 4}, lines(failures))
	assert.Len(t, fixups, 2)
	assert.Equal(t, "connection reset", failures[0].Cause)
	assert.Equal(t, []int64{4}, cp.advances)
}

func TestRun_CancelDuringBackoffCommitsAppliedRows(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(_ int, ops []remote.Operation) (*remote.BatchResult, error) {
		res := okResult(ops)
		res.Failures = []remote.ItemError{{Index: 1, Kind: remote.KindRateLimited, RetryAfter: 2 * time.Second}}

		return res, nil
	}

	cp := &memCheckpoint{}
	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}, []string{"2"}), cp)
	sleeps.failAt, sleeps.err = 1, context.Canceled

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps.delays)
	assert.Len(t, b.calls, 1, "applied operations are never resubmitted")

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3}, lines(successes))
	require.Equal(t, []int64{4}, lines(failures))
	assert.Equal(t, msgInterrupted, failures[0].Message)
	assert.Len(t, fixups, 1)
	assert.Equal(t, []int64{4}, cp.advances)
	assert.False(t, cp.cleared)
}

func TestRun_CancelDuringBackoffDiscardsUnappliedBlock(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(int, []remote.Operation) (*remote.BatchResult, error) {
		return nil, remote.RateLimited(time.Second, "slow down")
	}

	cp := &memCheckpoint{}
	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}), cp)
	sleeps.failAt, sleeps.err = 1, context.Canceled

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, context.Canceled)

	successes, failures, _ := e.Sink().Finish()
	assert.Empty(t, successes)
	assert.Empty(t, failures)
	assert.Empty(t, cp.advances)
	assert.False(t, cp.cleared)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	b := newFakeBuilder()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}), cp)

	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.built)
	assert.Empty(t, b.calls)
	assert.False(t, cp.cleared)
}

func TestRun_ShortRowRejectedBeforeGrouping(t *testing.T) {
	b := newFakeBuilder()
	b.idColumns = 2

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"a", "b"}, []string{"a"}, []string{"a", "b"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 5}, b.validated)
	assert.Equal(t, [][]string{{"3.0", "5.0"}}, b.callIDs())

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3, 5}, lines(successes))
	require.Equal(t, []int64{4}, lines(failures))
	assert.Contains(t, failures[0].Message, "1 fields but 2")
	assert.Len(t, fixups, 1)
	assert.Equal(t, []int64{5}, cp.advances)
}

func TestRun_ValidationAndBuildFailuresContinue(t *testing.T) {
	b := newFakeBuilder()
	b.validateFn = func(row table.Row) error {
		if row.Line == 4 {
			return &builder.ValidationError{Line: 4, Summary: "bad number", Cause: "'campaignid' contains value of 'x'"}
		}

		return nil
	}
	b.buildFn = func(row table.Row) error {
		if row.Line == 5 {
			return &builder.BuildError{Line: 5, Summary: "cannot build", Err: errors.New("unknown channel type")}
		}

		return nil
	}

	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 5, 6}, b.built)
	assert.Equal(t, [][]string{{"3.0", "6.0"}}, b.callIDs())

	successes, failures, fixups := e.Sink().Finish()
	assert.Equal(t, []int64{3, 6}, lines(successes))
	require.Equal(t, []int64{4, 5}, lines(failures))
	assert.Equal(t, "bad number", failures[0].Message)
	assert.Equal(t, "'campaignid' contains value of 'x'", failures[0].Cause)
	assert.Equal(t, "unknown channel type", failures[1].Cause)
	assert.Len(t, fixups, 2)
}

func TestRun_BuildRateLimitIsRetried(t *testing.T) {
	b := newFakeBuilder()
	attempts := 0
	b.buildFn = func(table.Row) error {
		attempts++
		if attempts == 1 {
			return &builder.BuildError{Line: 3, Summary: "list", Err: remote.RateLimited(0, "slow")}
		}

		return nil
	}

	e, sleeps := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 3}, b.built)
	assert.Equal(t, []time.Duration{6 * time.Minute}, sleeps.delays)

	successes, _, _ := e.Sink().Finish()
	assert.Equal(t, []int64{3}, lines(successes))
}

func TestRun_BuildAuthFailedIsFatal(t *testing.T) {
	b := newFakeBuilder()
	b.buildFn = func(table.Row) error {
		return &builder.BuildError{Line: 3, Summary: "list", Err: remote.NewError(remote.KindAuthFailed, "revoked")}
	}

	e, _ := newTestEngine(t, testConfig(), b, rowsFrom([]string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, remote.ErrAuthFailed)
}

func TestRun_CapSplitsSameTarget(t *testing.T) {
	b := newFakeBuilder()
	cfg := testConfig()
	cfg.MaxOperations = 2

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "4.0"}, {"5.0"}}, b.callIDs())
	assert.Equal(t, []int64{4, 5}, cp.advances)
}

func TestRun_FailedRowsDoNotCountTowardCap(t *testing.T) {
	b := newFakeBuilder()
	b.validateFn = func(row table.Row) error {
		if row.Line == 4 {
			return &builder.ValidationError{Line: 4, Summary: "bad number", Cause: "x"}
		}

		return nil
	}

	cfg := testConfig()
	cfg.MaxOperations = 2

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}, []string{"1"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "5.0"}, {"6.0"}}, b.callIDs())
	assert.Equal(t, []int64{5, 6}, cp.advances)

	successes, failures, _ := e.Sink().Finish()
	assert.Equal(t, []int64{3, 5, 6}, lines(successes))
	assert.Equal(t, []int64{4}, lines(failures))
}

func TestRun_OversizeRowSubmittedAlone(t *testing.T) {
	b := newFakeBuilder()
	b.opsPerLine = 3

	cfg := testConfig()
	cfg.MaxOperations = 2

	e, _ := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "3.1", "3.2"}, {"4.0", "4.1", "4.2"}}, b.callIDs())

	successes, _, _ := e.Sink().Finish()
	assert.Len(t, successes, 2, "oversize rows are never dropped")
}

func TestRun_ActualOpsBoundBlock(t *testing.T) {
	b := newFakeBuilder()
	b.opsFor = func(row table.Row) int {
		if row.Line == 3 {
			return 3
		}

		return 1
	}

	cfg := testConfig()
	cfg.MaxOperations = 4

	e, _ := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"3.0", "3.1", "3.2", "4.0"}, {"5.0"}}, b.callIDs())
}

func TestRun_DryRunNeverSubmits(t *testing.T) {
	b := newFakeBuilder()
	b.submitFn = func(int, []remote.Operation) (*remote.BatchResult, error) {
		t.Error("dry run must not submit")
		return nil, errors.New("unexpected")
	}

	cfg := testConfig()
	cfg.DryRun = true

	cp := &memCheckpoint{}
	e, _ := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"2"}), cp)

	_, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, b.calls)

	successes, _, _ := e.Sink().Finish()
	require.Len(t, successes, 2)
	assert.Equal(t, "Dry run: op 3.0 ok.", successes[0].Message)
	assert.Equal(t, []int64{3, 4}, cp.advances)
	assert.True(t, cp.cleared)
}

func TestRun_VoluntaryPacing(t *testing.T) {
	cfg := testConfig()
	cfg.PaceEveryRows = 2
	cfg.PacePause = time.Second

	e, sleeps := newTestEngine(t, cfg, newFakeBuilder(),
		rowsFrom([]string{"1"}, []string{"1"}, []string{"1"}, []string{"1"}, []string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps.delays)
}

func TestRun_CancelDuringPacingDiscardsOpenBlock(t *testing.T) {
	cfg := testConfig()
	cfg.PaceEveryRows = 1
	cfg.PacePause = time.Second

	b := newFakeBuilder()
	cp := &memCheckpoint{}
	e, sleeps := newTestEngine(t, cfg, b, rowsFrom([]string{"1"}, []string{"1"}), cp)
	sleeps.failAt, sleeps.err = 1, context.Canceled

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.calls)
	assert.Empty(t, cp.advances)
	assert.Equal(t, 0, b.pending.Len())
}

type narratingBuilder struct {
	*fakeBuilder
}

func (narratingBuilder) NothingToDo() string { return "Nothing to delete." }

func TestRun_RowWithoutOperationsSucceeds(t *testing.T) {
	fb := newFakeBuilder()
	fb.opsFor = func(table.Row) int { return 0 }

	e, _ := newTestEngine(t, testConfig(), narratingBuilder{fb}, rowsFrom([]string{"1"}), &memCheckpoint{})

	_, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, fb.calls)

	successes, _, _ := e.Sink().Finish()
	require.Len(t, successes, 1)
	assert.Equal(t, "Nothing to delete.", successes[0].Message)
}
