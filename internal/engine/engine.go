// Package engine is the batch-mutation run loop. It reads rows in line
// order, skips rows covered by the checkpoint, groups the rest into blocks
// that share a target and fit the per-call operation cap, drives the
// builder to build and submit each block, reconciles per-item results back
// to rows, waits out rate limits, and commits each block's outcomes before
// advancing the checkpoint past it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/bulkmutate/internal/builder"
	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// Narratives for outcomes the engine decides itself.
const (
	msgNothingToDo  = "No operations required."
	msgInterrupted  = "Interrupted before retry."
	msgDryRunPrefix = "Dry run: "
)

// Config tunes the run loop.
type Config struct {
	MaxOperations      int
	MaxRetries         int
	RateLimitDelay     time.Duration
	AuthChallengeDelay time.Duration
	PaceEveryRows      int
	PacePause          time.Duration
	DryRun             bool
}

// RowSource yields data rows in line order and io.EOF at the end.
type RowSource interface {
	Next() (table.Row, error)
}

// Checkpointer is the engine's view of the checkpoint store. Current is
// the value loaded at startup.
type Checkpointer interface {
	Current() int64
	Advance(line int64) error
	Clear() error
}

// emptyNarrator is implemented by builders with their own message for rows
// that need no operations.
type emptyNarrator interface {
	NothingToDo() string
}

// blockRow is a row admitted to the open block. Rows rejected before
// submission carry their failure here.
type blockRow struct {
	row     table.Row
	failed  bool
	summary string
	cause   string
}

// Engine runs one input through one builder. It is single-use.
type Engine struct {
	cfg        Config
	builder    builder.Builder
	rows       RowSource
	checkpoint Checkpointer
	sink       *Sink
	stats      *Stats
	logger     *slog.Logger

	// sleepFunc waits for backoff and pacing. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error

	grouper *grouper
	block   []*blockRow
	backoff Backoff
}

// New wires an Engine.
func New(cfg Config, b builder.Builder, rows RowSource, cp Checkpointer, sink *Sink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if sink == nil {
		sink = NewSink(nil, logger)
	}

	return &Engine{
		cfg:        cfg,
		builder:    b,
		rows:       rows,
		checkpoint: cp,
		sink:       sink,
		stats:      &Stats{},
		logger:     logger,
		sleepFunc:  timeSleep,
		grouper:    newGrouper(cfg.MaxOperations, b.OpsPerLine()),
		backoff: Backoff{
			RateLimitDelay:     cfg.RateLimitDelay,
			AuthChallengeDelay: cfg.AuthChallengeDelay,
			MaxRetries:         cfg.MaxRetries,
		},
	}
}

// Stats returns the live progress counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Sink returns the result sink.
func (e *Engine) Sink() *Sink {
	return e.sink
}

// Run processes the input to the end. A canceled ctx stops the run at the
// next row boundary or backoff wait and returns ctx's error; the checkpoint
// is left at the last committed block. The checkpoint is cleared only when
// the whole input has been processed.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	resume := e.checkpoint.Current()
	if resume > 0 {
		e.logger.Info("resuming from checkpoint", slog.Int64("line", resume))
	}

	if e.grouper.oversize() {
		e.logger.Warn("a single row's operations exceed the batch cap; such rows are submitted alone",
			slog.Int("ops_per_line", e.builder.OpsPerLine()),
			slog.Int("max_operations", e.cfg.MaxOperations),
		)
	}

	var paced int

	for {
		if err := ctx.Err(); err != nil {
			return e.abandon(err)
		}

		row, err := e.rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return e.abandon(fmt.Errorf("engine: reading input: %w", err))
		}

		e.stats.seen.Add(1)

		if row.Line <= resume {
			e.stats.skipped.Add(1)
			continue
		}

		if err := e.admit(ctx, row); err != nil {
			return e.abandon(err)
		}

		paced++
		if e.cfg.PaceEveryRows > 0 && e.cfg.PacePause > 0 && paced%e.cfg.PaceEveryRows == 0 {
			e.logger.Debug("voluntary pause",
				slog.Int("rows", paced),
				slog.Duration("delay", e.cfg.PacePause),
			)

			if err := e.sleepFunc(ctx, e.cfg.PacePause); err != nil {
				return e.abandon(err)
			}
		}
	}

	if err := e.flush(ctx); err != nil {
		return e.abandon(err)
	}

	if err := e.checkpoint.Clear(); err != nil {
		e.logger.Warn("could not clear checkpoint", slog.String("error", err.Error()))
	}

	sum := e.stats.Snapshot()
	e.logger.Info("run complete",
		slog.Int64("seen", sum.Seen),
		slog.Int64("skipped", sum.Skipped),
		slog.Int64("succeeded", sum.Succeeded),
		slog.Int64("failed", sum.Failed),
		slog.Int64("blocks", sum.Blocks),
	)

	return sum, nil
}

// abandon drops the unsubmitted open block and ends the run with err.
func (e *Engine) abandon(err error) (Summary, error) {
	if len(e.block) > 0 {
		e.logger.Info("discarding unsubmitted block",
			slog.Int("block_lines", len(e.block)),
			slog.Int("ops", e.builder.Pending().Len()),
		)
	}

	e.resetBlock()

	e.logger.Info("run stopped",
		slog.Int64("checkpoint", e.checkpoint.Current()),
		slog.String("reason", err.Error()),
	)

	return e.stats.Snapshot(), err
}

// admit places row in a block, flushing the open block first when the row
// does not fit, then validates and builds it. Row-level failures are
// buffered with the block and ride along with its commit; only fatal and
// cancellation errors return.
func (e *Engine) admit(ctx context.Context, row table.Row) error {
	width := e.builder.IDColumns()

	key, ok := row.Key(width)
	if !ok {
		e.block = append(e.block, &blockRow{
			row:     row,
			failed:  true,
			summary: fmt.Sprintf("Row has %d fields but %d are needed to identify its target.", len(row.Fields), width),
			cause:   "short row",
		})

		return nil
	}

	if !e.grouper.fits(key, e.builder.Pending().Len()) {
		if err := e.flush(ctx); err != nil {
			return err
		}
	}

	br := &blockRow{row: row}
	e.block = append(e.block, br)

	if err := e.builder.Validate(row); err != nil {
		br.failed = true
		br.summary, br.cause = describeRowError(err)

		return nil
	}

	before := e.builder.Pending().Len()

	rowErr, runErr := e.build(ctx, row)
	if runErr != nil {
		return runErr
	}

	if rowErr != nil {
		br.failed = true
		br.summary, br.cause = describeRowError(rowErr)

		return nil
	}

	// Only built rows count toward the block's operation estimate.
	e.grouper.add(key)

	if built := e.builder.Pending().Len() - before; e.grouper.rows == 1 && built > e.cfg.MaxOperations {
		e.logger.Warn("row exceeds batch cap and is submitted alone",
			slog.Int64("line", row.Line),
			slog.Int("ops", built),
			slog.Int("max_operations", e.cfg.MaxOperations),
		)
	}

	return nil
}

// build asks the builder for the row's operations, waiting out rate limits
// and auth challenges raised while it queries the remote.
func (e *Engine) build(ctx context.Context, row table.Row) (rowErr, runErr error) {
	bo := Backoff{
		RateLimitDelay:     e.cfg.RateLimitDelay,
		AuthChallengeDelay: e.cfg.AuthChallengeDelay,
		MaxRetries:         e.cfg.MaxRetries,
	}

	for {
		_, err := e.builder.Build(ctx, row)
		if err == nil {
			return nil, nil
		}

		if errors.Is(err, remote.ErrAuthFailed) {
			return nil, fmt.Errorf("engine: line %d: %w", row.Line, err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		d := bo.Next(err)
		if !d.Retry {
			return err, nil
		}

		e.stats.retries.Add(1)
		e.logger.Warn("backing off before rebuilding row",
			slog.Int64("line", row.Line),
			slog.Int("attempt", bo.Attempts()),
			slog.Duration("delay", d.Delay),
			slog.String("error", err.Error()),
		)

		if err := e.sleepFunc(ctx, d.Delay); err != nil {
			return nil, err
		}
	}
}

// flush submits the open block, reconciles it and commits its outcomes.
// On cancellation or a fatal error during submission the block is
// committed only if some of its operations were applied; unresolved rows
// then fail as interrupted so a resumed run never resubmits them.
func (e *Engine) flush(ctx context.Context) error {
	if len(e.block) == 0 {
		e.resetBlock()
		return nil
	}

	defer e.resetBlock()

	rec := newReconciler(e.builder.Pending().Ops(), e.logger)

	if len(rec.ops) > 0 {
		if err := e.submit(ctx, rec); err != nil {
			if !rec.anyApplied() {
				return err
			}

			rec.failAll(rec.unresolved(), msgInterrupted, err.Error())
			e.commit(rec)

			return err
		}
	}

	e.commit(rec)

	return nil
}

// submit sends the block's unresolved operations until every one is
// applied or terminally failed.
func (e *Engine) submit(ctx context.Context, rec *reconciler) error {
	e.backoff.Reset()
	e.stats.blocks.Add(1)

	key := e.grouper.key

	for {
		idx := rec.unresolved()
		if len(idx) == 0 {
			return nil
		}

		e.logger.Debug("submitting block",
			slog.String("account", key.String()),
			slog.Int64("line", e.block[0].row.Line),
			slog.Int("block_lines", len(e.block)),
			slog.Int("ops", len(idx)),
			slog.Int("attempt", e.backoff.Attempts()+1),
		)

		if e.cfg.DryRun {
			rec.applyResult(idx, &remote.BatchResult{Results: dryResults(rec.subset(idx))})
			return nil
		}

		// An in-flight call always completes; cancellation is honored at
		// row boundaries and during waits.
		res, err := e.builder.Submit(context.WithoutCancel(ctx), key, rec.subset(idx))
		if err == nil {
			retry, retryAfter := rec.applyResult(idx, res)
			if len(retry) == 0 {
				return nil
			}

			signal := remote.RateLimited(retryAfter, fmt.Sprintf("%d operations rate limited", len(retry)))
			if err := e.wait(ctx, signal, rec, retry); err != nil {
				return err
			}

			continue
		}

		if errors.Is(err, remote.ErrAuthFailed) {
			return fmt.Errorf("engine: %w", err)
		}

		if remote.IsRetryable(err) {
			if err := e.wait(ctx, err, rec, idx); err != nil {
				return err
			}

			continue
		}

		if re, ok := remote.AsError(err); ok && re.ItemIndex >= 0 && re.ItemIndex < len(idx) {
			p := idx[re.ItemIndex]
			rec.fail(p, itemSummary(rec.ops[p], re.Kind, re.Policy, re.Detail), err.Error())

			e.logger.Info("call rejected for one operation, resubmitting the rest",
				slog.Int("index", re.ItemIndex),
				slog.Int("remaining", len(idx)-1),
			)

			continue
		}

		rec.failAll(idx, "Batch submission failed.", err.Error())

		return nil
	}
}

// wait applies the backoff decision for signal. When retries are exhausted
// the given operations fail terminally and wait returns nil.
func (e *Engine) wait(ctx context.Context, signal error, rec *reconciler, idx []int) error {
	d := e.backoff.Next(signal)
	if !d.Retry {
		e.logger.Warn("giving up on block",
			slog.Int("ops", len(idx)),
			slog.String("reason", d.Reason),
		)

		rec.failAll(idx, fmt.Sprintf("Not applied: %s.", d.Reason), signal.Error())

		return nil
	}

	e.stats.retries.Add(1)
	e.logger.Warn("backing off",
		slog.Int("attempt", e.backoff.Attempts()),
		slog.Duration("delay", d.Delay),
		slog.Int("ops", len(idx)),
		slog.String("signal", signal.Error()),
	)

	return e.sleepFunc(ctx, d.Delay)
}

// commit hands every row of the block to the sink in line order and then
// advances the checkpoint to the block's last line.
func (e *Engine) commit(rec *reconciler) {
	pending := e.builder.Pending()
	byLine := make(map[int64][]int)

	for i := range rec.ops {
		line, ok := pending.Origin(i)
		if !ok {
			continue
		}

		byLine[line] = append(byLine[line], i)
	}

	for _, br := range e.block {
		e.stats.processed.Add(1)

		if br.failed {
			e.fail(br.row, br.summary, br.cause)
			continue
		}

		e.settle(br.row, rec, byLine[br.row.Line])
	}

	last := e.block[len(e.block)-1].row.Line
	if err := e.checkpoint.Advance(last); err != nil {
		e.logger.Warn("could not advance checkpoint",
			slog.Int64("line", last),
			slog.String("error", err.Error()),
		)
	}
}

// settle records the outcome of a built row from its operations' states.
func (e *Engine) settle(row table.Row, rec *reconciler, idx []int) {
	if len(idx) == 0 {
		msg := msgNothingToDo
		if n, ok := e.builder.(emptyNarrator); ok {
			msg = n.NothingToDo()
		}

		e.succeed(row.Line, msg)

		return
	}

	var (
		messages []string
		summary  string
		causes   []string
	)

	for _, p := range idx {
		st := rec.states[p]

		switch st.status {
		case opApplied:
			msg := e.builder.Describe(rec.ops[p], st.result)
			if e.cfg.DryRun {
				msg = msgDryRunPrefix + msg
			}

			messages = append(messages, msg)
		default:
			if summary == "" {
				summary = st.summary
			}

			causes = append(causes, st.cause)
		}
	}

	if summary != "" {
		e.fail(row, summary, strings.Join(causes, "; "))
		return
	}

	e.succeed(row.Line, strings.Join(messages, " "))
}

func (e *Engine) succeed(line int64, msg string) {
	e.stats.succeeded.Add(1)
	e.sink.Success(line, msg)
}

func (e *Engine) fail(row table.Row, summary, cause string) {
	e.stats.failed.Add(1)
	e.sink.Failure(row, summary, cause)
}

func (e *Engine) resetBlock() {
	e.builder.Clear()
	e.grouper.reset()
	e.block = nil
}

// describeRowError extracts summary and cause from a builder error.
func describeRowError(err error) (summary, cause string) {
	var ve *builder.ValidationError
	if errors.As(err, &ve) {
		return ve.Summary, ve.Cause
	}

	var be *builder.BuildError
	if errors.As(err, &be) {
		cause := ""
		if be.Err != nil {
			cause = be.Err.Error()
		}

		return be.Summary, cause
	}

	return err.Error(), err.Error()
}

// dryResults fabricates one result per operation for a dry run.
func dryResults(ops []remote.Operation) []remote.Entity {
	out := make([]remote.Entity, len(ops))
	for i, op := range ops {
		out[i] = remote.Entity{Type: op.Entity, ID: op.ID}
	}

	return out
}

// timeSleep waits for d or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
