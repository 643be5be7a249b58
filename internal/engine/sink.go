package engine

import (
	"log/slog"

	"github.com/tonimelisma/bulkmutate/internal/table"
)

// Outcome is the terminal result kind of a row.
type Outcome int

// Row outcomes.
const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Failure {
		return "failure"
	}

	return "success"
}

// ResultRecord is one row's terminal outcome.
type ResultRecord struct {
	Line    int64
	Outcome Outcome
	Message string
	Cause   string
}

// FixupRecord is a failed row with its failure summary, for a corrected rerun.
type FixupRecord struct {
	Row    table.Row
	Reason string
}

// Recorder persists outcomes as they are committed. output.Writers
// satisfies it.
type Recorder interface {
	Success(line int64, message string)
	Failure(line int64, summary, cause string)
	Fixup(row table.Row, reason string)
}

// Sink accumulates successes, failures and fixups and forwards each to a
// Recorder. A line is accepted at most once; a failure always carries its
// fixup.
type Sink struct {
	rec    Recorder
	logger *slog.Logger

	seen      map[int64]struct{}
	successes []ResultRecord
	failures  []ResultRecord
	fixups    []FixupRecord
}

// NewSink returns a Sink writing through rec; rec may be nil.
func NewSink(rec Recorder, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{rec: rec, logger: logger, seen: make(map[int64]struct{})}
}

func (s *Sink) claim(line int64) bool {
	if _, dup := s.seen[line]; dup {
		s.logger.Error("duplicate outcome dropped", slog.Int64("line", line))
		return false
	}

	s.seen[line] = struct{}{}

	return true
}

// Success records a successful row.
func (s *Sink) Success(line int64, message string) {
	if !s.claim(line) {
		return
	}

	s.successes = append(s.successes, ResultRecord{Line: line, Outcome: Success, Message: message})

	if s.rec != nil {
		s.rec.Success(line, message)
	}
}

// Failure records a terminally failed row and its fixup entry.
func (s *Sink) Failure(row table.Row, summary, cause string) {
	if !s.claim(row.Line) {
		return
	}

	s.failures = append(s.failures, ResultRecord{Line: row.Line, Outcome: Failure, Message: summary, Cause: cause})
	s.fixups = append(s.fixups, FixupRecord{Row: row, Reason: summary})

	if s.rec != nil {
		s.rec.Failure(row.Line, summary, cause)
		s.rec.Fixup(row, summary)
	}
}

// Finish returns everything recorded.
func (s *Sink) Finish() (successes, failures []ResultRecord, fixups []FixupRecord) {
	return s.successes, s.failures, s.fixups
}
