// Package output writes the run's three artifacts: a success log, an error
// log, and a fixup CSV holding failed rows with their failure reason. A
// fixup file begins with the input's preamble and header rows so it can be
// fed straight back in as a corrected input.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/tonimelisma/bulkmutate/internal/table"
)

const filePerms = 0o644

// Paths locates the output files.
type Paths struct {
	SuccessLog string
	ErrorLog   string
	Fixup      string
}

// Reset deletes every output file. It is called at the start of a fresh
// run; missing files are ignored.
func (p Paths) Reset() error {
	var errs []error

	for _, path := range []string{p.SuccessLog, p.ErrorLog, p.Fixup} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("output: removing %s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}

// Writers appends records to the output files. A write failure never
// stops the run: the failure is logged and the record, and every later
// record for that file, is echoed to the console instead.
type Writers struct {
	success *sink
	errors  *sink
	fixup   *sink
	fixCSV  *csv.Writer
	width   int
	console io.Writer
	logger  *slog.Logger
}

// Open opens the output files for appending. The fixup file gets the
// preamble and header (with a fixup_reason column) only when it is created.
// console receives records whose file could not be written; nil means
// os.Stderr.
func Open(p Paths, preamble table.Preamble, header table.Header, console io.Writer, logger *slog.Logger) *Writers {
	if logger == nil {
		logger = slog.Default()
	}

	if console == nil {
		console = os.Stderr
	}

	w := &Writers{width: header.Len(), console: console, logger: logger}
	w.success = w.openSink("success log", p.SuccessLog)
	w.errors = w.openSink("error log", p.ErrorLog)

	_, statErr := os.Stat(p.Fixup)
	created := errors.Is(statErr, fs.ErrNotExist)

	w.fixup = w.openSink("fixup file", p.Fixup)
	w.fixCSV = csv.NewWriter(w.fixup)

	if created && w.fixup.file != nil {
		head := append(append([]string{}, header.Names()...), table.FixupReasonColumn)
		w.writeFixupRecord(preamble.Fields())
		w.writeFixupRecord(head)
	}

	return w
}

// Success appends a success entry for line.
func (w *Writers) Success(line int64, message string) {
	fmt.Fprintf(w.success, "Line: %d\nResult: %s\n\n", line, message)
}

// Failure appends an error entry for line.
func (w *Writers) Failure(line int64, summary, cause string) {
	fmt.Fprintf(w.errors, "Line: %d\nError: %s\nCause: %s\n\n", line, summary, cause)
}

// Fixup appends the row's fields followed by reason. The fields are padded
// or truncated to the header width so reason always lands in the
// fixup_reason column.
func (w *Writers) Fixup(row table.Row, reason string) {
	rec := make([]string, w.width, w.width+1)
	copy(rec, row.Fields)
	w.writeFixupRecord(append(rec, reason))
}

func (w *Writers) writeFixupRecord(rec []string) {
	if err := w.fixCSV.Write(rec); err != nil {
		w.fixup.fail(err)
		return
	}

	w.fixCSV.Flush()

	if err := w.fixCSV.Error(); err != nil {
		w.fixup.fail(err)
	}
}

// Close closes every file. Errors are logged.
func (w *Writers) Close() {
	w.fixCSV.Flush()

	for _, s := range []*sink{w.success, w.errors, w.fixup} {
		s.close()
	}
}

func (w *Writers) openSink(name, path string) *sink {
	s := &sink{name: name, path: path, console: w.console, logger: w.logger}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerms)
	if err != nil {
		s.fail(err)
		return s
	}

	s.file = f

	return s
}

// sink is one output file with console fallback.
type sink struct {
	name    string
	path    string
	file    *os.File
	console io.Writer
	logger  *slog.Logger
}

func (s *sink) Write(p []byte) (int, error) {
	if s.file != nil {
		n, err := s.file.Write(p)
		if err == nil {
			return n, nil
		}

		s.fail(err)
	}

	return s.console.Write(p)
}

// fail switches the sink to console output.
func (s *sink) fail(err error) {
	s.logger.Warn("output write failed, echoing to console",
		slog.String("output", s.name),
		slog.String("path", s.path),
		slog.String("error", err.Error()),
	)

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

func (s *sink) close() {
	if s.file == nil {
		return
	}

	if err := s.file.Close(); err != nil {
		s.logger.Warn("closing output failed",
			slog.String("output", s.name),
			slog.String("error", err.Error()),
		)
	}

	s.file = nil
}
