// Package table reads the tabular change-request input: a preamble row naming
// the processor and schema version, a header row, and data rows. It owns the
// Row, Header and TargetKey types shared by the builders and the engine.
package table

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FixupReasonColumn is the column appended to fixup files. The reader drops
// it so a fixup file can be fed back in unchanged.
const FixupReasonColumn = "fixup_reason"

// ErrSchema is the sentinel behind every SchemaError.
// Use errors.Is(err, table.ErrSchema) to check.
var ErrSchema = errors.New("table: schema error")

// SchemaError reports a malformed preamble or header. It is fatal to a run.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string {
	return "table: schema error: " + e.Msg
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// SchemaErrorf formats a SchemaError.
func SchemaErrorf(format string, args ...any) error {
	return &SchemaError{Msg: fmt.Sprintf(format, args...)}
}

// Row is one data record with its 1-based source line number. Rows are
// never modified after the reader returns them.
type Row struct {
	Line   int64
	Fields []string
}

// Key returns the leading width fields of the row with surrounding spaces
// trimmed, matching how builders read the same columns. ok is false when the
// row has fewer fields than width.
func (r Row) Key(width int) (key TargetKey, ok bool) {
	if width < 0 || len(r.Fields) < width {
		return nil, false
	}

	key = make(TargetKey, width)
	for i, f := range r.Fields[:width] {
		key[i] = strings.TrimSpace(f)
	}

	return key, true
}

// Field returns the value at column index i, or "" when the row is short.
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}

	return r.Fields[i]
}

// TargetKey is the identifying prefix of a row. Rows with equal keys may
// share a batch.
type TargetKey []string

// Equal compares keys positionally with exact string equality.
func (k TargetKey) Equal(other TargetKey) bool {
	if len(k) != len(other) {
		return false
	}

	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}

	return true
}

func (k TargetKey) String() string {
	return strings.Join(k, "|")
}

// Preamble is the first input row: processor tag and schema version.
type Preamble struct {
	Processor string
	Version   string
}

// Fields returns the preamble as a record suitable for writing back out.
func (p Preamble) Fields() []string {
	if p.Version == "" {
		return []string{p.Processor}
	}

	return []string{p.Processor, p.Version}
}

// Header maps column names to indices. Names are NFC-normalized and
// trimmed so that headers exported by different tools compare equal.
type Header struct {
	names []string
	index map[string][]int
}

// NewHeader builds a Header from the raw header record.
func NewHeader(raw []string) Header {
	h := Header{
		names: make([]string, len(raw)),
		index: make(map[string][]int, len(raw)),
	}

	for i, name := range raw {
		n := normalizeName(name)
		h.names[i] = n
		h.index[n] = append(h.index[n], i)
	}

	return h
}

// Names returns the normalized column names in input order.
func (h Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Len returns the number of columns.
func (h Header) Len() int {
	return len(h.names)
}

// Resolve maps each required name to its column index. A missing or
// duplicated required name is a SchemaError; all problems are reported.
func (h Header) Resolve(required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(required))

	var errs []error

	for _, name := range required {
		idx := h.index[normalizeName(name)]

		switch len(idx) {
		case 0:
			errs = append(errs, SchemaErrorf("required column %q missing from header", name))
		case 1:
			cols[name] = idx[0]
		default:
			errs = append(errs, SchemaErrorf("required column %q appears %d times in header", name, len(idx)))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return cols, nil
}

func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
