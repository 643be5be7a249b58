package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Reader streams data rows from a CSV input after consuming the preamble and
// header rows. Line numbers are record ordinals: the preamble is line 1, the
// header line 2, and the first data row line 3.
type Reader struct {
	csv      *csv.Reader
	closer   io.Closer
	preamble Preamble
	header   Header
	rawWidth int  // header width as read, including any fixup column
	dropLast bool // trailing fixup_reason column present
	line     int64
}

// Open opens path and reads its preamble and header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: opening %s: %w", path, err)
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	r.closer = f

	return r, nil
}

// NewReader wraps src and reads its preamble and header. A UTF-8 or UTF-16
// byte-order mark at the start of src is honored and stripped.
func NewReader(src io.Reader) (*Reader, error) {
	decoded := transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	r := &Reader{csv: cr}

	first, err := r.read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, SchemaErrorf("input is empty: expected a preamble row")
		}

		return nil, err
	}

	if len(first) == 0 || strings.TrimSpace(first[0]) == "" {
		return nil, SchemaErrorf("line 1: preamble must start with a processor tag")
	}

	r.preamble.Processor = strings.TrimSpace(first[0])
	if len(first) > 1 {
		r.preamble.Version = strings.TrimSpace(first[1])
	}

	second, err := r.read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, SchemaErrorf("line 2: header row missing")
		}

		return nil, err
	}

	r.rawWidth = len(second)

	if len(second) > 0 && normalizeName(second[len(second)-1]) == FixupReasonColumn {
		r.dropLast = true
		second = second[:len(second)-1]
	}

	r.header = NewHeader(second)

	return r, nil
}

// Preamble returns the processor tag and schema version from line 1.
func (r *Reader) Preamble() Preamble {
	return r.preamble
}

// Header returns the column header from line 2, without any fixup column.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next data row, or io.EOF when the input is exhausted.
func (r *Reader) Next() (Row, error) {
	rec, err := r.read()
	if err != nil {
		return Row{}, err
	}

	if r.dropLast && len(rec) == r.rawWidth {
		rec = rec[:len(rec)-1]
	}

	return Row{Line: r.line, Fields: rec}, nil
}

// Close releases the underlying file, if Open created one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}

	return r.closer.Close()
}

func (r *Reader) read() ([]string, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("table: reading line %d: %w", r.line+1, err)
	}

	r.line++

	return rec, nil
}
