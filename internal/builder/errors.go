package builder

import "fmt"

// ValidationError reports a row that failed type or format checks.
// Summary goes to the error log and fixup file; Cause explains it.
type ValidationError struct {
	Line    int64
	Summary string
	Cause   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("builder: line %d: %s: %s", e.Line, e.Summary, e.Cause)
}

// BuildError reports a row whose operations could not be built.
type BuildError struct {
	Line    int64
	Summary string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("builder: line %d: %s: %v", e.Line, e.Summary, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// numericError is the shared validation failure for id columns.
func numericError(line int64, column, value string) *ValidationError {
	return &ValidationError{
		Line:    line,
		Summary: fmt.Sprintf("Problem parsing data in row #%d. Field value was expected to be numeric", line),
		Cause:   fmt.Sprintf("'%s' contains value of '%s'", column, value),
	}
}
