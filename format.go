package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/bulkmutate/internal/engine"
)

// formatProgress renders a one-line progress report.
func formatProgress(s engine.Summary) string {
	return fmt.Sprintf("%d rows read, %d processed (%d ok, %d failed), %d blocks submitted",
		s.Seen, s.Processed, s.Succeeded, s.Failed, s.Blocks)
}

// formatSummary renders the end-of-run report.
func formatSummary(s engine.Summary, elapsed time.Duration, dryRun bool) string {
	var b strings.Builder

	if dryRun {
		b.WriteString("Dry run finished")
	} else {
		b.WriteString("Run finished")
	}

	fmt.Fprintf(&b, " in %s: %d succeeded, %d failed", elapsed.Round(time.Second), s.Succeeded, s.Failed)

	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped as already done", s.Skipped)
	}

	fmt.Fprintf(&b, " (%d blocks", s.Blocks)

	if s.Retries > 0 {
		fmt.Fprintf(&b, ", %d retries", s.Retries)
	}

	b.WriteString(")")

	return b.String()
}
