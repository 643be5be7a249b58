package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/bulkmutate/internal/table"
)

func testPaths(t *testing.T) Paths {
	t.Helper()

	dir := t.TempDir()

	return Paths{
		SuccessLog: filepath.Join(dir, "success-output.txt"),
		ErrorLog:   filepath.Join(dir, "error-output.txt"),
		Fixup:      filepath.Join(dir, "fix-up.csv"),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestWriters_Formats(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	pre := table.Preamble{Processor: "CAMPAIGNMIGRATION", Version: "1.0"}
	head := table.NewHeader([]string{"client_account_id", "campaignid"})

	w := Open(p, pre, head, nil, nil)
	w.Success(3, "Campaign with id '1' and name 'A' was migrated.")
	w.Failure(4, "Problem parsing data", "'campaignid' contains value of 'x'")
	w.Fixup(table.Row{Line: 4, Fields: []string{"111", "x"}}, "Problem parsing data")
	w.Close()

	assert.Equal(t, "Line: 3\nResult: Campaign with id '1' and name 'A' was migrated.\n\n", readFile(t, p.SuccessLog))
	assert.Equal(t, "Line: 4\nError: Problem parsing data\nCause: 'campaignid' contains value of 'x'\n\n", readFile(t, p.ErrorLog))
	assert.Equal(t,
		"CAMPAIGNMIGRATION,1.0\nclient_account_id,campaignid,fixup_reason\n111,x,Problem parsing data\n",
		readFile(t, p.Fixup))
}

func TestWriters_AppendOnResumeWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	pre := table.Preamble{Processor: "TEST"}
	head := table.NewHeader([]string{"name"})

	w := Open(p, pre, head, nil, nil)
	w.Fixup(table.Row{Fields: []string{"a"}}, "first")
	w.Close()

	w = Open(p, pre, head, nil, nil)
	w.Fixup(table.Row{Fields: []string{"b"}}, "second")
	w.Close()

	assert.Equal(t, "TEST\nname,fixup_reason\na,first\nb,second\n", readFile(t, p.Fixup))
}

func TestWriters_FixupIsReadableInput(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	pre := table.Preamble{Processor: "CAMPAIGNMIGRATION", Version: "1.0"}
	head := table.NewHeader([]string{"client_account_id", "campaignid"})

	w := Open(p, pre, head, nil, nil)
	w.Fixup(table.Row{Fields: []string{"111", "4,2"}}, `bad "value"`)
	w.Close()

	r, err := table.Open(p.Fixup)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, pre, r.Preamble())
	assert.Equal(t, []string{"client_account_id", "campaignid"}, r.Header().Names())

	row, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "4,2"}, row.Fields)
}

func TestWriters_FixupRowsMatchHeaderWidth(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	pre := table.Preamble{Processor: "CAMPAIGNMIGRATION", Version: "1.0"}
	head := table.NewHeader([]string{"client_account_id", "campaignid", "channel_type"})

	w := Open(p, pre, head, nil, nil)
	w.Fixup(table.Row{Line: 3, Fields: []string{"111"}}, "short")
	w.Fixup(table.Row{Line: 4, Fields: []string{"111", "42", "SEARCH", "extra"}}, "long")
	w.Close()

	assert.Equal(t,
		"CAMPAIGNMIGRATION,1.0\nclient_account_id,campaignid,channel_type,fixup_reason\n111,,,short\n111,42,SEARCH,long\n",
		readFile(t, p.Fixup))

	r, err := table.Open(p.Fixup)
	require.NoError(t, err)
	defer r.Close()

	for _, want := range [][]string{{"111", "", ""}, {"111", "42", "SEARCH"}} {
		row, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, row.Fields, "the reason never reads back as data")
	}
}

func TestWriters_ConsoleFallback(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	p.SuccessLog = filepath.Join(p.SuccessLog, "not-a-dir", "success.txt")

	var console bytes.Buffer

	w := Open(p, table.Preamble{Processor: "TEST"}, table.NewHeader([]string{"name"}), &console, nil)
	w.Success(3, "ok")
	w.Close()

	assert.True(t, strings.Contains(console.String(), "Line: 3\nResult: ok"))
}

func TestPaths_Reset(t *testing.T) {
	t.Parallel()

	p := testPaths(t)
	require.NoError(t, os.WriteFile(p.SuccessLog, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(p.Fixup, []byte("old"), 0o644))

	require.NoError(t, p.Reset())

	for _, path := range []string{p.SuccessLog, p.ErrorLog, p.Fixup} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
}
