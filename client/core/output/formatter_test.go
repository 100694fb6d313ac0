package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rows [][]string

func (r rows) Table() [][]string { return r }

func TestFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatJSON, &buf)
	require.NoError(t, f.Print(map[string]interface{}{"a": 1}))
	assert.Equal(t, "{\"a\":1}\n", buf.String())
}

func TestFormatter_Table(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	f := NewFormatter(FormatTable, &buf)
	require.NoError(t, f.Print(rows{{"ID", "Name"}, {"1", "Dune"}, {"2", "Emma"}}))

	out := buf.String()
	assert.Contains(t, out, "Dune")
	assert.Contains(t, out, "Emma")
	assert.Less(t, strings.Index(out, "ID"), strings.Index(out, "Dune"))
}

func TestFormatter_TableEmptyAndFallback(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatTable, &buf)
	require.NoError(t, f.Print(rows{{"ID"}}))
	assert.Equal(t, "(empty)\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Print([]int{1, 2}))
	assert.JSONEq(t, "[1,2]", buf.String())
}

func TestFormatter_MessagesGoToLogWriter(t *testing.T) {
	var data, logs bytes.Buffer
	f := NewFormatter(FormatJSON, &data)
	f.SetLogWriter(&logs)

	f.PrintSuccess("done")
	f.PrintError(errors.New("boom"))
	assert.Empty(t, data.String())
	assert.Contains(t, logs.String(), "done")
	assert.Contains(t, logs.String(), "boom")

	logs.Reset()
	f.SetSilent(true)
	f.PrintInfo("quiet")
	f.PrintError(errors.New("loud"))
	assert.NotContains(t, logs.String(), "quiet")
	assert.Contains(t, logs.String(), "loud")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", FormatValue(nil))
	assert.Equal(t, "yes", FormatValue(true))
	assert.Equal(t, "42", FormatValue(uint64(42)))
	assert.Equal(t, `{"k":"v"}`, FormatValue(map[string]string{"k": "v"}))
}
