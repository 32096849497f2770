package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	path := seedTraceDB(t)

	var out, errOut bytes.Buffer
	code := execute([]string{"trace", "--db", path}, &out, &errOut)

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out.String(), "idle -> establishing_provider_connection")
	assert.Empty(t, errOut.String())
}

func TestExecute_CommandErrorReportedAsText(t *testing.T) {
	var out, errOut bytes.Buffer
	code := execute(
		[]string{"run", filepath.Join(t.TempDir(), "absent.yaml")},
		&out, &errOut,
	)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "Error [COMMAND_ERROR]")
	assert.Contains(t, errOut.String(), "failed to load config")
}

func TestExecute_CommandErrorReportedAsJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	code := execute(
		[]string{"--format", "json", "run", filepath.Join(t.TempDir(), "absent.yaml")},
		&out, &errOut,
	)

	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(errOut.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "COMMAND_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "failed to load config")
}
