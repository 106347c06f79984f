package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compositefk/internal/testutil"
)

// diagnosticsYAML builds cleanly but breaks several cross-entity rules.
const diagnosticsYAML = `entity:
  Address:
    fields:
      company: int
      tiers_id: int
  Customer:
    fields:
      address:
        reference:
          remote: Address
          to_fields:
            - {remote: tiers_id, local: customer_id}
            - {remote: kind, raw: C}
          null_if_equal:
            - {field: company, value: -1}
      company: int
      customer_id: int
`

const treeYAML = `entity:
  Node:
    fields:
      parent_id: {type: int, nullable: true}
      parent:
        reference:
          remote: Node
          to_fields: [{remote: id, local: parent_id}]
          null: true
`

func TestCheckValidDeclarations(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.cue": customerCUE})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Equal(t, "✓ 4 entities, 3 composite reference(s)\n", out)
}

func TestCheckValidDeclarationsJSON(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.cue": customerCUE})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 4, resp.Data.Entities)
	assert.Equal(t, 3, resp.Data.References)
	assert.Empty(t, resp.Data.Diagnostics)
}

func TestCheckMergesCUEAndYAML(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{
		"models.cue":      customerCUE,
		"extra/tree.yaml": treeYAML,
	})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 5 entities, 4 composite reference(s)\n")
}

func TestCheckReportsDiagnostics(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.yaml": diagnosticsYAML})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	testutil.AssertGolden(t, "check_diagnostics", []byte(out))
}

func TestCheckReportsDiagnosticsJSON(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.yaml": diagnosticsYAML})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   CheckReport `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)

	ids := make([]string, len(resp.Data.Diagnostics))
	for i, d := range resp.Data.Diagnostics {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"E001", "E004", "E006"}, ids)
}

func TestCheckCollectsValidationErrors(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.yaml": `entity:
  Address:
    fields:
      company: float
      city: {type: string, default: 3}
`})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Check failed: 2 problem(s)")
	assert.Contains(t, out, "[E103] line 4:")
	assert.Contains(t, out, "[E104]")
}

func TestCheckReportsMalformedFiles(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{
		"a.yaml": "entity:\n  Address:\n    fields:\n      company: int\n",
		"b.yaml": "entity:\n  Broken:\n    colour: red\n",
	})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "load:")
}

func TestCheckWarnsOnCascadeCycle(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"tree.yaml": treeYAML})

	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Equal(t, "✓ 1 entity, 1 composite reference(s)\n\n  ⚠ Self-cascading reference detected: Node → Node\n", out)
}

func TestCheckMissingDirectory(t *testing.T) {
	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "text"}), "/nonexistent/models")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E054]")
}

func TestCheckEmptyDirectory(t *testing.T) {
	out, _, err := runCommand(NewCheckCommand(&RootOptions{Format: "json"}), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNoFiles, resp.Error.Code)
}

func TestCheckVerboseOutput(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{"models.cue": customerCUE})

	out, errOut, err := runCommand(NewCheckCommand(&RootOptions{Format: "text", Verbose: true}), dir)
	require.NoError(t, err)

	assert.NotContains(t, out, "Found")
	assert.Contains(t, errOut, "Found 1 declaration file(s)")
	assert.Contains(t, errOut, "Checking entity: Customer")
}
