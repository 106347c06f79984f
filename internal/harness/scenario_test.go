package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Resolves one reference"
declarations:
  - models/customer.cue
setup:
  - insert: Representant
    as: rep
    values: {company: 1, cod_rep: R1}
flow:
  - insert: Customer
    as: alice
    values: {company: 1, customer_id: 5, cod_rep: R1}
  - resolve: Customer.representant
    row: alice
    expect: {outcome: ok, row: rep}
assertions:
  - type: trace_count
    op: resolve
    count: 1
`

func TestParseScenario_Valid(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario), "testdata")
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, []string{filepath.Join("testdata", "models", "customer.cue")}, scenario.Declarations)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, "Representant", scenario.Setup[0].Insert)
	assert.Equal(t, map[string]any{"company": 1, "cod_rep": "R1"}, scenario.Setup[0].Values)

	require.Len(t, scenario.Flow, 2)
	assert.Equal(t, OpInsert, scenario.Flow[0].Op())
	assert.Equal(t, "Customer", scenario.Flow[0].Subject())
	assert.Equal(t, OpResolve, scenario.Flow[1].Op())
	assert.Equal(t, "Customer.representant", scenario.Flow[1].Subject())
	require.NotNil(t, scenario.Flow[1].Expect)
	assert.Equal(t, OutcomeOK, scenario.Flow[1].Expect.Outcome)
	assert.Equal(t, "rep", scenario.Flow[1].Expect.Row)

	require.Len(t, scenario.Assertions, 1)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 1, *scenario.Assertions[0].Count)
}

func TestParseScenario_AbsoluteDeclarationPathKept(t *testing.T) {
	abs, err := filepath.Abs(filepath.Join("testdata", "models", "customer.cue"))
	require.NoError(t, err)

	src := strings.Replace(minimalScenario, "models/customer.cue", abs, 1)
	scenario, err := ParseScenario([]byte(src), "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, scenario.Declarations)
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	src := strings.Replace(minimalScenario, "assertions:", "assertion:", 1)
	_, err := ParseScenario([]byte(src), "testdata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		want    string
	}{
		{"missing name", [2]string{"name: minimal", ""}, "name is required"},
		{"missing description", [2]string{`description: "Resolves one reference"`, ""}, "description is required"},
		{"missing declaration file", [2]string{"models/customer.cue", "models/nope.cue"}, "declaration file not found"},
		{"duplicate label", [2]string{"as: alice", "as: rep"}, `flow[0]: label "rep" is used twice`},
		{"missing label", [2]string{"    as: alice\n", ""}, "flow[0]: as is required"},
		{"bare reference", [2]string{"resolve: Customer.representant", "resolve: representant"}, `must name a reference as Entity.field`},
		{"missing row", [2]string{"    row: alice\n", ""}, "flow[1]: row is required for resolve"},
		{"unknown outcome", [2]string{"outcome: ok", "outcome: maybe"}, `flow[1].expect: unknown outcome "maybe"`},
		{"missing outcome", [2]string{"outcome: ok, ", ""}, "flow[1].expect: outcome is required"},
		{"negative count", [2]string{"count: 1", "count: -1"}, "count must be non-negative"},
		{"unknown assertion", [2]string{"type: trace_count", "type: trace_sum"}, `unknown assertion type "trace_sum"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.Replace(minimalScenario, tt.replace[0], tt.replace[1], 1)
			_, err := ParseScenario([]byte(src), "testdata")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_StepNeedsExactlyOneOperation(t *testing.T) {
	src := strings.Replace(minimalScenario, "  - resolve: Customer.representant\n",
		"  - resolve: Customer.representant\n    delete: alice\n", 1)
	_, err := ParseScenario([]byte(src), "testdata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[1]: exactly one of insert, resolve, reverse, assign or delete is required")
}

func TestParseScenario_TargetOnlyForAssign(t *testing.T) {
	src := strings.Replace(minimalScenario, "    row: alice\n", "    row: alice\n    target: rep\n", 1)
	_, err := ParseScenario([]byte(src), "testdata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[1]: target is only valid for assign")
}

func TestParseScenario_FinalStateNeedsExpectOrCount(t *testing.T) {
	src := strings.Replace(minimalScenario, "  - type: trace_count\n    op: resolve\n    count: 1\n",
		"  - type: final_state\n    entity: Customer\n", 1)
	_, err := ParseScenario([]byte(src), "testdata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertions[0]: expect or count is required for final_state")
}

func TestLoadScenario_ResolvesRelativeToFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "assign.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "assign", scenario.Name)
	require.Len(t, scenario.Declarations, 1)
	_, err = os.Stat(scenario.Declarations[0])
	assert.NoError(t, err, "declaration path should resolve to an existing file")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
