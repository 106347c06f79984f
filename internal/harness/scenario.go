package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a composite reference scenario.
// Scenarios insert rows, exercise references through the store and assert
// on the resulting trace and final table contents.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declarations lists CUE or YAML entity declaration files.
	// Paths are relative to the scenario file location.
	Declarations []string `yaml:"declarations"`

	// Lang is the active language for computed locale values.
	// Empty means the default language.
	Lang string `yaml:"lang,omitempty"`

	// Setup inserts the initial rows. Setup inserts are assumed to succeed.
	Setup []InsertStep `yaml:"setup,omitempty"`

	// Flow contains the steps under test, each with an optional expectation.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// InsertStep inserts one row and labels it for later steps.
type InsertStep struct {
	// Insert is the entity name.
	Insert string `yaml:"insert"`

	// As labels the inserted row. Labels are unique per scenario.
	As string `yaml:"as"`

	// Values are column values; missing columns take their default.
	Values map[string]any `yaml:"values"`
}

// FlowStep is one operation of the main flow. Exactly one of Insert,
// Resolve, Reverse, Assign and Delete is set.
type FlowStep struct {
	InsertStep `yaml:",inline"`

	// Resolve reads the reference Entity.field of Row.
	Resolve string `yaml:"resolve,omitempty"`

	// Reverse lists the rows whose reference Entity.field points at Row.
	Reverse string `yaml:"reverse,omitempty"`

	// Assign points the reference Entity.field of Row at Target and saves
	// Row. An empty Target clears the reference.
	Assign string `yaml:"assign,omitempty"`
	Target string `yaml:"target,omitempty"`

	// Delete removes the labelled row with its dependents.
	Delete string `yaml:"delete,omitempty"`

	// Row is the label the reference operations work on.
	Row string `yaml:"row,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step is only traced.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Op returns the operation name of the step.
func (s FlowStep) Op() string {
	switch {
	case s.Insert != "":
		return OpInsert
	case s.Resolve != "":
		return OpResolve
	case s.Reverse != "":
		return OpReverse
	case s.Assign != "":
		return OpAssign
	case s.Delete != "":
		return OpDelete
	default:
		return ""
	}
}

// Subject returns what the step operates on: an entity, a reference or a
// row label.
func (s FlowStep) Subject() string {
	switch s.Op() {
	case OpInsert:
		return s.Insert
	case OpResolve:
		return s.Resolve
	case OpReverse:
		return s.Reverse
	case OpAssign:
		return s.Assign
	case OpDelete:
		return s.Delete
	default:
		return ""
	}
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Outcome is one of ok, absent, not_found or error.
	Outcome string `yaml:"outcome"`

	// Row is the label a resolve is expected to return.
	Row string `yaml:"row,omitempty"`

	// Rows are the labels a reverse is expected to return, in order.
	Rows []string `yaml:"rows,omitempty"`

	// Deleted and Updated are the per-entity row counts a delete is
	// expected to touch.
	Deleted map[string]int `yaml:"deleted,omitempty"`
	Updated map[string]int `yaml:"updated,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an operation on a subject appears in trace
	// - "trace_order": Check operations appear in order
	// - "trace_count": Check an operation appears exactly N times
	// - "final_state": Query an entity and verify expected values
	Type string `yaml:"type"`

	// Op and Subject select trace events (trace_contains, trace_count).
	// An empty Subject matches every subject.
	Op      string `yaml:"op,omitempty"`
	Subject string `yaml:"subject,omitempty"`

	// Events is the expected order as "op subject" strings (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of trace events (trace_count) or of
	// matching rows (final_state).
	Count *int `yaml:"count,omitempty"`

	// Entity is the entity to query (final_state).
	Entity string `yaml:"entity,omitempty"`

	// Where specifies column filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values of the single matching row
	// (final_state). Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Operation names used in steps and trace events.
const (
	OpInsert  = "insert"
	OpResolve = "resolve"
	OpReverse = "reverse"
	OpAssign  = "assign"
	OpDelete  = "delete"
)

// Outcome names used in expectations and trace events.
const (
	OutcomeOK       = "ok"
	OutcomeAbsent   = "absent"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// LoadScenario reads and parses a scenario YAML file.
// Declaration paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving declaration paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. Relative declaration paths are
// joined to basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths BEFORE validation
	for i, p := range scenario.Declarations {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Declarations[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Declarations) == 0 {
		return fmt.Errorf("declarations list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.Declarations {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("declaration file not found: %s", p)
		}
	}

	labels := make(map[string]bool)
	addLabel := func(where, label string) error {
		if label == "" {
			return fmt.Errorf("%s: as is required", where)
		}
		if labels[label] {
			return fmt.Errorf("%s: label %q is used twice", where, label)
		}
		labels[label] = true
		return nil
	}

	for i, step := range s.Setup {
		where := fmt.Sprintf("setup[%d]", i)
		if step.Insert == "" {
			return fmt.Errorf("%s: insert is required", where)
		}
		if err := addLabel(where, step.As); err != nil {
			return err
		}
	}

	for i, step := range s.Flow {
		if err := validateFlowStep(i, step, addLabel); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateFlowStep(index int, step FlowStep, addLabel func(string, string) error) error {
	where := fmt.Sprintf("flow[%d]", index)

	set := 0
	for _, v := range []string{step.Insert, step.Resolve, step.Reverse, step.Assign, step.Delete} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of insert, resolve, reverse, assign or delete is required", where)
	}

	switch step.Op() {
	case OpInsert:
		if err := addLabel(where, step.As); err != nil {
			return err
		}
	case OpResolve, OpReverse, OpAssign:
		if !strings.Contains(step.Subject(), ".") {
			return fmt.Errorf("%s: %s must name a reference as Entity.field, got %q", where, step.Op(), step.Subject())
		}
		if step.Row == "" {
			return fmt.Errorf("%s: row is required for %s", where, step.Op())
		}
	}
	if step.Target != "" && step.Op() != OpAssign {
		return fmt.Errorf("%s: target is only valid for assign", where)
	}

	if e := step.Expect; e != nil {
		switch e.Outcome {
		case OutcomeOK, OutcomeAbsent, OutcomeNotFound, OutcomeError:
		case "":
			return fmt.Errorf("%s.expect: outcome is required", where)
		default:
			return fmt.Errorf("%s.expect: unknown outcome %q", where, e.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
