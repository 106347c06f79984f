package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/compositefk/internal/compiler"
	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/locale"
	"github.com/roach88/compositefk/internal/schema"
	"github.com/roach88/compositefk/internal/store"
	"github.com/roach88/compositefk/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs one scenario against a fresh in-memory database, numbering trace
// events with a deterministic sequence.
type Harness struct {
	store  *store.Store
	reg    *schema.Registry
	seq    *testutil.KeySequence
	logger *slog.Logger

	// rows maps labels to the last loaded version of each labelled row.
	rows  map[string]*schema.Instance
	order []string
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// stepOutput carries what a step produced, for expectation checks.
type stepOutput struct {
	row     string
	rows    []string
	summary store.DeletionSummary
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Load and build the entity declarations
// 2. Create a fresh in-memory database holding their tables
// 3. Execute setup inserts
// 4. Execute flow steps and check their expect clauses
// 5. Evaluate assertions against the trace and final tables
//
// A returned error means the scenario itself is broken (unreadable
// declarations, unknown labels); failed expectations are reported in the
// result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		seq:    testutil.NewKeySequence(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rows:   make(map[string]*schema.Instance),
	}
	for _, opt := range opts {
		opt(h)
	}

	reg, err := h.build(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build declarations: %w", err)
	}
	h.reg = reg

	st, err := store.Open(":memory:", reg, store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Store: st, Registry: reg, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"events", len(result.Trace))
	return result, nil
}

// build compiles the declaration files and builds the registry with the
// scenario's language active.
func (h *Harness) build(scenario *Scenario) (*schema.Registry, error) {
	decls, err := loadDeclarations(scenario.Declarations)
	if err != nil {
		return nil, err
	}

	tracker, err := locale.NewTracker(locale.DefaultLanguages...)
	if err != nil {
		return nil, err
	}
	if scenario.Lang != "" {
		if _, err := tracker.Activate(scenario.Lang); err != nil {
			return nil, err
		}
	}
	funcs, err := compositefk.NewFuncRegistry()
	if err != nil {
		return nil, err
	}
	if err := tracker.Register(funcs); err != nil {
		return nil, err
	}

	return compiler.Build(decls, compiler.WithFuncs(funcs), compiler.WithLogger(h.logger))
}

// loadDeclarations compiles CUE and YAML declaration files in order.
func loadDeclarations(paths []string) ([]compiler.EntityDecl, error) {
	var decls []compiler.EntityDecl
	cueCtx := cuecontext.New()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			ds, err := compiler.CompileYAML(path, data)
			if err != nil {
				return nil, err
			}
			decls = append(decls, ds...)

		case ".cue":
			v := cueCtx.CompileBytes(data, cue.Filename(path))
			if err := v.Err(); err != nil {
				return nil, fmt.Errorf("compile %s: %w", path, err)
			}
			iter, err := v.LookupPath(cue.ParsePath("entity")).Fields()
			if err != nil {
				return nil, fmt.Errorf("%s: entity: %w", path, err)
			}
			for iter.Next() {
				d, err := compiler.CompileEntity(iter.Value())
				if err != nil {
					return nil, fmt.Errorf("%s: %w", path, err)
				}
				decls = append(decls, *d)
			}

		default:
			return nil, fmt.Errorf("%s: unsupported declaration file type", path)
		}
	}
	return decls, nil
}

// executeSetup runs all setup inserts. Setup inserts must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []InsertStep, result *Result) error {
	for i, step := range setup {
		event, err := h.insert(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if event.Outcome != OutcomeOK {
			return fmt.Errorf("setup step %d: insert %s: %v", i, step.Insert, event.Result)
		}
		result.AddTrace(event)
	}
	return nil
}

// executeFlow runs all flow steps and checks their expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		var (
			event TraceEvent
			out   stepOutput
			err   error
		)
		switch step.Op() {
		case OpInsert:
			event, err = h.insert(ctx, step.InsertStep)
		case OpResolve:
			event, out, err = h.resolve(ctx, step)
		case OpReverse:
			event, out, err = h.reverse(ctx, step)
		case OpAssign:
			event, err = h.assign(ctx, step)
		case OpDelete:
			event, out, err = h.delete(ctx, step)
		default:
			err = fmt.Errorf("no operation")
		}
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddTrace(event)

		if step.Expect != nil {
			for _, msg := range checkExpect(step, event, out) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, event.Key(), msg))
			}
		}

		h.logger.Info("flow step completed",
			"step", i,
			"op", event.Op,
			"subject", event.Subject,
			"outcome", event.Outcome)
	}
	return nil
}

func (h *Harness) newEvent(op, subject, row string) TraceEvent {
	return TraceEvent{Seq: h.seq.Next(), Op: op, Subject: subject, Row: row, Outcome: OutcomeOK}
}

func (h *Harness) insert(ctx context.Context, step InsertStep) (TraceEvent, error) {
	e, ok := h.reg.Entity(step.Insert)
	if !ok {
		return TraceEvent{}, fmt.Errorf("insert: unknown entity %q", step.Insert)
	}

	inst := schema.NewInstance(e)
	for _, col := range sortedKeys(step.Values) {
		v, err := convertToIRValue(step.Values[col])
		if err != nil {
			return TraceEvent{}, fmt.Errorf("insert %s: column %q: %w", e.Name, col, err)
		}
		if err := inst.Set(col, v); err != nil {
			return TraceEvent{}, fmt.Errorf("insert %s: %w", e.Name, err)
		}
	}

	event := h.newEvent(OpInsert, e.Name, step.As)
	if _, err := h.store.Insert(ctx, inst); err != nil {
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, nil
	}
	h.remember(step.As, inst)
	event.Result = inst.Values()
	return event, nil
}

func (h *Harness) resolve(ctx context.Context, step FlowStep) (TraceEvent, stepOutput, error) {
	entity, field, _ := strings.Cut(step.Resolve, ".")
	acc, err := compositefk.NewAccessor(h.reg, entity, field, h.store)
	if err != nil {
		return TraceEvent{}, stepOutput{}, err
	}
	inst, err := h.load(ctx, step.Row)
	if err != nil {
		return TraceEvent{}, stepOutput{}, err
	}

	event := h.newEvent(OpResolve, step.Resolve, step.Row)
	ref, err := acc.Get(ctx, inst)
	switch {
	case compositefk.IsRelatedObjectNotFound(err):
		event.Outcome = OutcomeNotFound
		event.Result = err.Error()
		return event, stepOutput{}, nil
	case err != nil:
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, stepOutput{}, nil
	case ref == nil:
		event.Outcome = OutcomeAbsent
		return event, stepOutput{}, nil
	}

	label := h.labelOf(ref)
	event.Result = label
	return event, stepOutput{row: label}, nil
}

func (h *Harness) reverse(ctx context.Context, step FlowStep) (TraceEvent, stepOutput, error) {
	entity, field, _ := strings.Cut(step.Reverse, ".")
	ra, err := compositefk.NewReverseAccessor(h.reg, entity, field, h.store)
	if err != nil {
		return TraceEvent{}, stepOutput{}, err
	}
	remote, err := h.load(ctx, step.Row)
	if err != nil {
		return TraceEvent{}, stepOutput{}, err
	}

	event := h.newEvent(OpReverse, step.Reverse, step.Row)
	rows, err := ra.All(ctx, remote)
	if err != nil {
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, stepOutput{}, nil
	}

	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = h.labelOf(r)
	}
	event.Result = labels
	return event, stepOutput{rows: labels}, nil
}

func (h *Harness) assign(ctx context.Context, step FlowStep) (TraceEvent, error) {
	entity, field, _ := strings.Cut(step.Assign, ".")
	acc, err := compositefk.NewAccessor(h.reg, entity, field, h.store)
	if err != nil {
		return TraceEvent{}, err
	}
	inst, err := h.load(ctx, step.Row)
	if err != nil {
		return TraceEvent{}, err
	}
	var target *schema.Instance
	if step.Target != "" {
		if target, err = h.load(ctx, step.Target); err != nil {
			return TraceEvent{}, err
		}
	}

	event := h.newEvent(OpAssign, step.Assign, step.Row)
	if err := acc.Set(inst, target); err != nil {
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, nil
	}
	if err := h.store.Update(ctx, inst); err != nil {
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, nil
	}
	h.remember(step.Row, inst)
	event.Result = inst.Values()
	return event, nil
}

func (h *Harness) delete(ctx context.Context, step FlowStep) (TraceEvent, stepOutput, error) {
	inst, err := h.load(ctx, step.Delete)
	if err != nil {
		return TraceEvent{}, stepOutput{}, err
	}

	event := h.newEvent(OpDelete, step.Delete, step.Delete)
	sum, err := h.store.Delete(ctx, inst)
	if err != nil {
		event.Outcome = OutcomeError
		event.Result = err.Error()
		return event, stepOutput{}, nil
	}
	event.Result = map[string]any{
		"deleted": countsToAny(sum.Deleted),
		"updated": countsToAny(sum.Updated),
	}
	return event, stepOutput{summary: sum}, nil
}

// remember labels inst. Labels are assigned once; later calls refresh the
// stored version.
func (h *Harness) remember(label string, inst *schema.Instance) {
	if _, ok := h.rows[label]; !ok {
		h.order = append(h.order, label)
	}
	h.rows[label] = inst
}

// load reads the current row behind label from the store.
func (h *Harness) load(ctx context.Context, label string) (*schema.Instance, error) {
	inst, ok := h.rows[label]
	if !ok {
		return nil, fmt.Errorf("unknown row label %q", label)
	}
	pk, ok := inst.PK().(ir.IRInt)
	if !ok {
		return nil, fmt.Errorf("row %q has no primary key", label)
	}

	fresh, err := h.store.Get(ctx, inst.Entity.Name, int64(pk))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("row %q no longer exists", label)
	}
	if err != nil {
		return nil, err
	}
	h.rows[label] = fresh
	return fresh, nil
}

// labelOf returns the label of the row inst was loaded from, or its
// Entity(pk) form when the row was never labelled.
func (h *Harness) labelOf(inst *schema.Instance) string {
	for _, label := range h.order {
		known := h.rows[label]
		if known.Entity.Name == inst.Entity.Name && ir.Equal(known.PK(), inst.PK()) {
			return label
		}
	}
	return inst.String()
}

// checkExpect compares a step's outcome with its expect clause.
func checkExpect(step FlowStep, event TraceEvent, out stepOutput) []string {
	exp := step.Expect
	if event.Outcome != exp.Outcome {
		msg := fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, event.Outcome)
		if s, ok := event.Result.(string); ok && event.Outcome != OutcomeOK {
			msg += ": " + s
		}
		return []string{msg}
	}

	var errs []string
	if exp.Row != "" && out.row != exp.Row {
		errs = append(errs, fmt.Sprintf("expected row %s, got %s", exp.Row, out.row))
	}
	if exp.Rows != nil && !equalStrings(exp.Rows, out.rows) {
		errs = append(errs, fmt.Sprintf("expected rows %v, got %v", exp.Rows, out.rows))
	}
	if exp.Deleted != nil && !equalCounts(exp.Deleted, out.summary.Deleted) {
		errs = append(errs, fmt.Sprintf("expected deleted %v, got %v", exp.Deleted, out.summary.Deleted))
	}
	if exp.Updated != nil && !equalCounts(exp.Updated, out.summary.Updated) {
		errs = append(errs, fmt.Sprintf("expected updated %v, got %v", exp.Updated, out.summary.Updated))
	}
	return errs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// equalCounts treats a missing entity as zero.
func equalCounts(want, got map[string]int) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	for k, v := range got {
		if want[k] != v {
			return false
		}
	}
	return true
}

func countsToAny(counts map[string]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
