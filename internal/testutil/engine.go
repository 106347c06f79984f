package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// MemoryEngine is an in-memory query engine for tests. It evaluates Select
// queries against inserted instances and records every query it executes.
//
// Rows are returned in insertion order, which is primary key order.
type MemoryEngine struct {
	mu      sync.Mutex
	keys    *KeySequence
	tables  map[string][]*schema.Instance
	queries []queryir.Query

	// Err, when set, is returned by every Execute call.
	Err error
}

// NewMemoryEngine creates an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		keys:   NewKeySequence(),
		tables: make(map[string][]*schema.Instance),
	}
}

// Insert stores inst, assigning a primary key when it has none.
// The stored row is inst itself, so Execute returns the same pointer.
func (e *MemoryEngine) Insert(inst *schema.Instance) *schema.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ir.IsNull(inst.PK()) {
		inst.MustSet(schema.PrimaryKey, ir.IRInt(e.keys.Next()))
	}
	table := inst.Entity.Table
	e.tables[table] = append(e.tables[table], inst)
	return inst
}

// Execute implements compositefk.QueryEngine.
func (e *MemoryEngine) Execute(_ context.Context, q queryir.Query) ([]*schema.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queries = append(e.queries, q)
	if e.Err != nil {
		return nil, e.Err
	}

	sel, ok := q.(queryir.Select)
	if !ok {
		return nil, fmt.Errorf("memory engine: unsupported query type %T", q)
	}

	var out []*schema.Instance
	for _, row := range e.tables[sel.From] {
		match, err := Matches(sel.Filter, row)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

// Calls returns the number of Execute calls.
func (e *MemoryEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// Queries returns the executed queries in order.
func (e *MemoryEngine) Queries() []queryir.Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]queryir.Query, len(e.queries))
	copy(out, e.queries)
	return out
}

// ResetCalls forgets the recorded queries.
func (e *MemoryEngine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = nil
}

// Matches evaluates a predicate against one row with SQL equality: NULL
// never equals anything.
func Matches(p queryir.Predicate, row *schema.Instance) (bool, error) {
	switch pred := p.(type) {
	case nil:
		return true, nil
	case queryir.Equals:
		v := row.Get(pred.Field)
		if ir.IsNull(v) || ir.IsNull(pred.Value) {
			return false, nil
		}
		return ir.Equal(v, pred.Value), nil
	case queryir.And:
		for _, sub := range pred.Predicates {
			ok, err := Matches(sub, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case queryir.Or:
		for _, sub := range pred.Predicates {
			ok, err := Matches(sub, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("memory engine: unsupported predicate %T", p)
	}
}
