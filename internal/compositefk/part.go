package compositefk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
)

// Part is the value source of one pairing.
//
// This is a sealed interface - only types in this package implement it.
// Part types:
//   - LocalColumn: read from and written to a column of the local entity
//   - RawValue: a constant, used only to filter
//   - ComputedValue: a function called on every resolution, used only to filter
type Part interface {
	part() // Marker method - seals interface to this package
	String() string
}

// LocalColumn takes the value of a column of the local entity.
type LocalColumn struct {
	Name string
}

func (LocalColumn) part() {}

func (p LocalColumn) String() string { return "LocalColumn(" + p.Name + ")" }

// RawValue is a constant the remote column must equal.
type RawValue struct {
	Value ir.IRValue
}

func (RawValue) part() {}

func (p RawValue) String() string { return "RawValue(" + ir.Format(p.Value) + ")" }

// ComputedValue is a value obtained by calling Func at resolution time.
// Two ComputedValues are equal only when they wrap the same *ValueFunc.
type ComputedValue struct {
	Func *ValueFunc
}

func (ComputedValue) part() {}

func (p ComputedValue) String() string {
	if p.Func == nil {
		return "ComputedValue(<nil>)"
	}
	return "ComputedValue(" + p.Func.Name + ")"
}

// Local is shorthand for LocalColumn{Name: name}.
func Local(name string) LocalColumn {
	return LocalColumn{Name: name}
}

// Raw is shorthand for a RawValue of a Go literal.
// It panics on values ir.FromGo rejects.
func Raw(v any) RawValue {
	return RawValue{Value: ir.MustFromGo(v)}
}

// Computed is shorthand for ComputedValue{Func: fn}.
func Computed(fn *ValueFunc) ComputedValue {
	return ComputedValue{Func: fn}
}

// ValueFunc is a named zero-argument value source.
// The name is how declarations refer to the function; identity is the
// pointer.
type ValueFunc struct {
	Name string
	fn   func() ir.IRValue
}

// NewValueFunc wraps fn under name.
func NewValueFunc(name string, fn func() ir.IRValue) *ValueFunc {
	return &ValueFunc{Name: name, fn: fn}
}

// Call invokes the function. A nil function yields NULL.
func (f *ValueFunc) Call() ir.IRValue {
	if f == nil || f.fn == nil {
		return ir.IRNull{}
	}
	v := f.fn()
	if v == nil {
		return ir.IRNull{}
	}
	return v
}

// PartEqual compares two parts without calling computed functions.
func PartEqual(a, b Part) bool {
	switch pa := a.(type) {
	case LocalColumn:
		pb, ok := b.(LocalColumn)
		return ok && pa.Name == pb.Name
	case RawValue:
		pb, ok := b.(RawValue)
		return ok && ir.Equal(pa.Value, pb.Value)
	case ComputedValue:
		pb, ok := b.(ComputedValue)
		return ok && pa.Func == pb.Func
	default:
		return false
	}
}

// FuncRegistry maps names to value functions so declarations can refer to
// computed values.
type FuncRegistry struct {
	funcs map[string]*ValueFunc
}

// NewFuncRegistry creates a registry holding funcs.
func NewFuncRegistry(funcs ...*ValueFunc) (*FuncRegistry, error) {
	r := &FuncRegistry{funcs: make(map[string]*ValueFunc)}
	for _, f := range funcs {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds f. Names must be non-empty and unique.
func (r *FuncRegistry) Register(f *ValueFunc) error {
	if f == nil || f.Name == "" {
		return fmt.Errorf("value function must be named")
	}
	if _, dup := r.funcs[f.Name]; dup {
		return fmt.Errorf("value function %q already registered", f.Name)
	}
	r.funcs[f.Name] = f
	return nil
}

// Lookup returns the function registered under name.
func (r *FuncRegistry) Lookup(name string) (*ValueFunc, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns the registered names, sorted.
func (r *FuncRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available renders the registered names for error messages.
func (r *FuncRegistry) Available() string {
	names := r.Names()
	if len(names) == 0 {
		return "none registered"
	}
	return "registered: " + strings.Join(names, ", ")
}
