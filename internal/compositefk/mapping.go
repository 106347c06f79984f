package compositefk

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
)

// Pairing binds a remote column to the source of its value.
type Pairing struct {
	Remote string
	Part   Part
}

// Sentinel is a local field value that collapses the reference to absent.
type Sentinel struct {
	Field string
	Value ir.IRValue
}

// NullableField is a local field reset when the reference is cleared,
// together with the value it is reset to.
type NullableField struct {
	Field string
	Null  ir.IRValue
}

// ColumnPair is one physical join condition: remote column = local column.
type ColumnPair struct {
	Remote string
	Local  string
}

// OnDeleteAction is what happens to local rows when the row they reference
// is deleted.
type OnDeleteAction string

const (
	Cascade   OnDeleteAction = "CASCADE"
	SetNull   OnDeleteAction = "SET_NULL"
	DoNothing OnDeleteAction = "DO_NOTHING"
)

// Mapping is a composite reference from a local entity to a remote entity.
//
// A Mapping is immutable once built and safe to share between goroutines.
// It satisfies schema.Reference so it can be attached to a reference field.
type Mapping struct {
	remote      string
	pairs       []Pairing
	nullIfEqual []Sentinel
	nullable    []NullableField

	nullRef     bool
	unique      bool
	relatedName string
	onDelete    OnDeleteAction

	logger *slog.Logger
}

// Option configures a Mapping.
type Option func(*Mapping)

// WithNullIfEqual collapses the reference to absent while the local field
// equals value. Sentinels are checked in the order they are added.
func WithNullIfEqual(field string, value ir.IRValue) Option {
	return func(m *Mapping) {
		m.nullIfEqual = append(m.nullIfEqual, Sentinel{Field: field, Value: value})
	}
}

// WithNullableFields narrows clearing to fields, each reset to NULL.
func WithNullableFields(fields ...string) Option {
	return func(m *Mapping) {
		for _, f := range fields {
			m.nullable = append(m.nullable, NullableField{Field: f, Null: ir.IRNull{}})
		}
	}
}

// WithNullableField narrows clearing to field, reset to null.
func WithNullableField(field string, null ir.IRValue) Option {
	return func(m *Mapping) {
		m.nullable = append(m.nullable, NullableField{Field: field, Null: null})
	}
}

// Nullable lets the reference hold no value.
func Nullable() Option {
	return func(m *Mapping) { m.nullRef = true }
}

// Unique declares that at most one local row references a remote row.
func Unique() Option {
	return func(m *Mapping) { m.unique = true }
}

// RelatedName names the reverse relation on the remote entity.
func RelatedName(name string) Option {
	return func(m *Mapping) { m.relatedName = name }
}

// OnDelete sets the deletion behaviour. The default is Cascade.
func OnDelete(action OnDeleteAction) Option {
	return func(m *Mapping) { m.onDelete = action }
}

// WithLogger sets the logger used by accessors of the mapping.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapping) { m.logger = logger }
}

// New builds a mapping to the remote entity.
//
// toFields declares the pairings. Accepted shapes:
//   - []Pairing, in order
//   - []string, each name being both the remote and the local column
//   - map[string]string, remote column to local column
//   - map[string]Part
//   - map[string]any holding strings and Parts
//
// Map keys are sorted since Go maps carry no order. Bare strings become
// LocalColumn parts.
func New(remote string, toFields any, opts ...Option) (*Mapping, error) {
	if remote == "" {
		return nil, configErrorf("", "remote entity is required")
	}

	pairs, err := normalize(remote, toFields)
	if err != nil {
		return nil, err
	}

	m := &Mapping{
		remote:   remote,
		pairs:    pairs,
		onDelete: Cascade,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New that panics on error. Intended for fixtures.
func MustNew(remote string, toFields any, opts ...Option) *Mapping {
	m, err := New(remote, toFields, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func normalize(remote string, toFields any) ([]Pairing, error) {
	var pairs []Pairing

	switch fields := toFields.(type) {
	case []Pairing:
		pairs = make([]Pairing, len(fields))
		copy(pairs, fields)
	case []string:
		for _, name := range fields {
			pairs = append(pairs, Pairing{Remote: name, Part: LocalColumn{Name: name}})
		}
	case map[string]string:
		for _, k := range sortedKeys(fields) {
			pairs = append(pairs, Pairing{Remote: k, Part: LocalColumn{Name: fields[k]}})
		}
	case map[string]Part:
		for _, k := range sortedKeys(fields) {
			pairs = append(pairs, Pairing{Remote: k, Part: fields[k]})
		}
	case map[string]any:
		for _, k := range sortedKeys(fields) {
			part, err := toPart(fields[k])
			if err != nil {
				return nil, configErrorf(remote, "remote column %s: %v", k, err)
			}
			pairs = append(pairs, Pairing{Remote: k, Part: part})
		}
	case nil:
		return nil, configErrorf(remote, "to_fields is required")
	default:
		return nil, configErrorf(remote, "to_fields must be a sequence or a mapping, got %T", toFields)
	}

	if len(pairs) == 0 {
		return nil, configErrorf(remote, "to_fields declares no pairing")
	}
	return pairs, nil
}

func toPart(v any) (Part, error) {
	switch val := v.(type) {
	case string:
		return LocalColumn{Name: val}, nil
	case Part:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported value %T, want a column name or a Part", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validate checks the declaration shape. Whether names exist in the
// schemas is left to Check.
func (m *Mapping) validate() error {
	seen := make(map[string]bool, len(m.pairs))
	hasLocal := false

	for _, p := range m.pairs {
		if p.Remote == "" {
			return configErrorf(m.remote, "remote column name is empty")
		}
		if seen[p.Remote] {
			return configErrorf(m.remote, "remote column %s is paired twice", p.Remote)
		}
		seen[p.Remote] = true

		switch part := p.Part.(type) {
		case LocalColumn:
			if part.Name == "" {
				return configErrorf(m.remote, "remote column %s: local column name is empty", p.Remote)
			}
			hasLocal = true
		case RawValue:
			if ir.IsNull(part.Value) || !ir.IsScalar(part.Value) {
				return configErrorf(m.remote, "remote column %s: raw value must be a non-null scalar, got %s", p.Remote, ir.Format(part.Value))
			}
		case ComputedValue:
			if part.Func == nil {
				return configErrorf(m.remote, "remote column %s: computed value without function", p.Remote)
			}
		case nil:
			return configErrorf(m.remote, "remote column %s has no value", p.Remote)
		default:
			return configErrorf(m.remote, "remote column %s: unsupported part %T", p.Remote, p.Part)
		}
	}

	if !hasLocal {
		return configErrorf(m.remote, "at least one pairing must use a local column")
	}

	sentinels := make(map[string]bool, len(m.nullIfEqual))
	for _, s := range m.nullIfEqual {
		if s.Field == "" {
			return configErrorf(m.remote, "null_if_equal entry without field")
		}
		if sentinels[s.Field] {
			return configErrorf(m.remote, "null_if_equal names %s twice", s.Field)
		}
		if !ir.IsScalar(s.Value) {
			return configErrorf(m.remote, "null_if_equal %s: sentinel must be a scalar", s.Field)
		}
		sentinels[s.Field] = true
	}

	nullable := make(map[string]bool, len(m.nullable))
	for i, nf := range m.nullable {
		if nf.Field == "" {
			return configErrorf(m.remote, "nullable_fields entry without field")
		}
		if nullable[nf.Field] {
			return configErrorf(m.remote, "nullable_fields names %s twice", nf.Field)
		}
		if nf.Null == nil {
			m.nullable[i].Null = ir.IRNull{}
		} else if !ir.IsScalar(nf.Null) {
			return configErrorf(m.remote, "nullable_fields %s: null value must be a scalar", nf.Field)
		}
		nullable[nf.Field] = true
	}

	switch m.onDelete {
	case Cascade, SetNull, DoNothing:
	default:
		return configErrorf(m.remote, "unknown on_delete %q", m.onDelete)
	}
	if m.onDelete == SetNull && !m.nullRef {
		return configErrorf(m.remote, "on_delete SET_NULL requires a nullable reference")
	}

	return nil
}

// RemoteEntity returns the name of the referenced entity.
func (m *Mapping) RemoteEntity() string { return m.remote }

// Pairings returns the pairings in declaration order.
func (m *Mapping) Pairings() []Pairing {
	out := make([]Pairing, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// NullIfEqual returns the sentinels in declaration order.
func (m *Mapping) NullIfEqual() []Sentinel {
	out := make([]Sentinel, len(m.nullIfEqual))
	copy(out, m.nullIfEqual)
	return out
}

// NullableFields returns the fields reset on clear, in declaration order.
func (m *Mapping) NullableFields() []NullableField {
	out := make([]NullableField, len(m.nullable))
	copy(out, m.nullable)
	return out
}

// IsNullable reports whether the reference may be absent.
func (m *Mapping) IsNullable() bool { return m.nullRef }

// IsUnique reports whether the reverse relation is one-to-one.
func (m *Mapping) IsUnique() bool { return m.unique }

// OnDeleteAction returns the deletion behaviour.
func (m *Mapping) OnDeleteAction() OnDeleteAction { return m.onDelete }

// RelatedName returns the reverse relation name for a reference declared on
// localEntity: the configured name, else "<entity>_set".
func (m *Mapping) RelatedName(localEntity string) string {
	if m.relatedName != "" {
		return m.relatedName
	}
	return strings.ToLower(localEntity) + "_set"
}

// Logger returns the mapping's logger.
func (m *Mapping) Logger() *slog.Logger { return m.logger }

// LocalColumns returns the local columns targeted by the mapping, in order.
func (m *Mapping) LocalColumns() []string {
	var cols []string
	for _, p := range m.pairs {
		if lc, ok := p.Part.(LocalColumn); ok {
			cols = append(cols, lc.Name)
		}
	}
	return cols
}

// JoinPairs returns the (remote, local) column pairs of LocalColumn parts in
// declaration order. This is the physical join condition.
func (m *Mapping) JoinPairs() []ColumnPair {
	var out []ColumnPair
	for _, p := range m.pairs {
		if lc, ok := p.Part.(LocalColumn); ok {
			out = append(out, ColumnPair{Remote: p.Remote, Local: lc.Name})
		}
	}
	return out
}

// JoinOn renders JoinPairs as a join condition between the two tables.
func (m *Mapping) JoinOn(localTable, remoteTable string) queryir.And {
	pairs := m.JoinPairs()
	preds := make([]queryir.Predicate, 0, len(pairs))
	for _, cp := range pairs {
		preds = append(preds, queryir.ColumnEquals{
			Left:  queryir.ColumnRef{Table: localTable, Column: cp.Local},
			Right: queryir.ColumnRef{Table: remoteTable, Column: cp.Remote},
		})
	}
	return queryir.And{Predicates: preds}
}

// Equal reports whether two mappings declare the same reference.
// Computed values compare by function identity.
func (m *Mapping) Equal(other *Mapping) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.remote != other.remote ||
		m.nullRef != other.nullRef ||
		m.unique != other.unique ||
		m.relatedName != other.relatedName ||
		m.onDelete != other.onDelete {
		return false
	}

	if len(m.pairs) != len(other.pairs) {
		return false
	}
	for i := range m.pairs {
		if m.pairs[i].Remote != other.pairs[i].Remote || !PartEqual(m.pairs[i].Part, other.pairs[i].Part) {
			return false
		}
	}

	if len(m.nullIfEqual) != len(other.nullIfEqual) {
		return false
	}
	for i := range m.nullIfEqual {
		if m.nullIfEqual[i].Field != other.nullIfEqual[i].Field || !ir.Equal(m.nullIfEqual[i].Value, other.nullIfEqual[i].Value) {
			return false
		}
	}

	if len(m.nullable) != len(other.nullable) {
		return false
	}
	for i := range m.nullable {
		if m.nullable[i].Field != other.nullable[i].Field || !ir.Equal(m.nullable[i].Null, other.nullable[i].Null) {
			return false
		}
	}
	return true
}

// String renders the mapping for logs.
func (m *Mapping) String() string {
	parts := make([]string, 0, len(m.pairs))
	for _, p := range m.pairs {
		parts = append(parts, p.Remote+"="+p.Part.String())
	}
	return fmt.Sprintf("CompositeForeignKey(%s, %s)", m.remote, strings.Join(parts, ", "))
}
