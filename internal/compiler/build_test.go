package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/locale"
	"github.com/roach88/compositefk/internal/schema"
)

func mappingOf(t *testing.T, reg *schema.Registry, entity, field string) *compositefk.Mapping {
	t.Helper()
	f, err := reg.GetField(entity, field)
	require.NoError(t, err)
	m, ok := f.Reference.(*compositefk.Mapping)
	require.True(t, ok, "%s.%s is not a composite reference", entity, field)
	return m
}

func TestBuild(t *testing.T) {
	decls, err := CompileYAML("models.yaml", []byte(customerYAML))
	require.NoError(t, err)

	reg, err := Build(decls)
	require.NoError(t, err)

	entities := reg.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "Address", entities[0].Name)
	assert.Equal(t, "Customer", entities[1].Name)
	assert.Equal(t, "customer", entities[1].Table)

	city, ok := entities[0].Field("city")
	require.True(t, ok)
	assert.Equal(t, schema.KindString, city.Kind)
	assert.True(t, city.Nullable)

	m := mappingOf(t, reg, "Customer", "address")
	assert.Equal(t, "Address", m.RemoteEntity())
	assert.True(t, m.IsUnique())
	assert.False(t, m.IsNullable())
	assert.Equal(t, compositefk.Cascade, m.OnDeleteAction())

	pairs := m.Pairings()
	require.Len(t, pairs, 3)
	assert.Equal(t, compositefk.Local("company"), pairs[0].Part)
	assert.Equal(t, compositefk.RawValue{Value: ir.IRString("C")}, pairs[2].Part)

	assert.Empty(t, compositefk.CheckAll(reg))
}

func TestBuildMatchesHandWrittenMapping(t *testing.T) {
	ref := addressRef()
	ref.Null = true
	ref.NullIfEqual = []SentinelDecl{{Field: "customer_id", Value: ir.IRInt(0)}}
	ref.NullableFields = []NullableDecl{{Field: "customer_id", Null: ir.IRInt(0)}}
	ref.RelatedName = "customers"
	ref.OnDelete = "SET_NULL"

	m, err := BuildMapping(ref, nil, nil)
	require.NoError(t, err)

	want := compositefk.MustNew("Address", []compositefk.Pairing{
		{Remote: "company", Part: compositefk.Local("company")},
		{Remote: "customer_id", Part: compositefk.Local("customer_id")},
		{Remote: "type", Part: compositefk.Raw("C")},
	},
		compositefk.Nullable(),
		compositefk.WithNullIfEqual("customer_id", ir.IRInt(0)),
		compositefk.WithNullableField("customer_id", ir.IRInt(0)),
		compositefk.RelatedName("customers"),
		compositefk.OnDelete(compositefk.SetNull),
	)
	assert.True(t, m.Equal(want), "got %s, want %s", m, want)
}

func TestBuildComputedValue(t *testing.T) {
	tracker, err := locale.NewTracker("en", "fr")
	require.NoError(t, err)
	funcs, err := compositefk.NewFuncRegistry()
	require.NoError(t, err)
	require.NoError(t, tracker.Register(funcs))

	decls := []EntityDecl{
		{Name: "Translation", Fields: []FieldDecl{
			{Name: "item_id", Type: "int"},
			{Name: "lang", Type: "string"},
			{Name: "label", Type: "string"},
		}},
		{Name: "Item", Fields: []FieldDecl{
			{Name: "code", Type: "int"},
			{Name: "label", Reference: &ReferenceDecl{
				Remote: "Translation",
				ToFields: []PairDecl{
					{Remote: "item_id", Local: "code"},
					{Remote: "lang", Computed: locale.FuncName},
				},
				Null: true,
			}},
		}},
	}

	reg, err := Build(decls, WithFuncs(funcs))
	require.NoError(t, err)

	m := mappingOf(t, reg, "Item", "label")
	part, ok := m.Pairings()[1].Part.(compositefk.ComputedValue)
	require.True(t, ok)
	assert.Same(t, tracker.ValueFunc(), part.Func)

	assert.Equal(t, ir.IRString("en"), part.Func.Call())
	_, err = tracker.Activate("fr-CA")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("fr"), part.Func.Call())
}

func TestBuildRejectsInvalidDeclarations(t *testing.T) {
	_, err := Build([]EntityDecl{{Name: "Empty"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 declaration errors")
	assert.Contains(t, err.Error(), ErrEntityNoFields)

	var verr ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBuildUnknownValueFunc(t *testing.T) {
	ref := addressRef()
	ref.ToFields[2] = PairDecl{Remote: "type", Computed: "missing"}
	decls := []EntityDecl{addressDecl(), customerDecl(ref)}

	// Checked by Validate when a registry is given
	funcs, err := compositefk.NewFuncRegistry()
	require.NoError(t, err)
	_, err = Build(decls, WithFuncs(funcs))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownValueFunc)

	// Otherwise by the mapping builder
	_, err = Build(decls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entity Customer: field address`)
	assert.Contains(t, err.Error(), `unknown value function "missing"`)
}

func TestBuildMappingErrors(t *testing.T) {
	ref := addressRef()
	ref.OnDelete = "SET_NULL"

	_, err := Build([]EntityDecl{addressDecl(), customerDecl(ref)})
	require.Error(t, err)
	assert.True(t, compositefk.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "SET_NULL requires a nullable reference")

	ref = addressRef()
	ref.ToFields = []PairDecl{{Remote: "type", Raw: ir.IRString("C")}}
	_, err = BuildMapping(ref, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one pairing must use a local column")
}

func TestBuildLeavesCrossEntityChecksToCheckAll(t *testing.T) {
	ref := addressRef()
	ref.Remote = "Adress"

	reg, err := Build([]EntityDecl{addressDecl(), customerDecl(ref)})
	require.NoError(t, err)

	diags := compositefk.CheckAll(reg)
	require.NotEmpty(t, diags)
	assert.Equal(t, compositefk.DiagUnknownRemoteColumn, diags[0].ID)
}
