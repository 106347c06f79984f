package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	rows, err := s.Execute(context.Background(), queryir.Select{From: table})
	require.NoError(t, err)
	return len(rows)
}

func TestCollector_CascadeThroughReferences(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	addr := mustInsert(t, s, ts.newAddress(1, 5, "C", "Paris"))
	mustInsert(t, s, ts.newCustomer(1, 5, "Acme", ""))
	mustInsert(t, s, ts.newCustomer(1, 6, "Initech", ""))
	mustInsert(t, s, ts.newContact(1, 5, "Durand"))
	mustInsert(t, s, ts.newContact(1, 5, "Martin"))
	mustInsert(t, s, ts.newContact(1, 6, "Other"))
	mustInsert(t, s, ts.newExtra(1, 5, 1200))

	sum, err := s.Delete(ctx, addr)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"Address": 1, "Customer": 1, "Contact": 2}, sum.Deleted)
	assert.Empty(t, sum.Updated)

	assert.Equal(t, 0, countRows(t, s, "address"))
	assert.Equal(t, 1, countRows(t, s, "customer"))
	assert.Equal(t, 1, countRows(t, s, "contact"))
	assert.Equal(t, 1, countRows(t, s, "extra"), "DO_NOTHING leaves the extra row dangling")
}

func TestCollector_RawValueMustMatchDeletedRow(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	supplier := mustInsert(t, s, ts.newAddress(1, 5, "S", "Lyon"))
	mustInsert(t, s, ts.newAddress(1, 5, "C", "Paris"))
	mustInsert(t, s, ts.newCustomer(1, 5, "Acme", ""))

	sum, err := s.Delete(ctx, supplier)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"Address": 1}, sum.Deleted)
	assert.Equal(t, 1, countRows(t, s, "customer"), "customers only reference type C addresses")
}

func TestCollector_SentinelRowsAreNotReferencing(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	addr := mustInsert(t, s, ts.newAddress(-1, 5, "C", "Nowhere"))
	mustInsert(t, s, ts.newCustomer(-1, 5, "Nobody", ""))

	sum, err := s.Delete(ctx, addr)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"Address": 1}, sum.Deleted)
	assert.Equal(t, 1, countRows(t, s, "customer"), "company -1 means no address")
}

func TestCollector_SetNullWritesNullValues(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	rep := mustInsert(t, s, ts.newRepresentant(1, "DB"))
	mustInsert(t, s, ts.newRepresentant(2, "DB"))
	acme := mustInsert(t, s, ts.newCustomer(1, 5, "Acme", "DB"))
	globex := mustInsert(t, s, ts.newCustomer(2, 5, "Globex", "DB"))

	sum, err := s.Delete(ctx, rep)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"Representant": 1}, sum.Deleted)
	assert.Equal(t, map[string]int{"Customer": 1}, sum.Updated)

	got, err := s.Get(ctx, "Customer", int64(acme.PK().(ir.IRInt)))
	require.NoError(t, err)
	assert.Equal(t, ir.IRString(""), got.Get("cod_rep"))
	assert.Equal(t, ir.IRInt(1), got.Get("company"), "shared column is untouched")

	other, err := s.Get(ctx, "Customer", int64(globex.PK().(ir.IRInt)))
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("DB"), other.Get("cod_rep"), "other company keeps its representative")
}

func TestCollector_SetNullClearsOnlyLocalColumns(t *testing.T) {
	itemShop := compositefk.MustNew("Shop", []compositefk.Pairing{
		{Remote: "company", Part: compositefk.Local("company")},
		{Remote: "code", Part: compositefk.Local("shop_code")},
	}, compositefk.Nullable(), compositefk.OnDelete(compositefk.SetNull))
	shop := schema.MustEntity("Shop",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "code", Kind: schema.KindString},
	)
	item := schema.MustEntity("Item",
		schema.Field{Name: "company", Kind: schema.KindInt, Nullable: true},
		schema.Field{Name: "shop_code", Kind: schema.KindString, Nullable: true},
		schema.Field{Name: "label", Kind: schema.KindString},
		schema.Field{Name: "shop", Kind: schema.KindReference, Reference: itemShop},
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(shop, item))
	s := openWith(t, filepath.Join(t.TempDir(), "shop.db"), reg)
	ctx := context.Background()

	paris := mustInsert(t, s, schema.NewInstance(shop).
		MustSet("company", ir.IRInt(1)).
		MustSet("code", ir.IRString("PAR")))
	chair := mustInsert(t, s, schema.NewInstance(item).
		MustSet("company", ir.IRInt(1)).
		MustSet("shop_code", ir.IRString("PAR")).
		MustSet("label", ir.IRString("chair")))

	sum, err := s.Delete(ctx, paris)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Item": 1}, sum.Updated)

	got, err := s.Get(ctx, "Item", int64(chair.PK().(ir.IRInt)))
	require.NoError(t, err)
	assert.True(t, ir.IsNull(got.Get("company")))
	assert.True(t, ir.IsNull(got.Get("shop_code")))
	assert.Equal(t, ir.IRString("chair"), got.Get("label"), "not a local column")
	assert.Equal(t, chair.PK(), got.PK())
}

func TestCollector_DeletesLeafRow(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	contact := mustInsert(t, s, ts.newContact(1, 5, "Durand"))

	sum, err := NewCollector(s).Delete(ctx, contact)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Contact": 1}, sum.Deleted)

	_, err = s.Get(ctx, "Contact", int64(contact.PK().(ir.IRInt)))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCollector_RequiresPrimaryKey(t *testing.T) {
	s, ts := createTestStore(t)

	_, err := s.Delete(context.Background(), ts.newAddress(1, 5, "C", "Paris"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance has no primary key")
}

func TestCollector_VisitsRowOnce(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	// A node referencing its parent through a composite key, cascading.
	node := schema.MustEntity("Node",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "code", Kind: schema.KindInt},
		schema.Field{Name: "parent_code", Kind: schema.KindInt},
		schema.Field{Name: "parent", Kind: schema.KindReference, Reference: selfReference(t)},
	)
	require.NoError(t, ts.reg.Register(node))
	require.NoError(t, s.createTables(ctx))

	newNode := func(code, parent int64) *schema.Instance {
		return mustInsert(t, s, schema.NewInstance(node).
			MustSet("company", ir.IRInt(1)).
			MustSet("code", ir.IRInt(code)).
			MustSet("parent_code", ir.IRInt(parent)))
	}
	root := newNode(1, 1) // its own parent
	newNode(2, 1)
	newNode(3, 2)

	sum, err := s.Delete(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Node": 3}, sum.Deleted)
}

func selfReference(t *testing.T) *compositefk.Mapping {
	t.Helper()
	m, err := compositefk.New("Node", []compositefk.Pairing{
		{Remote: "company", Part: compositefk.Local("company")},
		{Remote: "code", Part: compositefk.Local("parent_code")},
	}, compositefk.RelatedName("children"))
	require.NoError(t, err)
	return m
}
