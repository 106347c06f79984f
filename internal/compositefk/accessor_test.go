package compositefk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/schema"
	"github.com/roach88/compositefk/internal/testutil"
)

func TestAccessor_GetResolvesAndCaches(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	addr := f.engine.Insert(f.newAddress(3, 7, "C", "Lyon"))
	f.engine.Insert(f.newAddress(3, 7, "S", "Supplier street"))
	customer := f.newCustomer(3, 7, "Alice")
	a := f.accessor(t, "Customer", "address")

	got, err := a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Same(t, addr, got)
	assert.Equal(t, 1, f.engine.Calls())

	got, err = a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Same(t, addr, got)
	assert.Equal(t, 1, f.engine.Calls(), "second get is a cache hit")
	assert.Equal(t, schema.Resolved, customer.Slot("address").State)
}

func TestAccessor_GetAbsentBySentinelIssuesNoQuery(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	f.engine.Insert(f.newAddress(-1, 7, "C", "Nowhere"))
	customer := f.newCustomer(-1, 7, "Ghost")
	a := f.accessor(t, "Customer", "address")

	got, err := a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, f.engine.Calls())
	assert.Equal(t, schema.Absent, customer.Slot("address").State)

	got, err = a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, f.engine.Calls())
}

func TestAccessor_GetMissingRow(t *testing.T) {
	f := newFixtures(t)
	customer := f.newCustomer(3, 99, "Lost")
	a := f.accessor(t, "Customer", "address")

	got, err := a.Get(context.Background(), customer)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, IsRelatedObjectNotFound(err))
	assert.Equal(t, "Customer.address: related Address does not exist", err.Error())

	var nf *RelatedObjectNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.NotNil(t, nf.Query)
	assert.Equal(t, schema.Unresolved, customer.Slot("address").State, "misses are not cached")
}

func TestAccessor_GetManyRowsIsConfigurationError(t *testing.T) {
	f := newFixtures(t)
	f.engine.Insert(f.newCustomer(1, 5, "First"))
	f.engine.Insert(f.newCustomer(1, 5, "Duplicate"))
	contact := f.newContact(1, 5, "Doe")
	a := f.accessor(t, "Contact", "customer")

	_, err := a.Get(context.Background(), contact)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "matched 2 rows")
}

func TestAccessor_EngineErrorPassedThrough(t *testing.T) {
	f := newFixtures(t)
	boom := errors.New("database is locked")
	f.engine.Err = boom
	a := f.accessor(t, "Contact", "customer")

	_, err := a.Get(context.Background(), f.newContact(1, 5, "Doe"))
	assert.Same(t, boom, err)
}

func TestAccessor_NullLocalColumn(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()

	// Nullable reference: absent without a query.
	supplier := schema.NewInstance(f.supplier).MustSet("company", ir.IRInt(1))
	got, err := f.accessor(t, "Supplier", "translation").Get(ctx, supplier)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Required reference: missing without a query.
	contact := schema.NewInstance(f.contact).MustSet("company_code", ir.IRInt(1))
	_, err = f.accessor(t, "Contact", "customer").Get(ctx, contact)
	assert.True(t, IsRelatedObjectNotFound(err))

	assert.Equal(t, 0, f.engine.Calls())
}

func TestAccessor_SetThenGetNeedsNoQuery(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	rep := f.engine.Insert(f.newRepresentant(1, "DB"))
	customer := f.newCustomer(1, 2, "Carol")
	a := f.accessor(t, "Customer", "representant")

	require.NoError(t, a.Set(customer, rep))
	assert.Equal(t, ir.IRString("DB"), customer.Get("cod_rep"))

	got, err := a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Same(t, rep, got)
	assert.Equal(t, 0, f.engine.Calls())
}

func TestAccessor_SetAbsentThenGetNeedsNoQuery(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	rep := f.engine.Insert(f.newRepresentant(1, "DB"))
	customer := f.newCustomer(1, 2, "Carol").MustSet("cod_rep", ir.IRString("DB"))
	a := f.accessor(t, "Customer", "representant")

	got, err := a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Same(t, rep, got)
	f.engine.ResetCalls()

	require.NoError(t, a.Set(customer, nil))
	assert.Equal(t, ir.IRString(""), customer.Get("cod_rep"))
	assert.Equal(t, ir.IRInt(1), customer.Get("company"), "narrowed clear keeps company")

	got, err = a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, f.engine.Calls())

	// After invalidation the sentinel still collapses the reference.
	customer.Invalidate("representant")
	got, err = a.Get(ctx, customer)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, f.engine.Calls())
}

func TestAccessor_SetInvalidatesOldReverseSlot(t *testing.T) {
	f := newFixtures(t)
	oldCustomer := f.newCustomer(1, 1, "Old")
	oldCustomer.MustSet("id", ir.IRInt(1))
	newCustomer := f.newCustomer(1, 2, "New")
	extra := schema.NewInstance(f.extra)
	a := f.accessor(t, "Extra", "customer")

	require.NoError(t, a.Set(extra, oldCustomer))
	assert.Equal(t, schema.Resolved, oldCustomer.Slot("extra").State, "unique mapping caches the reverse side")
	assert.Same(t, extra, oldCustomer.Slot("extra").Ref)

	require.NoError(t, a.Set(extra, newCustomer))
	assert.Equal(t, schema.Unresolved, oldCustomer.Slot("extra").State)
	assert.Same(t, extra, newCustomer.Slot("extra").Ref)
	assert.Equal(t, ir.IRInt(2), extra.Get("customer_id"))
}

func TestAccessor_SameRowKeepsReverseSlot(t *testing.T) {
	f := newFixtures(t)
	customer := f.newCustomer(1, 1, "Old").MustSet("id", ir.IRInt(1))
	reloaded := f.newCustomer(1, 1, "Old").MustSet("id", ir.IRInt(1))
	extra := schema.NewInstance(f.extra)
	a := f.accessor(t, "Extra", "customer")

	require.NoError(t, a.Set(extra, customer))
	require.NoError(t, a.Set(extra, reloaded))

	assert.Equal(t, schema.Resolved, customer.Slot("extra").State, "same row, slot kept")
	assert.Same(t, extra, reloaded.Slot("extra").Ref)
}

func TestAccessor_FailedSetLeavesInstanceUnchanged(t *testing.T) {
	m := MustNew("R", []Pairing{
		{Remote: "a", Part: Local("a")},
		{Remote: "b", Part: Local("b")},
	}, Nullable())
	local := schema.MustEntity("L",
		schema.Field{Name: "a", Kind: schema.KindInt},
		schema.Field{Name: "b", Kind: schema.KindInt},
		schema.Field{Name: "ref", Kind: schema.KindReference, Reference: m},
	)
	remote := schema.MustEntity("R",
		schema.Field{Name: "a", Kind: schema.KindInt},
		schema.Field{Name: "b", Kind: schema.KindString},
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(local, remote))
	engine := testutil.NewMemoryEngine()
	a, err := NewAccessor(reg, "L", "ref", engine)
	require.NoError(t, err)

	old := engine.Insert(schema.NewInstance(remote).MustSet("a", ir.IRInt(1)))
	bad := schema.NewInstance(remote).MustSet("a", ir.IRInt(2)).MustSet("b", ir.IRString("x"))
	inst := schema.NewInstance(local)

	require.NoError(t, a.Set(inst, old))
	assert.Equal(t, schema.Resolved, inst.Slot("ref").State)

	err = a.Set(inst, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `L.b: "x" is not a int`)

	assert.Equal(t, ir.IRInt(1), inst.Get("a"), "no column written")
	assert.True(t, ir.IsNull(inst.Get("b")))
	assert.Equal(t, schema.Unresolved, inst.Slot("ref").State, "stale outcome dropped")

	got, err := a.Get(context.Background(), inst)
	require.NoError(t, err)
	assert.Nil(t, got, "null local column resolves afresh to absent")
}

func TestAccessor_NonUniqueDoesNotCacheReverse(t *testing.T) {
	f := newFixtures(t)
	customer := f.newCustomer(1, 5, "Dan")
	contact := schema.NewInstance(f.contact)

	require.NoError(t, f.accessor(t, "Contact", "customer").Set(contact, customer))
	assert.Equal(t, schema.Unresolved, customer.Slot("contacts").State)
	assert.Equal(t, ir.IRInt(5), contact.Get("customer_code"))
	assert.Equal(t, ir.IRInt(1), contact.Get("company_code"))
}

func TestAccessor_WrongEntities(t *testing.T) {
	f := newFixtures(t)
	a := f.accessor(t, "Customer", "address")

	_, err := a.Get(context.Background(), f.newContact(1, 1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used on a Contact instance")

	err = a.Set(f.newCustomer(1, 1, "x"), f.newRepresentant(1, "DB"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must reference Address")

	_, err = a.Get(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewAccessor_Errors(t *testing.T) {
	f := newFixtures(t)

	_, err := NewAccessor(f.reg, "Nope", "address", f.engine)
	assert.True(t, schema.IsNotFound(err))

	_, err = NewAccessor(f.reg, "Customer", "nope", f.engine)
	assert.True(t, schema.IsNotFound(err))

	_, err = NewAccessor(f.reg, "Customer", "name", f.engine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a composite reference")

	orphan := schema.MustEntity("Orphan",
		schema.Field{Name: "x", Kind: schema.KindInt},
		schema.Field{Name: "ghost", Kind: schema.KindReference, Reference: MustNew("Ghost", []string{"x"})},
	)
	require.NoError(t, f.reg.Register(orphan))
	_, err = NewAccessor(f.reg, "Orphan", "ghost", f.engine)
	assert.True(t, schema.IsNotFound(err))

	a := f.accessor(t, "Customer", "address")
	assert.Equal(t, "address", a.Field())
	assert.Same(t, f.customerAddress, a.Mapping())
}

func TestReverseAccessor_All(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	customer := f.engine.Insert(f.newCustomer(1, 5, "Eve"))
	c1 := f.engine.Insert(f.newContact(1, 5, "One"))
	f.engine.Insert(f.newContact(2, 5, "Other company"))
	c2 := f.engine.Insert(f.newContact(1, 5, "Two"))

	r := f.reverse(t, "Contact", "customer")
	assert.Equal(t, "contacts", r.Name())

	rows, err := r.All(ctx, customer)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Same(t, c1, rows[0])
	assert.Same(t, c2, rows[1])

	_, err = r.All(ctx, f.newContact(1, 5, "not a customer"))
	assert.Error(t, err)
}

func TestReverseAccessor_OneCaches(t *testing.T) {
	f := newFixtures(t)
	ctx := context.Background()
	customer := f.engine.Insert(f.newCustomer(1, 5, "Eve"))
	extra := f.engine.Insert(schema.NewInstance(f.extra).
		MustSet("company", ir.IRInt(1)).
		MustSet("customer_id", ir.IRInt(5)))
	r := f.reverse(t, "Extra", "customer")

	got, err := r.One(ctx, customer)
	require.NoError(t, err)
	assert.Same(t, extra, got)
	assert.Same(t, customer, extra.Slot("customer").Ref, "forward side cached too")

	_, err = r.One(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, 1, f.engine.Calls())

	lonely := f.engine.Insert(f.newCustomer(1, 6, "Lonely"))
	got, err = r.One(ctx, lonely)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, schema.Absent, lonely.Slot("extra").State)
}

func TestReverseAccessor_OneRequiresUnique(t *testing.T) {
	f := newFixtures(t)
	customer := f.engine.Insert(f.newCustomer(1, 5, "Eve"))

	_, err := f.reverse(t, "Contact", "customer").One(context.Background(), customer)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestReverseAccessor_OneManyRows(t *testing.T) {
	f := newFixtures(t)
	customer := f.engine.Insert(f.newCustomer(1, 5, "Eve"))
	for i := 0; i < 2; i++ {
		f.engine.Insert(schema.NewInstance(f.extra).
			MustSet("company", ir.IRInt(1)).
			MustSet("customer_id", ir.IRInt(5)))
	}

	_, err := f.reverse(t, "Extra", "customer").One(context.Background(), customer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 rows reference")
}
