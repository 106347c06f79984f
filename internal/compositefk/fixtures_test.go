package compositefk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/schema"
	"github.com/roach88/compositefk/internal/testutil"
)

// fixtures is a customer database: customers and suppliers have addresses
// keyed by (tiers_id, company, type_tiers), contacts belong to customers and
// customers may have a sales representative.
type fixtures struct {
	reg    *schema.Registry
	engine *testutil.MemoryEngine
	lang   *ValueFunc
	code   string

	address, representant, customer, contact, extra *schema.Entity
	supplier, translation                           *schema.Entity

	customerAddress, customerRep, contactCustomer, extraCustomer, supplierTranslation *Mapping
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	f := &fixtures{engine: testutil.NewMemoryEngine(), code: "en"}
	f.lang = NewValueFunc("locale.current", func() ir.IRValue { return ir.IRString(f.code) })

	f.customerAddress = MustNew("Address", []Pairing{
		{Remote: "tiers_id", Part: Local("customer_id")},
		{Remote: "company", Part: Local("company")},
		{Remote: "type_tiers", Part: Raw("C")},
	}, Nullable(), WithNullIfEqual("company", ir.IRInt(-1)))

	f.customerRep = MustNew("Representant", []Pairing{
		{Remote: "cod_rep", Part: Local("cod_rep")},
		{Remote: "company", Part: Local("company")},
	},
		Nullable(),
		WithNullIfEqual("cod_rep", ir.IRString("")),
		WithNullableField("cod_rep", ir.IRString("")),
		OnDelete(SetNull),
	)

	f.contactCustomer = MustNew("Customer", map[string]string{
		"customer_id": "customer_code",
		"company":     "company_code",
	}, RelatedName("contacts"))

	f.extraCustomer = MustNew("Customer", []string{"company", "customer_id"},
		Unique(), RelatedName("extra"))

	f.supplierTranslation = MustNew("SupplierTranslation", []Pairing{
		{Remote: "supplier_id", Part: Local("supplier_id")},
		{Remote: "company", Part: Local("company")},
		{Remote: "lang", Part: Computed(f.lang)},
	}, Nullable(), RelatedName("translations"))

	f.address = schema.MustEntity("Address",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "tiers_id", Kind: schema.KindInt},
		schema.Field{Name: "type_tiers", Kind: schema.KindString},
		schema.Field{Name: "city", Kind: schema.KindString, Default: ir.IRString("")},
	)
	f.representant = schema.MustEntity("Representant",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "cod_rep", Kind: schema.KindString},
		schema.Field{Name: "prenom", Kind: schema.KindString, Default: ir.IRString("")},
	)
	f.customer = schema.MustEntity("Customer",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "customer_id", Kind: schema.KindInt},
		schema.Field{Name: "name", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "cod_rep", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "address", Kind: schema.KindReference, Reference: f.customerAddress},
		schema.Field{Name: "representant", Kind: schema.KindReference, Reference: f.customerRep},
	)
	f.contact = schema.MustEntity("Contact",
		schema.Field{Name: "company_code", Kind: schema.KindInt},
		schema.Field{Name: "customer_code", Kind: schema.KindInt},
		schema.Field{Name: "surname", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "customer", Kind: schema.KindReference, Reference: f.contactCustomer},
	)
	f.extra = schema.MustEntity("Extra",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "customer_id", Kind: schema.KindInt},
		schema.Field{Name: "sales_revenue", Kind: schema.KindInt, Default: ir.IRInt(0)},
		schema.Field{Name: "customer", Kind: schema.KindReference, Reference: f.extraCustomer},
	)
	f.supplier = schema.MustEntity("Supplier",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "supplier_id", Kind: schema.KindInt},
		schema.Field{Name: "translation", Kind: schema.KindReference, Reference: f.supplierTranslation},
	)
	f.translation = schema.MustEntity("SupplierTranslation",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "supplier_id", Kind: schema.KindInt},
		schema.Field{Name: "lang", Kind: schema.KindString},
		schema.Field{Name: "name", Kind: schema.KindString},
	)

	f.reg = schema.NewRegistry()
	require.NoError(t, f.reg.Register(
		f.address, f.representant, f.customer, f.contact, f.extra, f.supplier, f.translation))
	return f
}

func (f *fixtures) newAddress(company, tiers int64, typeTiers, city string) *schema.Instance {
	return schema.NewInstance(f.address).
		MustSet("company", ir.IRInt(company)).
		MustSet("tiers_id", ir.IRInt(tiers)).
		MustSet("type_tiers", ir.IRString(typeTiers)).
		MustSet("city", ir.IRString(city))
}

func (f *fixtures) newRepresentant(company int64, code string) *schema.Instance {
	return schema.NewInstance(f.representant).
		MustSet("company", ir.IRInt(company)).
		MustSet("cod_rep", ir.IRString(code))
}

func (f *fixtures) newCustomer(company, id int64, name string) *schema.Instance {
	return schema.NewInstance(f.customer).
		MustSet("company", ir.IRInt(company)).
		MustSet("customer_id", ir.IRInt(id)).
		MustSet("name", ir.IRString(name))
}

func (f *fixtures) newContact(company, customer int64, surname string) *schema.Instance {
	return schema.NewInstance(f.contact).
		MustSet("company_code", ir.IRInt(company)).
		MustSet("customer_code", ir.IRInt(customer)).
		MustSet("surname", ir.IRString(surname))
}

func (f *fixtures) accessor(t *testing.T, entity, field string) *Accessor {
	t.Helper()
	a, err := NewAccessor(f.reg, entity, field, f.engine)
	require.NoError(t, err)
	return a
}

func (f *fixtures) reverse(t *testing.T, entity, field string) *ReverseAccessor {
	t.Helper()
	r, err := NewReverseAccessor(f.reg, entity, field, f.engine)
	require.NoError(t, err)
	return r
}
