package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/schema"
)

// testSchema is a small customer database. Customers reference an address
// (CASCADE, only customer addresses of type "C") and a representative
// (SET_NULL through cod_rep); contacts cascade from customers; extras are
// one-to-one with customers and survive their deletion.
type testSchema struct {
	reg *schema.Registry

	address, representant, customer, contact, extra *schema.Entity

	customerAddress, customerRep, contactCustomer, extraCustomer *compositefk.Mapping
}

func newTestSchema(t *testing.T) *testSchema {
	t.Helper()
	ts := &testSchema{}

	ts.customerAddress = compositefk.MustNew("Address", []compositefk.Pairing{
		{Remote: "tiers_id", Part: compositefk.Local("customer_id")},
		{Remote: "company", Part: compositefk.Local("company")},
		{Remote: "type_tiers", Part: compositefk.Raw("C")},
	}, compositefk.Nullable(), compositefk.WithNullIfEqual("company", ir.IRInt(-1)))

	ts.customerRep = compositefk.MustNew("Representant", []string{"cod_rep", "company"},
		compositefk.Nullable(),
		compositefk.WithNullIfEqual("cod_rep", ir.IRString("")),
		compositefk.WithNullableField("cod_rep", ir.IRString("")),
		compositefk.OnDelete(compositefk.SetNull),
	)

	ts.contactCustomer = compositefk.MustNew("Customer", map[string]string{
		"customer_id": "customer_code",
		"company":     "company_code",
	}, compositefk.RelatedName("contacts"))

	ts.extraCustomer = compositefk.MustNew("Customer", []string{"company", "customer_id"},
		compositefk.Unique(),
		compositefk.RelatedName("extra"),
		compositefk.OnDelete(compositefk.DoNothing),
	)

	ts.address = schema.MustEntity("Address",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "tiers_id", Kind: schema.KindInt},
		schema.Field{Name: "type_tiers", Kind: schema.KindString},
		schema.Field{Name: "city", Kind: schema.KindString, Default: ir.IRString("")},
	)
	ts.representant = schema.MustEntity("Representant",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "cod_rep", Kind: schema.KindString},
		schema.Field{Name: "prenom", Kind: schema.KindString, Nullable: true},
		schema.Field{Name: "active", Kind: schema.KindBool, Default: ir.IRBool(true)},
	)
	ts.customer = schema.MustEntity("Customer",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "customer_id", Kind: schema.KindInt},
		schema.Field{Name: "name", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "cod_rep", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "address", Kind: schema.KindReference, Reference: ts.customerAddress},
		schema.Field{Name: "representant", Kind: schema.KindReference, Reference: ts.customerRep},
	)
	ts.contact = schema.MustEntity("Contact",
		schema.Field{Name: "company_code", Kind: schema.KindInt},
		schema.Field{Name: "customer_code", Kind: schema.KindInt},
		schema.Field{Name: "surname", Kind: schema.KindString, Default: ir.IRString("")},
		schema.Field{Name: "customer", Kind: schema.KindReference, Reference: ts.contactCustomer},
	)
	ts.extra = schema.MustEntity("Extra",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{Name: "customer_id", Kind: schema.KindInt},
		schema.Field{Name: "sales_revenue", Kind: schema.KindInt, Default: ir.IRInt(0)},
		schema.Field{Name: "customer", Kind: schema.KindReference, Reference: ts.extraCustomer},
	)

	ts.reg = schema.NewRegistry()
	if err := ts.reg.Register(ts.address, ts.representant, ts.customer, ts.contact, ts.extra); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return ts
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) (*Store, *testSchema) {
	t.Helper()
	ts := newTestSchema(t)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, ts.reg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, ts
}

// mustInsert inserts inst and fails the test on error.
func mustInsert(t *testing.T, s *Store, inst *schema.Instance) *schema.Instance {
	t.Helper()
	if _, err := s.Insert(context.Background(), inst); err != nil {
		t.Fatalf("Insert(%s) failed: %v", inst.Entity.Name, err)
	}
	return inst
}

func (ts *testSchema) newAddress(company, tiers int64, typeTiers, city string) *schema.Instance {
	return schema.NewInstance(ts.address).
		MustSet("company", ir.IRInt(company)).
		MustSet("tiers_id", ir.IRInt(tiers)).
		MustSet("type_tiers", ir.IRString(typeTiers)).
		MustSet("city", ir.IRString(city))
}

func (ts *testSchema) newRepresentant(company int64, code string) *schema.Instance {
	return schema.NewInstance(ts.representant).
		MustSet("company", ir.IRInt(company)).
		MustSet("cod_rep", ir.IRString(code))
}

func (ts *testSchema) newCustomer(company, id int64, name, codRep string) *schema.Instance {
	return schema.NewInstance(ts.customer).
		MustSet("company", ir.IRInt(company)).
		MustSet("customer_id", ir.IRInt(id)).
		MustSet("name", ir.IRString(name)).
		MustSet("cod_rep", ir.IRString(codRep))
}

func (ts *testSchema) newContact(company, customer int64, surname string) *schema.Instance {
	return schema.NewInstance(ts.contact).
		MustSet("company_code", ir.IRInt(company)).
		MustSet("customer_code", ir.IRInt(customer)).
		MustSet("surname", ir.IRString(surname))
}

func (ts *testSchema) newExtra(company, customer, revenue int64) *schema.Instance {
	return schema.NewInstance(ts.extra).
		MustSet("company", ir.IRInt(company)).
		MustSet("customer_id", ir.IRInt(customer)).
		MustSet("sales_revenue", ir.IRInt(revenue))
}
