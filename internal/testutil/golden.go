package testutil

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/compositefk/internal/ir"
)

// AssertGolden compares data against testdata/golden/{name}.golden in the
// calling package.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
func AssertGolden(t *testing.T, name string, data []byte) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// AssertCanonicalGolden renders v as canonical JSON and compares it against
// a golden file. v must be accepted by ir.MarshalCanonical.
func AssertCanonicalGolden(t *testing.T, name string, v any) {
	t.Helper()

	data, err := ir.MarshalCanonical(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	AssertGolden(t, name, data)
}
