package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// customerCUE declares addresses and representatives identified by a
// composite key, customers pointing at both, and contacts pointing at
// customers.
const customerCUE = `
package test

entity: Address: fields: {
	company:    "int"
	tiers_id:   "int"
	type_tiers: "string"
	city: {type: "string", nullable: true}
}

entity: Representant: fields: {
	company: "int"
	cod_rep: "string"
	prenom: {type: "string", default: ""}
}

entity: Customer: fields: {
	company:     "int"
	customer_id: "int"
	name: {type: "string", default: ""}
	cod_rep: {type: "string", default: ""}
	address: reference: {
		remote: "Address"
		to_fields: [
			{remote: "tiers_id", local: "customer_id"},
			"company",
			{remote: "type_tiers", raw: "C"},
		]
		"null": true
		null_if_equal: [{field: "company", value: -1}]
	}
	representant: reference: {
		remote: "Representant"
		to_fields: ["cod_rep", "company"]
		"null": true
		null_if_equal: [{field: "cod_rep", value: ""}]
		nullable_fields: [{field: "cod_rep", "null": ""}]
		on_delete: "SET_NULL"
	}
}

entity: Contact: fields: {
	company_code:  "int"
	customer_code: "int"
	customer: reference: {
		remote: "Customer"
		to_fields: [
			{remote: "company", local: "company_code"},
			{remote: "customer_id", local: "customer_code"},
		]
		related_name: "contacts"
	}
}
`

// writeDeclarations writes files (name -> content) into a fresh temp dir.
func writeDeclarations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// runCommand executes cmd with args and returns stdout, stderr.
func runCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
