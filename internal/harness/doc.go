// Package harness runs composite reference scenarios.
//
// A scenario loads entity declarations, inserts rows into a fresh in-memory
// database, exercises references through the store and checks the outcome
// of every step, the trace and the final table contents.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	declarations:
//	  - models/customer.cue
//	lang: fr
//	setup:
//	  - insert: Address
//	    as: paris
//	    values: { company: 1, tiers_id: 5, type_tiers: C }
//	flow:
//	  - insert: Customer
//	    as: alice
//	    values: { company: 1, customer_id: 5 }
//	  - resolve: Customer.address
//	    row: alice
//	    expect: { outcome: ok, row: paris }
//	  - reverse: Customer.address
//	    row: paris
//	    expect: { outcome: ok, rows: [alice] }
//	  - assign: Customer.representant
//	    row: alice
//	    target: rep
//	  - delete: paris
//	    expect: { outcome: ok, deleted: { Address: 1, Customer: 1 } }
//	assertions:
//	  - type: trace_count
//	    op: delete
//	    count: 1
//	  - type: final_state
//	    entity: Customer
//	    count: 0
//
// Rows are named by labels; every reference step reloads its rows from the
// database first, so steps observe the effects of earlier deletions.
//
// # Assertion Types
//
//   - trace_contains: Verifies an operation on a subject appears in the trace
//   - trace_order: Verifies "op subject" events appear in the specified order
//   - trace_count: Verifies an operation appears exactly N times
//   - final_state: Queries an entity and verifies row count or values
//
// # Deterministic Testing
//
// Trace events are numbered from 1 and rows get keys from SQLite in insert
// order, so the same scenario always produces the same trace for golden
// snapshot comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/cascade.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
