// Package harness runs declarative scenarios against the elite store and key
// derivation.
//
// A scenario is a YAML file naming store parameters, a sequence of steps and
// a list of assertions. Steps either admit a generated block (repeat, ramp or
// seeded patterns) or derive a key. Every run uses a manual clock starting at
// testutil.Epoch and sequential sample IDs, so the trace of a scenario is
// byte-for-byte reproducible and can be compared against a golden file:
//
//	name: eviction_ties
//	description: equal scores evict the earliest sample
//	store:
//	  capacity: 2
//	steps:
//	  - admit: {label: a, pattern: {kind: ramp, length: 512}}
//	  - advance: 1s
//	    admit: {label: b, pattern: {kind: ramp, offset: 1, length: 512}}
//	assertions:
//	  - type: store_labels
//	    labels: [b, a]
//
// Traces are serialized as canonical JSON (see package audit); scores appear
// as 4-decimal strings.
package harness
