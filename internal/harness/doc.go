// Package harness runs scripted multi-client sessions against the real
// engine and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: turn_handoff
//	description: "Primary resolves a turn, Secondary sees it"
//	room: ABCD
//	script: |
//	  #scene start
//	  Hello
//	  > Go left -> left (+courage)
//	  #ending left
//	  엔딩: You win
//	  The end
//	clients:
//	  - { name: ann, role: primary, display_name: Ann }
//	  - { name: ben, role: secondary, display_name: Ben }
//	steps:
//	  - { client: ann, do: join }
//	  - { client: ben, do: join }
//	  - { client: ann, do: choose, choice: 0, text: hello }
//	  - { do: drop, event: "msg:add", count: 1 }
//	  - { client: ben, do: edit, message: ann-2, body: x, expect_error: NOT_AUTHOR }
//	expect:
//	  ben: { version: 2, turn: secondary, log: [hello] }
//	assertions:
//	  - { type: trace_order, events: ["state:update", "msg:add"] }
//
// Steps: join, choose, edit, leave, presence (wait out the debounce), and
// drop (lose the next N broadcasts of an event).
//
// Assertion types:
//
//   - trace_contains: an event was broadcast, optionally from a role and
//     with a payload subset
//   - trace_order: first occurrences of events appear in order
//   - trace_count: an event was broadcast exactly N times
//
// # Deterministic Testing
//
// All clients share an in-memory transport.Hub and a
// testutil.DeterministicClock; each client draws ids from a
// testutil.SequenceGenerator prefixed with its name. After every step the
// harness drains all clients until no events remain, so the broadcast trace
// is identical across runs and can be compared with a golden file
// (testdata/golden/<name>.golden, see FormatTrace).
package harness
