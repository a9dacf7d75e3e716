// Package harness runs YAML scenarios against real rule sessions.
//
// A scenario names a CUE rule base (a directory or inline source), a clock
// and a list of steps: insert, update, modify, delete, fire, advance, halt,
// focus and restore. Steps run in order on one session. A restore step
// snapshots the session into an in-memory SQLite store, loads it back and
// continues on the restored session, so scenarios can check that
// persistence loses nothing.
//
// Every fact change, firing and clock advance is recorded in a trace. The
// expect block checks the firing sequence, the final facts and the final
// time; assertions add finer checks. RunWithGolden compares the canonical
// JSON trace against testdata/golden/<name>.golden via goldie.
//
// Example:
//
//	name: overheat
//	rules_inline: |
//	  rule: hot: {
//	    when: [{pattern: {type: "Reading", bind: "r", where: [{field: "temp", op: ">", value: 30}]}}]
//	    then: [{insert: {type: "Alarm", fields: {temp: "${r.temp}"}}}]
//	  }
//	steps:
//	  - insert: {type: Reading, fields: {temp: 41}}
//	  - fire: 0
//	expect:
//	  fired: [hot]
//	  facts:
//	    - {type: Reading}
//	    - {type: Alarm, fields: {temp: 41}}
package harness
