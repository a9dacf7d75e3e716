// Package ir provides the value model and the compiled rule-base description
// shared by every rulecore package.
//
// This package contains types only plus their canonical encodings. All other
// internal packages import ir; ir imports nothing internal. The rule compiler
// produces an ir.RuleBase and the engine consumes it once to build the
// matching network.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Fact value equality is defined by the canonical JSON encoding
//   - Rule declaration order is the order of RuleBase.Rules and is significant
//     for conflict resolution
//   - Times are int64 milliseconds since the epoch; durations in the description
//     are time.Duration and converted at the scheduler boundary
package ir
