// Package timer provides the temporal scheduler used by rule sessions.
//
// A Scheduler holds jobs ordered by their next fire time. Each job is paired
// with a Trigger, a small sum type that yields successive fire times and
// honours optional calendar exclusions.
//
// Two clock disciplines exist:
//   - PseudoScheduler: time only moves when AdvanceTime is called. Due jobs
//     run on the caller's goroutine in fire-time order and each observes its
//     own fire time as the current time.
//   - RealtimeScheduler: a dispatcher goroutine watches the wall clock and
//     signals a Dispatch callback when jobs fall due. Jobs themselves run on
//     whichever goroutine calls RunDue, so the owning session stays
//     single-writer.
//
// Scheduling never fails. A fire time that overflows degrades to firing
// immediately.
package timer
