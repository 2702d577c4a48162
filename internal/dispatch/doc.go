// Package dispatch validates and executes invocation requests against the
// workflow registry. It isolates handler faults (errors and panics) from the
// supervisor process, classifies every outcome into the typed result
// contract, records invocation history to the store, and streams handler log
// lines to subscribers in real time.
package dispatch
