// Package audit records a durable trail of state-changing administrative
// actions: who changed what, and what it was changed to.
//
// Writes go through the Emitter interface. DBEmitter persists entries to
// postgres; AsyncEmitter wraps any Emitter so the write happens on a detached
// goroutine and a slow or failing audit store never blocks the triggering
// operation. Entries are append-only and trimmed by a retention sweep
// (DBEmitter.Cleanup), scheduled by the service binary.
package audit
