package raft

import "io"

// FSM is the user state machine capability the engine applies committed
// command entries to (spec.md §6). A concrete FSM -- a kv store, a SQL
// engine, whatever -- is supplied by the host application; this package
// never implements one itself (spec.md §1 Non-goals).
type FSM interface {
	// Apply applies one command's payload, returning an opaque result
	// that is handed back to the client callback that issued Apply.
	Apply(data []byte) (interface{}, error)

	// Snapshot asks the FSM for its current state as one or more
	// buffers, to be persisted by the IO capability's SnapshotPut.
	Snapshot() ([][]byte, error)

	// Restore installs a previously taken snapshot.
	Restore(r io.Reader) error
}
