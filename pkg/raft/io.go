package raft

// AppendResult is delivered to an append completion callback.
type AppendResult struct {
	LastStoredIndex uint64
	Err             error
}

// SnapshotPutResult is delivered to a snapshot-put completion callback.
type SnapshotPutResult struct {
	Err error
}

// SnapshotGetResult is delivered to a snapshot-get completion callback.
type SnapshotGetResult struct {
	LastIndex uint64
	LastTerm  uint64
	ConfIndex uint64
	Config    []byte
	Data      []byte
	Err       error
}

// SendResult is delivered to an outgoing RPC's completion callback; Reply
// is one of *RequestVoteReply, *AppendEntriesReply depending on what was
// sent.
type SendResult struct {
	Reply interface{}
	Err   error
}

// LoadResult is returned synchronously by IO.Load, the one call the
// engine makes before anything else (spec.md §6).
type LoadResult struct {
	Term        uint64
	VotedFor    ServerID // 0 if unset
	HasSnapshot bool
	SnapshotLastIndex uint64
	SnapshotLastTerm  uint64
	SnapshotConfIndex uint64
	SnapshotConfig    []byte
	SnapshotData      []byte
	StartIndex        uint64
	Entries           []*Entry
}

// IO is the capability boundary the engine drives all durable storage,
// network transport, time, and randomness through (spec.md §6). A
// concrete IO implementation -- disk format, gRPC transport, wall clock,
// PRNG -- is supplied by the host application; this package never
// implements one itself (spec.md §1 Non-goals). All async methods are
// guaranteed to invoke their callback exactly once, on the same logical
// executor as ticks and message receipt (spec.md §5).
type IO interface {
	// Init prepares the IO layer for this server id/address.
	Init(id ServerID, address string) error

	// Load synchronously loads persistent state. Invoked once, before
	// any other IO call.
	Load() (LoadResult, error)

	// Start begins the tick/recv callback pump. tickMs is the requested
	// tick period; tickCb is invoked on each tick. recvCb is invoked
	// whenever a request arrives from a peer and must return the reply
	// to transport back to the sender's pending Send call (nil for
	// fire-and-forget requests like TimeoutNow); Send on the sending side
	// never reaches its callback until this reply has been produced.
	Start(tickMs uint64, tickCb func(nowMs uint64), recvCb func(msg interface{}) interface{}) error

	// Bootstrap durably writes a brand-new server's initial
	// configuration. Synchronous; fails with CantBootstrap if the
	// server already has persistent state.
	Bootstrap(cfg *Configuration) error

	// Recover durably overwrites the configuration outside of normal
	// log replication, used for disaster recovery.
	Recover(cfg *Configuration) error

	// SetTerm durably persists current_term.
	SetTerm(term uint64) error

	// SetVote durably persists voted_for for the current term.
	SetVote(id ServerID) error

	// Send submits an RPC to a peer asynchronously; the completion
	// callback is guaranteed to run exactly once. Per-peer ordering is
	// preserved across calls targeting the same peer (spec.md §5).
	Send(peer ServerID, msg interface{}, cb func(SendResult))

	// Append durably writes entries asynchronously, completing strictly
	// in submission order.
	Append(entries []*Entry, cb func(AppendResult))

	// Truncate durably deletes the suffix starting at index.
	Truncate(index uint64) error

	// SnapshotPut persists a snapshot asynchronously, retaining the last
	// `trailing` entries up to last_index for catch-up replication.
	SnapshotPut(trailing uint64, lastIndex, lastTerm uint64, confIndex uint64, cfg []byte, data [][]byte, cb func(SnapshotPutResult))

	// SnapshotGet asynchronously retrieves the most recent snapshot.
	SnapshotGet(cb func(SnapshotGetResult))

	// TimeMs returns the current time in milliseconds since an
	// arbitrary epoch.
	TimeMs() uint64

	// Random returns a pseudo-random integer in [min, max).
	Random(min, max uint64) uint64

	// Close asynchronously shuts the IO layer down.
	Close(cb func())
}
