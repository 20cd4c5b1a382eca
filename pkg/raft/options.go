package raft

// Options holds the tunables recognized by the engine (spec.md §6).
type Options struct {
	// ElectionTimeoutMs is the base election timer; the actual timeout
	// used on any given reset is randomized to [ElectionTimeoutMs, 2x).
	ElectionTimeoutMs uint64

	// HeartbeatTimeoutMs is the leader heartbeat period per follower.
	HeartbeatTimeoutMs uint64

	// SnapshotThreshold is the number of applied entries since the last
	// snapshot before a new one is taken.
	SnapshotThreshold uint64

	// SnapshotTrailing is the number of entries retained after a
	// snapshot so that slightly-behind followers can still catch up via
	// AppendEntries instead of a full InstallSnapshot.
	SnapshotTrailing uint64

	// MaxSyncRounds bounds how many catch-up rounds a promotion to Voter
	// will wait through before failing with Busy (§9 Open Question,
	// left unspecified by the source; we pick 10 as recommended there).
	MaxSyncRounds int

	// MaxAppendEntriesBatch bounds how many log entries a single
	// Pipeline-mode AppendEntries carries.
	MaxAppendEntriesBatch int

	// ApplyBatchSize bounds how many entries get applied to the FSM per
	// tick, per spec.md §4.5 "a bounded batch per tick is allowed".
	ApplyBatchSize int
}

// DefaultOptions returns the tunable defaults from spec.md §6.
func DefaultOptions() Options {
	return Options{
		ElectionTimeoutMs:     1000,
		HeartbeatTimeoutMs:    100,
		SnapshotThreshold:     1024,
		SnapshotTrailing:      128,
		MaxSyncRounds:         10,
		MaxAppendEntriesBatch: 64,
		ApplyBatchSize:        256,
	}
}
