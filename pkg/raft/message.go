package raft

// MessageType tags the sum type of RPC payloads (spec.md §9 "Tagged
// variants"). A concrete IO/transport implementation (out of scope per
// §1) would carry this as a oneof/discriminator field in its wire
// encoding; see DESIGN.md for the grpc+protobuf note on why no such
// concrete transport ships in this module.
type MessageType uint8

// Message types.
const (
	MsgRequestVote MessageType = iota + 1
	MsgRequestVoteReply
	MsgAppendEntries
	MsgAppendEntriesReply
	MsgInstallSnapshot
	MsgInstallSnapshotReply
	MsgTimeoutNow
)

// header is the common envelope every RPC message carries (spec.md §6:
// "Each message carries {type, sender_id, sender_address, ...}").
type header struct {
	Type          MessageType
	SenderID      ServerID
	SenderAddress string
	Term          uint64
}

// RequestVoteRequest is sent by a candidate to solicit a vote.
type RequestVoteRequest struct {
	header
	CandidateID    ServerID
	LastLogIndex   uint64
	LastLogTerm    uint64
	// DisruptLeader requests that the receiver grant the vote even if it
	// has heard from a live leader recently (spec.md §4.4(4)); set true
	// only for the TimeoutNow-triggered leadership-transfer election.
	DisruptLeader bool
}

// RequestVoteReply is the receiver's response.
type RequestVoteReply struct {
	header
	VoterID     ServerID
	VoteGranted bool
}

// AppendEntriesRequest replicates log entries (or, with Entries empty,
// serves as a heartbeat).
type AppendEntriesRequest struct {
	header
	LeaderID     ServerID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*Entry
	LeaderCommit uint64
}

// AppendEntriesReply is the follower's response. LastLogIndex is the
// rejection hint described in spec.md §4.3.
type AppendEntriesReply struct {
	header
	FollowerID   ServerID
	Success      bool
	LastLogIndex uint64
}

// SnapshotRequest (InstallSnapshot RPC) carries one chunk of snapshot
// data plus the snapshot's configuration boundary.
type SnapshotRequest struct {
	header
	LeaderID  ServerID
	LastIndex uint64
	LastTerm  uint64
	ConfIndex uint64
	Config    []byte
	Data      []byte
	Done      bool
}

// AppendEntriesReply doubles as the InstallSnapshot reply rather than
// inventing a separate reply shape for what is, from the sender's
// perspective, the same success/failure/rejection-hint triple.

// TimeoutNowRequest asks the receiver to immediately start an election
// with the disrupt-leader gate set, used for leadership transfer
// (spec.md §4.4).
type TimeoutNowRequest struct {
	header
	LeaderID ServerID
}
