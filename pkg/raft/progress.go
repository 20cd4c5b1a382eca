package raft

import "github.com/sidecus/raftcore/pkg/util"

// ReplicationState is a follower's replication mode as tracked by the
// leader (spec.md §4.3, GLOSSARY).
type ReplicationState uint8

// Replication states.
const (
	// StateProbe sends at most one AppendEntries per heartbeat, used
	// while we don't yet know the follower's matching index.
	StateProbe ReplicationState = iota + 1
	// StatePipeline streams entries eagerly once a match is confirmed.
	StatePipeline
	// StateSnapshot means an InstallSnapshot is in flight; no
	// AppendEntries are sent until it completes.
	StateSnapshot
)

// Progress is the leader's per-peer replication bookkeeping (spec.md §3
// "Leader substate", §4.3).
type Progress struct {
	ID         ServerID
	State      ReplicationState
	NextIndex  uint64
	MatchIndex uint64

	// SnapshotIndex is the last_index of the snapshot currently being
	// installed on this follower, set while State == StateSnapshot.
	SnapshotIndex uint64

	LastSendMs  uint64
	RecentRecv  bool
}

// newProgress creates a peer's progress entry as it stands immediately
// after the local node becomes leader (spec.md §4.3).
func newProgress(id ServerID, leaderLastIndex uint64) *Progress {
	return &Progress{
		ID:        id,
		State:     StateProbe,
		NextIndex: leaderLastIndex + 1,
		MatchIndex: 0,
	}
}

// MaybeTransitionToSnapshot switches Probe/Pipeline to Snapshot once the
// follower's required previous entry has been compacted away.
func (p *Progress) MaybeTransitionToSnapshot(logSnapshotIndex uint64) bool {
	if p.State == StateSnapshot {
		return false
	}
	if p.NextIndex > 0 && p.NextIndex-1 <= logSnapshotIndex {
		p.State = StateSnapshot
		p.SnapshotIndex = logSnapshotIndex
		return true
	}
	return false
}

// OnAppendAccepted advances MatchIndex after a successful AppendEntries
// ack, sets NextIndex just past it, and promotes Probe to Pipeline on
// first success.
func (p *Progress) OnAppendAccepted(matchIndex uint64) {
	if p.State == StateProbe {
		p.State = StatePipeline
	}
	if matchIndex > p.MatchIndex {
		p.MatchIndex = matchIndex
	}
	p.NextIndex = p.MatchIndex + 1
	p.RecentRecv = true
}

// OnAppendRejected decreases NextIndex per the rejection hint (spec.md
// §4.3) and forces the peer back to Probe regardless of its prior state.
func (p *Progress) OnAppendRejected(followerLastLogIndex uint64) {
	p.State = StateProbe
	hint := util.MinU64(p.NextIndex, followerLastLogIndex+1)
	if hint == 0 {
		hint = 1
	}
	p.NextIndex = hint
	p.RecentRecv = true
}

// OnSnapshotDone transitions Snapshot back to Probe once the follower
// acks the InstallSnapshot RPC, and seeds indices from the snapshot.
func (p *Progress) OnSnapshotDone(snapshotLastIndex uint64) {
	p.State = StateProbe
	p.NextIndex = snapshotLastIndex + 1
	p.MatchIndex = snapshotLastIndex
	p.RecentRecv = true
}

// HasMoreToReplicate reports whether there is any log data beyond what
// this follower is known to have matched.
func (p *Progress) HasMoreToReplicate(leaderLastIndex uint64) bool {
	return p.MatchIndex < leaderLastIndex
}

// ProgressTable is the leader's full set of per-peer Progress, one per
// voting/standby/idle member of the current configuration other than
// self.
type ProgressTable struct {
	peers map[ServerID]*Progress
}

// NewProgressTable creates an empty table.
func NewProgressTable() *ProgressTable {
	return &ProgressTable{peers: make(map[ServerID]*Progress)}
}

// ResetAll rebuilds the table for the given member set, as done when a
// node becomes leader (spec.md §4.3).
func (t *ProgressTable) ResetAll(memberIDs []ServerID, leaderLastIndex uint64) {
	t.peers = make(map[ServerID]*Progress, len(memberIDs))
	for _, id := range memberIDs {
		t.peers[id] = newProgress(id, leaderLastIndex)
	}
}

// Get returns the Progress for id, creating one in Probe state if the
// configuration gained a member since the last ResetAll (e.g. via a
// committed ConfigChange while already leader).
func (t *ProgressTable) Get(id ServerID, leaderLastIndex uint64) *Progress {
	p, ok := t.peers[id]
	if !ok {
		p = newProgress(id, leaderLastIndex)
		t.peers[id] = p
	}
	return p
}

// Remove drops a peer, used when a ConfigChange removes it from the
// configuration.
func (t *ProgressTable) Remove(id ServerID) {
	delete(t.peers, id)
}

// All returns every tracked peer's Progress.
func (t *ProgressTable) All() []*Progress {
	out := make([]*Progress, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}
