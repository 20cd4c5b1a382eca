package raft

import (
	"github.com/sidecus/raftcore/pkg/util"
)

// State is the node's raft role (spec.md §3 "Lifecycle").
type State uint8

// Roles a node cycles through.
const (
	StateFollower State = iota + 1
	StateCandidate
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// promotionRound tracks a non-voter's catch-up progress before it is
// allowed to be promoted to Voter (spec.md §4.8, §9 Open Question; see
// DESIGN.md for why we chose a bounded round count over an unbounded wait).
type promotionRound struct {
	target         ServerID
	round          int
	roundTargetIdx uint64
	onDone         func(error)
}

// Node is one raft server's consensus engine (spec.md §3 "Lifecycle"). It
// is not internally synchronized: every exported method and every
// callback registered with the IO capability must run on the single
// logical executor the host application drives (spec.md §5
// "Concurrency model").
type Node struct {
	opts Options
	io   IO
	fsm  FSM

	id ServerID

	state State

	// persistent state (spec.md §3 "Persistent state")
	currentTerm uint64
	votedFor    ServerID
	log         *Log

	// configuration (spec.md §3 "Configuration", §4.1)
	committedConfig *Configuration
	committedIndex  uint64
	pendingConfig   *Configuration
	pendingIndex    uint64

	// volatile state (spec.md §3 "Volatile state")
	commitIndex uint64
	lastApplied uint64
	lastStored  uint64

	// follower substate
	currentLeader ServerID
	lastContactMs uint64

	// candidate substate
	votes map[ServerID]bool

	// leader substate
	progress           *ProgressTable
	queue              *ClientQueue
	transferTarget     ServerID
	transferDeadlineMs uint64
	transferDone       func(error)
	promotion          *promotionRound

	// timers, all compared against io.TimeMs()
	electionDeadlineMs   uint64
	heartbeatDeadlineMs  map[ServerID]uint64

	snapshotInFlight bool

	closing     bool
	closeCb     func()
	outstanding int
	errmsg      string
}

// NewNode constructs an inert engine. Call Start to load persistent state
// and begin operation.
func NewNode(id ServerID, io IO, fsm FSM, opts Options) *Node {
	return &Node{
		opts:            opts,
		io:              io,
		fsm:             fsm,
		id:              id,
		state:           StateFollower,
		log:             NewLog(),
		committedConfig: NewConfiguration(),
		queue:           NewClientQueue(),
	}
}

// Errmsg returns a description of the most recently observed local
// failure, for diagnostics (spec.md §7).
func (n *Node) Errmsg() string {
	return n.errmsg
}

func (n *Node) setErr(format string, a ...interface{}) {
	e := newErr(ErrIO, format, a...)
	n.errmsg = e.Error()
	util.WriteError("%s", n.errmsg)
}

// State returns the node's current role.
func (n *Node) State() State {
	return n.state
}

// CurrentTerm returns the current term.
func (n *Node) CurrentTerm() uint64 {
	return n.currentTerm
}

// Leader returns the currently known leader id, or 0 if none is known.
func (n *Node) Leader() ServerID {
	if n.state == StateLeader {
		return n.id
	}
	return n.currentLeader
}

// CommitIndex returns the highest log index known to be committed.
func (n *Node) CommitIndex() uint64 {
	return n.commitIndex
}

// Configuration returns the currently effective configuration: the
// pending one if a ConfigChange is uncommitted, else the committed one
// (spec.md §4.1 "a single pending change at a time").
func (n *Node) Configuration() *Configuration {
	return n.activeConfig()
}

func (n *Node) activeConfig() *Configuration {
	if n.pendingConfig != nil {
		return n.pendingConfig
	}
	return n.committedConfig
}

// Start loads persistent state, restores any snapshot into the FSM, and
// begins ticking (spec.md §3 "Lifecycle").
func (n *Node) Start() error {
	res, err := n.io.Load()
	if err != nil {
		return wrapErr(ErrCorrupt, err)
	}

	n.currentTerm = res.Term
	n.votedFor = res.VotedFor

	if res.HasSnapshot {
		n.log.SnapshotInstall(res.SnapshotLastIndex, res.SnapshotLastTerm)
		cfg, err := DecodeConfiguration(res.SnapshotConfig)
		if err != nil {
			return err
		}
		n.committedConfig = cfg
		n.committedIndex = res.SnapshotConfIndex
		n.commitIndex = res.SnapshotLastIndex
		n.lastApplied = res.SnapshotLastIndex
		n.lastStored = res.SnapshotLastIndex
		if err := n.fsm.Restore(newSnapshotReader(res.SnapshotData)); err != nil {
			return wrapErr(ErrCorrupt, err)
		}
	}

	if res.StartIndex > n.log.offset {
		n.log.offset = res.StartIndex
	}
	for _, e := range res.Entries {
		if err := n.log.Append(e); err != nil {
			return wrapErr(ErrCorrupt, err)
		}
		if e.Kind == EntryConfigChange {
			n.adoptConfigEntry(e)
		}
	}
	n.lastStored = n.log.LastIndex()

	if err := n.io.Start(n.opts.HeartbeatTimeoutMs, n.onTick, n.onRecv); err != nil {
		return wrapErr(ErrIO, err)
	}

	n.becomeFollower(n.currentLeader, n.currentTerm)

	if n.committedConfig.VoterCount() == 1 {
		if s, ok := n.committedConfig.Get(n.id); ok && s.Role == RoleVoter {
			n.startElection(false)
		}
	}

	return nil
}

// Close quiesces the engine: every pending client request is failed with
// Shutdown, then once all outstanding IO completes, cb is invoked
// (spec.md §3 "Lifecycle", §5 "Cancellation").
func (n *Node) Close(cb func()) {
	n.closing = true
	n.queue.FailAll(ErrShutdownError)
	n.closeCb = cb
	n.finishCloseIfReady()
}

func (n *Node) finishCloseIfReady() {
	if n.closing && n.outstanding == 0 && n.closeCb != nil {
		cb := n.closeCb
		n.closeCb = nil
		n.io.Close(cb)
	}
}

func (n *Node) beginIO() { n.outstanding++ }

func (n *Node) endIO() {
	n.outstanding--
	n.finishCloseIfReady()
}

// --- state transitions (spec.md §3 "Lifecycle") ---

func (n *Node) becomeFollower(leader ServerID, term uint64) {
	wasLeader := n.state == StateLeader
	hadTransfer := n.transferTarget != 0
	transferSucceeded := term > n.currentTerm
	transferDone := n.transferDone

	n.state = StateFollower
	n.currentLeader = leader
	n.votes = nil
	n.progress = nil
	n.transferTarget = 0
	n.transferDone = nil
	n.promotion = nil
	n.setTerm(term)
	n.resetElectionTimer()
	if wasLeader {
		oldQueue := n.queue
		n.queue = NewClientQueue()
		oldQueue.FailAll(ErrLeadershipLostError)
	}

	// A pending TransferLeadership completes here: a higher term observed
	// while stepping down is the literal success signal (spec.md §4.4);
	// any other reason for stepping down while a transfer was pending
	// fails it rather than leaking the caller's callback.
	if wasLeader && hadTransfer && transferDone != nil {
		if transferSucceeded {
			transferDone(nil)
		} else {
			transferDone(ErrLeadershipLostError)
		}
	}
}

func (n *Node) becomeCandidate() {
	n.state = StateCandidate
	n.currentLeader = 0
	n.setTerm(n.currentTerm + 1)
	n.votedFor = n.id
	n.persistVote(n.id)
	n.votes = map[ServerID]bool{n.id: true}
	n.resetElectionTimer()
}

func (n *Node) becomeLeader() {
	n.state = StateLeader
	n.currentLeader = n.id
	n.votes = nil
	n.progress = NewProgressTable()
	n.progress.ResetAll(n.otherMemberIDs(), n.log.LastIndex())
	n.heartbeatDeadlineMs = make(map[ServerID]uint64)
	now := n.io.TimeMs()
	for _, id := range n.otherMemberIDs() {
		n.heartbeatDeadlineMs[id] = now
	}
	util.WriteInfo("T%d: node %d became leader", n.currentTerm, n.id)

	// A no-op barrier committed in the new term establishes a commit
	// point under the current leader's own term, letting earlier
	// entries become committable per the term-gated quorum rule
	// (spec.md §4.5).
	n.appendLocal(EntryBarrier, nil)
}

// setTerm updates current_term, resets votedFor on a genuinely new term,
// and persists both durably (spec.md §4.6).
func (n *Node) setTerm(term uint64) {
	if term < n.currentTerm {
		util.Panicf("cannot set term %d lower than current term %d", term, n.currentTerm)
	}
	newTerm := term > n.currentTerm
	if newTerm {
		n.votedFor = 0
	}
	n.currentTerm = term
	if err := n.io.SetTerm(term); err != nil {
		n.setErr("persisting term: %s", err)
	}
	if newTerm {
		if err := n.io.SetVote(0); err != nil {
			n.setErr("persisting vote: %s", err)
		}
	}
}

func (n *Node) persistVote(id ServerID) {
	n.votedFor = id
	if err := n.io.SetVote(id); err != nil {
		n.setErr("persisting vote: %s", err)
	}
}

// tryFollowHigherTerm implements the universal term rule of spec.md §4.6:
// any message or reply carrying a higher term demotes us to follower of
// that term. The sender isn't necessarily the new leader (e.g. a
// higher-term RequestVote), so currentLeader is left unset; callers that
// do know the leader (AppendEntries, InstallSnapshot) set it themselves
// afterward. Returns true if it did.
func (n *Node) tryFollowHigherTerm(term uint64) bool {
	if term > n.currentTerm {
		n.becomeFollower(0, term)
		return true
	}
	return false
}

func (n *Node) otherMemberIDs() []ServerID {
	servers := n.activeConfig().Servers()
	ids := make([]ServerID, 0, len(servers))
	for _, s := range servers {
		if s.ID != n.id {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// adoptConfigEntry decodes a ConfigChange entry's payload and stages it
// as the pending configuration (spec.md §4.1).
func (n *Node) adoptConfigEntry(e *Entry) {
	cfg, err := DecodeConfiguration(e.Data)
	if err != nil {
		n.setErr("decoding config entry at index %d: %s", e.Index, err)
		return
	}
	n.pendingConfig = cfg
	n.pendingIndex = e.Index
}

// commitConfigIfReady promotes a pending configuration to committed once
// the commit index has reached its entry's index (spec.md §4.1). If the
// newly committed configuration no longer carries this node as a voter,
// a sitting leader steps down (spec.md §4.5(b)).
func (n *Node) commitConfigIfReady() {
	if n.pendingConfig == nil || n.pendingIndex > n.commitIndex {
		return
	}

	n.committedConfig = n.pendingConfig
	n.committedIndex = n.pendingIndex
	n.pendingConfig = nil

	if n.state != StateLeader {
		return
	}

	if s, ok := n.committedConfig.Get(n.id); !ok || s.Role != RoleVoter {
		util.WriteInfo("T%d: node %d stepping down, no longer a voter", n.currentTerm, n.id)
		n.becomeFollower(0, n.currentTerm)
		return
	}
	n.reconcileProgressWithConfig()
}

func (n *Node) reconcileProgressWithConfig() {
	ids := n.otherMemberIDs()
	want := make(map[ServerID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
		n.progress.Get(id, n.log.LastIndex())
	}
	for _, p := range n.progress.All() {
		if !want[p.ID] {
			n.progress.Remove(p.ID)
			delete(n.heartbeatDeadlineMs, p.ID)
		}
	}
}

// appendLocal appends a new entry authored by this (leader) node to its
// own log and submits it for durable storage (spec.md §4.5).
func (n *Node) appendLocal(kind EntryKind, data []byte) *Entry {
	e := newEntry(n.currentTerm, n.log.LastIndex()+1, kind, data)
	if err := n.log.Append(e); err != nil {
		util.Panicf("leader self-append failed: %s", err)
	}
	if kind == EntryConfigChange {
		n.adoptConfigEntry(e)
	}
	n.submitAppend([]*Entry{e})
	return e
}

// submitAppend durably persists entries via the IO capability, advancing
// lastStored on completion. IO guarantees completions arrive in
// submission order (spec.md §5), so no local queue is needed here.
func (n *Node) submitAppend(entries []*Entry) {
	if len(entries) == 0 {
		return
	}
	n.beginIO()
	last := entries[len(entries)-1].Index
	n.io.Append(entries, func(res AppendResult) {
		defer n.endIO()
		if res.Err != nil {
			n.setErr("append failed: %s", res.Err)
			if n.state == StateLeader {
				// A failed durable write to our own log means we can no
				// longer vouch for the entries we've told followers about
				// (spec.md §4.9 "Failure semantics").
				n.becomeFollower(0, n.currentTerm)
			}
			return
		}
		if last > n.lastStored {
			n.lastStored = last
		}
		if n.state == StateLeader {
			n.maybeAdvanceCommit()
		}
	})
}
