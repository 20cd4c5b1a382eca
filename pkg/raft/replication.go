package raft

import "github.com/sidecus/raftcore/pkg/util"

// replicateTo sends one AppendEntries (or, if nothing new is available
// for pipelining and this isn't a forced heartbeat, nothing) to peer,
// per its current Progress (spec.md §4.3).
func (n *Node) replicateTo(peer ServerID, forceHeartbeat bool) {
	p := n.progress.Get(peer, n.log.LastIndex())

	if p.State == StateSnapshot {
		return
	}
	if p.MaybeTransitionToSnapshot(n.log.SnapshotIndex()) {
		n.sendSnapshot(peer, p)
		return
	}

	switch p.State {
	case StateProbe:
		if !forceHeartbeat && p.RecentRecv && !p.HasMoreToReplicate(n.log.LastIndex()) {
			return
		}
	case StatePipeline:
		if !forceHeartbeat && !p.HasMoreToReplicate(n.log.LastIndex()) {
			return
		}
	}

	prevIndex := p.NextIndex - 1
	prevTerm, ok := n.log.TermOf(prevIndex)
	if !ok {
		// The previous entry fell behind the snapshot boundary between
		// MaybeTransitionToSnapshot's check and now; send a snapshot
		// instead.
		p.State = StateSnapshot
		n.sendSnapshot(peer, p)
		return
	}

	var entries []*Entry
	if p.State == StatePipeline {
		to := util.MinU64(n.log.LastIndex()+1, p.NextIndex+uint64(n.opts.MaxAppendEntriesBatch))
		entries = n.log.Entries(p.NextIndex, to)
	}
	for _, e := range entries {
		n.log.Acquire(e)
	}

	req := &AppendEntriesRequest{
		header:       header{Type: MsgAppendEntries, SenderID: n.id, Term: n.currentTerm},
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}

	now := n.io.TimeMs()
	p.LastSendMs = now
	n.heartbeatDeadlineMs[peer] = now + n.opts.HeartbeatTimeoutMs

	n.beginIO()
	n.io.Send(peer, req, func(res SendResult) {
		defer n.endIO()
		for _, e := range entries {
			n.log.Release(e)
		}
		if n.closing || res.Err != nil {
			return
		}
		reply, ok := res.Reply.(*AppendEntriesReply)
		if !ok {
			return
		}
		n.onAppendEntriesReply(peer, reply)
	})
}

// onAppendEntriesReply updates the peer's Progress and, on success, tries
// to advance the commit index (spec.md §4.3, §4.5).
func (n *Node) onAppendEntriesReply(peer ServerID, reply *AppendEntriesReply) {
	if n.tryFollowHigherTerm(reply.Term) {
		return
	}
	if n.state != StateLeader || reply.Term < n.currentTerm {
		return
	}

	p, ok := n.progress.peers[peer]
	if !ok {
		return
	}

	if reply.Success {
		p.OnAppendAccepted(reply.LastLogIndex)
		n.maybeAdvanceCommit()
		n.maybeCompleteTransfer(n.io.TimeMs())
		if p.HasMoreToReplicate(n.log.LastIndex()) {
			n.replicateTo(peer, false)
		}
	} else {
		p.OnAppendRejected(reply.LastLogIndex)
		n.replicateTo(peer, false)
	}
}

// maybeAdvanceCommit applies the term-gated quorum commit rule of
// spec.md §4.5: an index is committed only once a quorum of MatchIndex
// values reach it AND the entry at that index was appended in the
// current term.
func (n *Node) maybeAdvanceCommit() {
	if n.state != StateLeader {
		return
	}

	quorum := n.activeConfig().Quorum()
	candidate := n.commitIndex
	for idx := n.log.LastIndex(); idx > n.commitIndex; idx-- {
		term, ok := n.log.TermOf(idx)
		if !ok || term != n.currentTerm {
			continue
		}
		count := 1 // self
		for _, p := range n.progress.All() {
			if s, ok := n.activeConfig().Get(p.ID); ok && s.Role == RoleVoter && p.MatchIndex >= idx {
				count++
			}
		}
		if count >= quorum {
			candidate = idx
			break
		}
	}

	if candidate > n.commitIndex {
		n.commitIndex = candidate
		n.commitConfigIfReady()
		n.applyCommitted()
	}
}

// handleAppendEntries implements the receiver side of AppendEntries
// (spec.md §4.3): the consistency check, conflict truncation, and
// appending of new entries.
func (n *Node) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesReply {
	n.tryFollowHigherTerm(req.Term)

	reply := &AppendEntriesReply{
		header:     header{Type: MsgAppendEntriesReply, SenderID: n.id, Term: n.currentTerm},
		FollowerID: n.id,
	}

	if req.Term < n.currentTerm {
		reply.Success = false
		reply.LastLogIndex = n.log.LastIndex()
		return reply
	}

	// A valid AppendEntries from the current term's leader always resets
	// our election timer and confirms who the leader is, even if this
	// particular request is ultimately rejected on the consistency check
	// (spec.md §4.3, §4.4).
	if n.state != StateFollower {
		n.becomeFollower(req.LeaderID, req.Term)
	} else {
		n.currentLeader = req.LeaderID
		n.resetElectionTimer()
	}

	if req.PrevLogIndex > 0 {
		term, ok := n.log.TermOf(req.PrevLogIndex)
		if !ok || term != req.PrevLogTerm {
			reply.Success = false
			reply.LastLogIndex = n.log.LastIndex()
			return reply
		}
	}

	next := req.PrevLogIndex
	for _, e := range req.Entries {
		next++
		if existingTerm, ok := n.log.TermOf(next); ok {
			if existingTerm == e.Term {
				continue
			}
			n.log.TruncateFrom(next)
			if err := n.io.Truncate(next); err != nil {
				n.setErr("truncate failed: %s", err)
			}
		}
		if err := n.log.Append(e); err != nil {
			util.Panicf("follower append failed: %s", err)
		}
		if e.Kind == EntryConfigChange {
			n.adoptConfigEntry(e)
		}
		n.submitAppend([]*Entry{e})
	}

	if req.LeaderCommit > n.commitIndex {
		// A follower must not advance commit_index past what it has
		// actually durably stored, even if the leader claims a higher
		// commit (spec.md §3, §4.5): submitAppend's IO completion may
		// still be in flight for entries already appended to the
		// in-memory log above.
		n.commitIndex = util.MinU64(util.MinU64(req.LeaderCommit, n.log.LastIndex()), n.lastStored)
		n.commitConfigIfReady()
		n.applyCommitted()
	}

	reply.Success = true
	reply.LastLogIndex = n.log.LastIndex()
	return reply
}

// applyCommitted hands newly-committed entries to the FSM, up to a
// bounded batch per invocation (spec.md §4.5 "apply"), completing any
// matching client requests as it goes.
func (n *Node) applyCommitted() {
	count := 0
	for n.lastApplied < n.commitIndex && count < n.opts.ApplyBatchSize {
		idx := n.lastApplied + 1
		e, ok := n.log.Get(idx)
		if !ok {
			break
		}

		var result interface{}
		var err error
		switch e.Kind {
		case EntryCommand:
			result, err = n.fsm.Apply(e.Data)
			if err != nil {
				n.setErr("fsm apply at index %d: %s", idx, err)
			}
		case EntryBarrier, EntryConfigChange:
			// no FSM side effect
		}

		n.lastApplied = idx
		n.queue.OnApplied(idx, result)
		n.maybeTakeSnapshot()
		count++
	}
}
