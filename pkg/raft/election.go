package raft

import "github.com/sidecus/raftcore/pkg/util"

// resetElectionTimer draws a fresh randomized election deadline in
// [ElectionTimeoutMs, 2x) (spec.md §4.4 "randomized timeout").
func (n *Node) resetElectionTimer() {
	now := n.io.TimeMs()
	timeout := n.io.Random(n.opts.ElectionTimeoutMs, 2*n.opts.ElectionTimeoutMs)
	n.electionDeadlineMs = now + timeout
	n.lastContactMs = now
}

// startElection begins a new campaign: increments the term, votes for
// self, and broadcasts RequestVote to every other voting member
// (spec.md §4.4). disruptLeader is set only for the TimeoutNow-triggered
// leadership-transfer election, letting peers grant the vote even though
// they've heard recently from a live leader.
func (n *Node) startElection(disruptLeader bool) {
	if n.closing {
		return
	}

	cfg := n.activeConfig()
	if s, ok := cfg.Get(n.id); !ok || s.Role != RoleVoter {
		// Non-voters never campaign.
		return
	}

	n.becomeCandidate()
	util.WriteInfo("T%d: node %d starting election (disrupt=%v)", n.currentTerm, n.id, disruptLeader)

	if cfg.VoterCount() == 1 {
		n.becomeLeader()
		return
	}

	req := &RequestVoteRequest{
		header:        header{Type: MsgRequestVote, SenderID: n.id, Term: n.currentTerm},
		CandidateID:   n.id,
		LastLogIndex:  n.log.LastIndex(),
		LastLogTerm:   n.log.LastTerm(),
		DisruptLeader: disruptLeader,
	}

	for _, s := range cfg.Servers() {
		if s.ID == n.id || s.Role != RoleVoter {
			continue
		}
		peer := s.ID
		n.beginIO()
		n.io.Send(peer, req, func(res SendResult) {
			defer n.endIO()
			if n.closing || n.state != StateCandidate || res.Err != nil {
				return
			}
			reply, ok := res.Reply.(*RequestVoteReply)
			if !ok {
				return
			}
			n.onRequestVoteReply(reply)
		})
	}
}

// onRequestVoteReply tallies one vote reply and transitions to leader
// once a quorum is reached (spec.md §4.4).
func (n *Node) onRequestVoteReply(reply *RequestVoteReply) {
	if n.tryFollowHigherTerm(reply.Term) {
		return
	}
	if reply.Term < n.currentTerm || n.state != StateCandidate {
		return
	}
	if !reply.VoteGranted {
		return
	}

	n.votes[reply.VoterID] = true
	if len(n.votes) >= n.activeConfig().Quorum() {
		n.becomeLeader()
	}
}

// handleRequestVote implements the receiver side of RequestVote: the
// four-condition grant rule of spec.md §4.4.
func (n *Node) handleRequestVote(req *RequestVoteRequest) *RequestVoteReply {
	n.tryFollowHigherTerm(req.Term)

	reply := &RequestVoteReply{
		header:  header{Type: MsgRequestVoteReply, SenderID: n.id, Term: n.currentTerm},
		VoterID: n.id,
	}

	if req.Term < n.currentTerm {
		reply.VoteGranted = false
		return reply
	}

	// (4) grant despite a recently-heard-from leader only when this vote
	// request is the disrupt-leader kind from a transfer target.
	recentLeader := n.state == StateFollower && n.currentLeader != 0 &&
		n.io.TimeMs() < n.lastContactMs+n.opts.ElectionTimeoutMs
	if recentLeader && !req.DisruptLeader {
		reply.VoteGranted = false
		return reply
	}

	alreadyVoted := n.votedFor != 0 && n.votedFor != req.CandidateID
	if alreadyVoted {
		reply.VoteGranted = false
		return reply
	}

	candidateUpToDate := req.LastLogTerm > n.log.LastTerm() ||
		(req.LastLogTerm == n.log.LastTerm() && req.LastLogIndex >= n.log.LastIndex())
	if !candidateUpToDate {
		reply.VoteGranted = false
		return reply
	}

	n.persistVote(req.CandidateID)
	n.resetElectionTimer()
	reply.VoteGranted = true
	reply.Term = n.currentTerm
	return reply
}

// handleTimeoutNow implements the receiver side of a leadership transfer:
// immediately campaign with the disrupt-leader gate set (spec.md §4.4
// "Leadership transfer").
func (n *Node) handleTimeoutNow(req *TimeoutNowRequest) {
	n.tryFollowHigherTerm(req.Term)
	if req.Term < n.currentTerm {
		return
	}
	n.startElection(true)
}

// TransferLeadership asks a voting member of the current configuration
// to take over leadership (spec.md §4.4). Only the leader may initiate a
// transfer; done is NOT called synchronously on initiation -- it fires
// later, from becomeFollower once a higher term is observed (transfer
// succeeded) or from maybeCompleteTransfer once the transfer deadline
// elapses (transfer failed), per §8 scenario 6.
func (n *Node) TransferLeadership(target ServerID, done func(error)) {
	if n.state != StateLeader {
		done(ErrNotLeaderError)
		return
	}
	if n.transferTarget != 0 {
		done(newErr(ErrCantChange, "a leadership transfer is already pending to server %d", n.transferTarget))
		return
	}
	s, ok := n.activeConfig().Get(target)
	if !ok || s.Role != RoleVoter {
		done(newErr(ErrInvalidParam, "transfer target %d is not a voting member", target))
		return
	}
	if target == n.id {
		// Already the target; nothing to wait for.
		done(nil)
		return
	}

	p := n.progress.Get(target, n.log.LastIndex())
	n.transferTarget = target
	n.transferDeadlineMs = n.io.TimeMs() + 2*n.opts.ElectionTimeoutMs
	n.transferDone = done

	send := func() {
		req := &TimeoutNowRequest{
			header:   header{Type: MsgTimeoutNow, SenderID: n.id, Term: n.currentTerm},
			LeaderID: n.id,
		}
		n.beginIO()
		n.io.Send(target, req, func(res SendResult) { n.endIO() })
	}

	if p.MatchIndex >= n.log.LastIndex() {
		send()
	}
	// If the target isn't caught up yet, replication.go's
	// onAppendEntriesReply sends TimeoutNow itself once MatchIndex
	// reaches LastIndex (see maybeCompleteTransfer).
}

// maybeCompleteTransfer sends TimeoutNow once a pending transfer target
// catches up, and fails the transfer once its deadline has passed
// (spec.md §4.4). Success is signaled separately, from becomeFollower,
// once the higher term the new leader campaigns with is observed.
func (n *Node) maybeCompleteTransfer(nowMs uint64) {
	if n.transferTarget == 0 || n.state != StateLeader {
		return
	}
	if nowMs >= n.transferDeadlineMs {
		util.WriteWarning("T%d: leadership transfer to %d timed out", n.currentTerm, n.transferTarget)
		n.transferTarget = 0
		if done := n.transferDone; done != nil {
			n.transferDone = nil
			done(newErr(ErrCanceled, "leadership transfer timed out"))
		}
		return
	}
	p, ok := n.progress.peers[n.transferTarget]
	if ok && p.MatchIndex >= n.log.LastIndex() {
		req := &TimeoutNowRequest{
			header:   header{Type: MsgTimeoutNow, SenderID: n.id, Term: n.currentTerm},
			LeaderID: n.id,
		}
		target := n.transferTarget
		n.beginIO()
		n.io.Send(target, req, func(res SendResult) { n.endIO() })
	}
}
