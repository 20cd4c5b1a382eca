package raft

// onTick is the IO capability's periodic callback (spec.md §4.7, §5). It
// applies the next batch of committed entries and drives election
// timeouts, leader heartbeats, and transfer expiry -- the only source of
// time-based state transitions in the engine.
func (n *Node) onTick(nowMs uint64) {
	if n.closing {
		return
	}

	n.applyCommitted()

	switch n.state {
	case StateFollower, StateCandidate:
		if nowMs >= n.electionDeadlineMs {
			n.startElection(false)
		}

	case StateLeader:
		for _, peer := range n.otherMemberIDs() {
			if n.state != StateLeader {
				// A reply handled earlier in this loop stepped us down.
				break
			}
			deadline, ok := n.heartbeatDeadlineMs[peer]
			if !ok || nowMs >= deadline {
				n.replicateTo(peer, true)
			}
		}
		n.maybeCompleteTransfer(nowMs)
		n.checkPromotion()
	}
}
