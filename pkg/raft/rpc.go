package raft

// onRecv is the IO capability's request-arrival callback (spec.md §5,
// §6). Its return value is transported back as the reply to the
// sender's pending Send call; fire-and-forget requests return nil.
func (n *Node) onRecv(msg interface{}) interface{} {
	if n.closing {
		return nil
	}

	switch m := msg.(type) {
	case *RequestVoteRequest:
		return n.handleRequestVote(m)

	case *AppendEntriesRequest:
		return n.handleAppendEntries(m)

	case *SnapshotRequest:
		return n.handleInstallSnapshot(m)

	case *TimeoutNowRequest:
		n.handleTimeoutNow(m)
		return nil

	default:
		// Unknown/obsolete message kind; the IO layer owns framing, so
		// this should not occur in practice.
		return nil
	}
}
