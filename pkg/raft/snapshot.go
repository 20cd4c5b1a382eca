package raft

import (
	"bytes"
	"io"

	"github.com/sidecus/raftcore/pkg/util"
)

// newSnapshotReader wraps raw snapshot bytes as an io.Reader for FSM.Restore.
func newSnapshotReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// maybeTakeSnapshot triggers a new snapshot once enough entries have
// been applied since the last one (spec.md §4.9 "compaction threshold").
func (n *Node) maybeTakeSnapshot() {
	if n.snapshotInFlight {
		return
	}
	if n.lastApplied < n.log.SnapshotIndex()+n.opts.SnapshotThreshold {
		return
	}

	buffers, err := n.fsm.Snapshot()
	if err != nil {
		n.setErr("fsm snapshot: %s", err)
		return
	}

	lastIndex := n.lastApplied
	lastTerm, ok := n.log.TermOf(lastIndex)
	if !ok {
		return
	}
	cfg := n.committedConfig.Encode()
	confIndex := n.committedIndex

	n.snapshotInFlight = true
	n.beginIO()
	n.io.SnapshotPut(n.opts.SnapshotTrailing, lastIndex, lastTerm, confIndex, cfg, buffers, func(res SnapshotPutResult) {
		defer n.endIO()
		n.snapshotInFlight = false
		if res.Err != nil {
			n.setErr("snapshot put: %s", res.Err)
			return
		}
		trailingFloor := lastIndex - util.MinU64(lastIndex, n.opts.SnapshotTrailing)
		n.log.SnapshotInstall(trailingFloor, lastTermOrZero(n, trailingFloor))
		util.WriteInfo("T%d: node %d took snapshot through index %d", n.currentTerm, n.id, lastIndex)
	})
}

func lastTermOrZero(n *Node, index uint64) uint64 {
	if t, ok := n.log.TermOf(index); ok {
		return t
	}
	return 0
}

// sendSnapshot ships the most recent snapshot to a lagging peer whose
// required previous entry has already been compacted away (spec.md §4.3
// "Snapshot state", §4.9).
func (n *Node) sendSnapshot(peer ServerID, p *Progress) {
	p.State = StateSnapshot
	n.beginIO()
	n.io.SnapshotGet(func(res SnapshotGetResult) {
		defer n.endIO()
		if res.Err != nil {
			n.setErr("snapshot get for peer %d: %s", peer, res.Err)
			p.State = StateProbe
			return
		}

		req := &SnapshotRequest{
			header:    header{Type: MsgInstallSnapshot, SenderID: n.id, Term: n.currentTerm},
			LeaderID:  n.id,
			LastIndex: res.LastIndex,
			LastTerm:  res.LastTerm,
			ConfIndex: res.ConfIndex,
			Config:    res.Config,
			Data:      res.Data,
			Done:      true,
		}

		n.beginIO()
		n.io.Send(peer, req, func(sendRes SendResult) {
			defer n.endIO()
			if n.closing || sendRes.Err != nil {
				if p.State == StateSnapshot {
					p.State = StateProbe
				}
				return
			}
			reply, ok := sendRes.Reply.(*AppendEntriesReply)
			if !ok {
				return
			}
			if n.tryFollowHigherTerm(reply.Term) {
				return
			}
			if reply.Success {
				p.OnSnapshotDone(res.LastIndex)
				n.maybeAdvanceCommit()
			} else {
				p.State = StateProbe
			}
		})
	})
}

// handleInstallSnapshot implements the receiver side of InstallSnapshot
// (spec.md §4.9): replace the entire log and FSM state with the
// snapshot's, then fast-forward volatile indices.
func (n *Node) handleInstallSnapshot(req *SnapshotRequest) *AppendEntriesReply {
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

	if n.state != StateFollower {
		n.becomeFollower(req.LeaderID, req.Term)
	} else {
		n.currentLeader = req.LeaderID
		n.resetElectionTimer()
	}

	if req.LastIndex <= n.commitIndex {
		// Stale: we've already committed past what this snapshot covers
		// (spec.md §4.9). Comparing against commit_index rather than the
		// local snapshot boundary matters because an already-committed
		// suffix may still sit in the log uncompacted.
		reply.Success = true
		reply.LastLogIndex = n.log.LastIndex()
		return reply
	}

	cfg, err := DecodeConfiguration(req.Config)
	if err != nil {
		n.setErr("decoding installed snapshot config: %s", err)
		reply.Success = false
		reply.LastLogIndex = n.log.LastIndex()
		return reply
	}

	if err := n.fsm.Restore(newSnapshotReader(req.Data)); err != nil {
		n.setErr("fsm restore: %s", err)
		reply.Success = false
		reply.LastLogIndex = n.log.LastIndex()
		return reply
	}

	n.log.Reset(req.LastIndex, req.LastTerm)
	n.committedConfig = cfg
	n.committedIndex = req.ConfIndex
	n.pendingConfig = nil
	n.commitIndex = req.LastIndex
	n.lastApplied = req.LastIndex
	n.lastStored = req.LastIndex
	n.queue.FailAll(newErr(ErrCanceled, "superseded by installed snapshot"))

	reply.Success = true
	reply.LastLogIndex = n.log.LastIndex()
	return reply
}
