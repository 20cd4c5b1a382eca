package raft

// Apply submits one or more buffers to be replicated as consecutive
// Command entries and applied to the FSM, invoking done with the FSM's
// per-entry results once the whole range has been committed and applied
// (spec.md §4.8 "apply(bufs[])": one client call spanning several
// entries, one completion callback). Returns NotLeader immediately if
// this node isn't the leader, or if a leadership transfer is pending
// (spec.md §4.4: the leader stops accepting new client requests once a
// transfer has begun).
func (n *Node) Apply(bufs [][]byte, done func(results []interface{}, err error)) {
	if n.state != StateLeader {
		done(nil, ErrNotLeaderError)
		return
	}
	if n.transferTarget != 0 {
		done(nil, newErr(ErrNotLeader, "leadership transfer pending to server %d", n.transferTarget))
		return
	}
	if len(bufs) == 0 {
		done(nil, newErr(ErrInvalidParam, "apply requires at least one buffer"))
		return
	}

	startIndex := uint64(0)
	endIndex := uint64(0)
	term := n.currentTerm
	for i, data := range bufs {
		e := n.appendLocal(EntryCommand, data)
		if i == 0 {
			startIndex = e.Index
		}
		endIndex = e.Index
		term = e.Term
	}
	n.queue.EnqueueApply(startIndex, endIndex, term, done)
}

// Barrier blocks client-visible progress until every entry appended
// before it has been applied, without itself touching the FSM (spec.md
// §4.8 "Barrier"). Useful for read-your-writes linearizable reads.
func (n *Node) Barrier(done func(err error)) {
	if n.state != StateLeader {
		done(ErrNotLeaderError)
		return
	}
	if n.transferTarget != 0 {
		done(newErr(ErrNotLeader, "leadership transfer pending to server %d", n.transferTarget))
		return
	}
	e := n.appendLocal(EntryBarrier, nil)
	n.queue.EnqueueBarrier(e.Index, e.Term, done)
}

// Bootstrap durably writes the initial configuration of a brand-new
// cluster made of members, and should be called before Start the very
// first time a cluster is created (spec.md §4.1 "Bootstrap"). It does not
// start the node.
func (n *Node) Bootstrap(members []Server) error {
	cfg := NewConfiguration()
	for _, s := range members {
		if err := cfg.Add(s.ID, s.Address, s.Role); err != nil {
			return err
		}
	}
	if err := n.io.Bootstrap(cfg); err != nil {
		return wrapErr(ErrCantBootstrap, err)
	}
	n.committedConfig = cfg
	return nil
}

// AddServer proposes adding a new non-voting member to the cluster
// (spec.md §4.1 "Membership changes"). New members always start as
// Standby; promote with PromoteServer once caught up.
func (n *Node) AddServer(id ServerID, address string, done func(error)) error {
	return n.proposeConfigChange(func(next *Configuration) error {
		return next.Add(id, address, RoleStandby)
	}, done)
}

// RemoveServer proposes removing a member from the cluster.
func (n *Node) RemoveServer(id ServerID, done func(error)) error {
	return n.proposeConfigChange(func(next *Configuration) error {
		if _, ok := next.Get(id); !ok {
			return newErr(ErrNotFound, "server %d not in configuration", id)
		}
		next.Remove(id)
		return nil
	}, done)
}

// DemoteServer proposes changing a member's role to Standby, removing it
// from quorum counting without removing it from the cluster.
func (n *Node) DemoteServer(id ServerID, done func(error)) error {
	return n.proposeConfigChange(func(next *Configuration) error {
		s, ok := next.Get(id)
		if !ok {
			return newErr(ErrNotFound, "server %d not in configuration", id)
		}
		next.Remove(id)
		return next.Add(id, s.Address, RoleStandby)
	}, done)
}

// PromoteServer proposes promoting a Standby/Idle member to Voter, first
// waiting for it to catch up within MaxSyncRounds heartbeat rounds of the
// leader's log (spec.md §4.8, §9 Open Question: resolved as a bounded
// catch-up wait rather than an unconditional immediate promotion, since
// immediately handing voting rights to a far-behind member would shrink
// the effective quorum's availability without improving durability).
func (n *Node) PromoteServer(id ServerID, done func(error)) error {
	if n.state != StateLeader {
		return ErrNotLeaderError
	}
	if n.promotion != nil {
		return newErr(ErrCantChange, "a promotion is already pending for server %d", n.promotion.target)
	}
	s, ok := n.activeConfig().Get(id)
	if !ok {
		return newErr(ErrNotFound, "server %d not in configuration", id)
	}
	if s.Role == RoleVoter {
		return newErr(ErrInvalidParam, "server %d is already a voter", id)
	}

	n.promotion = &promotionRound{
		target:         id,
		round:          0,
		roundTargetIdx: n.log.LastIndex(),
		onDone:         done,
	}
	return nil
}

// checkPromotion is driven from onTick while a promotion is pending: it
// advances the catch-up round or finalizes/fails the promotion.
func (n *Node) checkPromotion() {
	pr := n.promotion
	if pr == nil || n.state != StateLeader {
		return
	}

	p := n.progress.Get(pr.target, n.log.LastIndex())
	if p.MatchIndex >= pr.roundTargetIdx {
		n.promotion = nil
		err := n.proposeConfigChange(func(next *Configuration) error {
			s, ok := next.Get(pr.target)
			if !ok {
				return newErr(ErrNotFound, "server %d not in configuration", pr.target)
			}
			next.Remove(pr.target)
			return next.Add(pr.target, s.Address, RoleVoter)
		}, pr.onDone)
		if err != nil {
			pr.onDone(err)
		}
		return
	}

	pr.round++
	if pr.round >= n.opts.MaxSyncRounds {
		n.promotion = nil
		pr.onDone(ErrBusyError)
		return
	}
	pr.roundTargetIdx = n.log.LastIndex()
}

// proposeConfigChange is the shared implementation behind every
// membership-change API: only one ConfigChange may be outstanding at a
// time (spec.md §4.1 "a single pending change at a time").
func (n *Node) proposeConfigChange(mutate func(next *Configuration) error, done func(error)) error {
	if n.state != StateLeader {
		return ErrNotLeaderError
	}
	if n.transferTarget != 0 {
		return newErr(ErrNotLeader, "leadership transfer pending to server %d", n.transferTarget)
	}
	if n.queue.HasPendingChange() {
		return ErrCantChangeError
	}

	next := n.activeConfig().Clone()
	if err := mutate(next); err != nil {
		return err
	}

	e := n.appendLocal(EntryConfigChange, next.Encode())
	return n.queue.EnqueueChange(e.Index, e.Term, done)
}
