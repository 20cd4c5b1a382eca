package raft

import "github.com/google/uuid"

// requestKind distinguishes the three things a client can enqueue
// (spec.md §4.8).
type requestKind uint8

const (
	reqApply requestKind = iota + 1
	reqBarrier
	reqChange
)

// pendingRequest is one outstanding client request awaiting commit+apply.
// Apply requests may span several consecutive entries (one command per
// buffer passed to Apply); Barrier and Change requests always span one.
type pendingRequest struct {
	id         uuid.UUID
	kind       requestKind
	startIndex uint64
	endIndex   uint64
	term       uint64 // term the entries were appended in
	results    []interface{}
	onApply    func(results []interface{}, err error)
}

// ClientQueue tracks pending apply/barrier/change requests and completes
// them as the engine applies entries to the FSM (spec.md §4.8, C8).
type ClientQueue struct {
	pending         []*pendingRequest
	pendingChangeAt uint64 // log index of an outstanding, uncommitted ConfigChange; 0 if none
}

// NewClientQueue creates an empty queue.
func NewClientQueue() *ClientQueue {
	return &ClientQueue{}
}

// EnqueueApply registers a multi-entry Apply request spanning
// [startIndex, endIndex], firing onApply once every entry in the range
// has been applied.
func (q *ClientQueue) EnqueueApply(startIndex, endIndex, term uint64, onApply func([]interface{}, error)) {
	q.pending = append(q.pending, &pendingRequest{
		id:         uuid.New(),
		kind:       reqApply,
		startIndex: startIndex,
		endIndex:   endIndex,
		term:       term,
		results:    make([]interface{}, endIndex-startIndex+1),
		onApply:    onApply,
	})
}

// EnqueueBarrier registers a single Barrier entry's completion callback.
func (q *ClientQueue) EnqueueBarrier(index, term uint64, done func(error)) {
	q.pending = append(q.pending, &pendingRequest{
		id:         uuid.New(),
		kind:       reqBarrier,
		startIndex: index,
		endIndex:   index,
		term:       term,
		results:    make([]interface{}, 1),
		onApply:    func(_ []interface{}, err error) { done(err) },
	})
}

// EnqueueChange registers a pending ConfigChange entry. Returns
// CantChange if another change is already pending.
func (q *ClientQueue) EnqueueChange(index, term uint64, done func(error)) error {
	if q.pendingChangeAt != 0 {
		return newErr(ErrCantChange, "a configuration change is already pending at index %d", q.pendingChangeAt)
	}
	q.pendingChangeAt = index
	q.pending = append(q.pending, &pendingRequest{
		id:         uuid.New(),
		kind:       reqChange,
		startIndex: index,
		endIndex:   index,
		term:       term,
		results:    make([]interface{}, 1),
		onApply: func(_ []interface{}, err error) {
			if q.pendingChangeAt == index {
				q.pendingChangeAt = 0
			}
			done(err)
		},
	})
	return nil
}

// HasPendingChange reports whether a ConfigChange is already queued.
func (q *ClientQueue) HasPendingChange() bool {
	return q.pendingChangeAt != 0
}

// OnApplied notifies the queue that the entry at index was applied with
// the given FSM result (nil for Barrier/ConfigChange). Completes and
// removes any pendingRequest whose range is now fully applied.
func (q *ClientQueue) OnApplied(index uint64, result interface{}) {
	remaining := q.pending[:0]
	for _, r := range q.pending {
		if index >= r.startIndex && index <= r.endIndex {
			r.results[index-r.startIndex] = result
		}
		if index >= r.endIndex {
			r.onApply(r.results, nil)
			continue
		}
		remaining = append(remaining, r)
	}
	q.pending = remaining
}

// FailAll fails every pending request with err, used on leadership loss
// or shutdown (spec.md §5 "Cancellation", §7).
func (q *ClientQueue) FailAll(err error) {
	pending := q.pending
	q.pending = nil
	q.pendingChangeAt = 0
	for _, r := range pending {
		r.onApply(r.results, err)
	}
}

// FailFrom fails and removes any pending request whose range starts at
// or after index, used when a leader's own uncommitted suffix is
// truncated (should never happen per "leader append-only", kept for
// defense if a higher term is adopted mid-request).
func (q *ClientQueue) FailFrom(index uint64, err error) {
	remaining := q.pending[:0]
	for _, r := range q.pending {
		if r.startIndex >= index {
			if r.kind == reqChange && q.pendingChangeAt == r.startIndex {
				q.pendingChangeAt = 0
			}
			r.onApply(r.results, err)
			continue
		}
		remaining = append(remaining, r)
	}
	q.pending = remaining
}
