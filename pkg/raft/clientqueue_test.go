package raft

import "testing"

func TestClientQueueApplyCompletesOnceRangeApplied(t *testing.T) {
	q := NewClientQueue()
	var gotResults []interface{}
	var gotErr error
	q.EnqueueApply(5, 7, 1, func(results []interface{}, err error) {
		gotResults = results
		gotErr = err
	})

	q.OnApplied(5, "a")
	if gotResults != nil {
		t.Fatalf("should not complete before full range applied")
	}
	q.OnApplied(6, "b")
	q.OnApplied(7, "c")

	if gotErr != nil {
		t.Fatalf("unexpected error: %s", gotErr)
	}
	if len(gotResults) != 3 || gotResults[0] != "a" || gotResults[2] != "c" {
		t.Fatalf("results = %v", gotResults)
	}
}

func TestClientQueueChangeRejectsConcurrentChange(t *testing.T) {
	q := NewClientQueue()
	if err := q.EnqueueChange(3, 1, func(error) {}); err != nil {
		t.Fatalf("first change: %s", err)
	}
	if err := q.EnqueueChange(4, 1, func(error) {}); err == nil {
		t.Fatalf("expected CantChange for second pending change")
	}

	q.OnApplied(3, nil)
	if q.HasPendingChange() {
		t.Fatalf("pending change should clear once applied")
	}
	if err := q.EnqueueChange(5, 1, func(error) {}); err != nil {
		t.Fatalf("change after prior one applied: %s", err)
	}
}

func TestClientQueueFailAll(t *testing.T) {
	q := NewClientQueue()
	var err1, err2 error
	q.EnqueueApply(1, 1, 1, func(_ []interface{}, err error) { err1 = err })
	q.EnqueueBarrier(2, 1, func(err error) { err2 = err })

	q.FailAll(ErrShutdownError)

	if err1 != ErrShutdownError || err2 != ErrShutdownError {
		t.Fatalf("expected both requests failed with shutdown: %v, %v", err1, err2)
	}
	if len(q.pending) != 0 {
		t.Fatalf("queue should be empty after FailAll")
	}
}

func TestClientQueueFailFrom(t *testing.T) {
	q := NewClientQueue()
	var earlyErr, lateErr error
	q.EnqueueBarrier(1, 1, func(err error) { earlyErr = err })
	q.EnqueueBarrier(5, 1, func(err error) { lateErr = err })

	q.FailFrom(3, ErrLeadershipLostError)

	if earlyErr != nil {
		t.Fatalf("request before cutoff should be untouched")
	}
	if lateErr != ErrLeadershipLostError {
		t.Fatalf("request at/after cutoff should fail: %v", lateErr)
	}
}
