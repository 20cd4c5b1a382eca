package raft

import "testing"

func TestLogAppendContiguity(t *testing.T) {
	l := NewLog()
	if err := l.Append(newEntry(1, 1, EntryCommand, nil)); err != nil {
		t.Fatalf("append: %s", err)
	}
	if err := l.Append(newEntry(1, 3, EntryCommand, nil)); err == nil {
		t.Fatalf("expected non-contiguous index error")
	}
	if err := l.Append(newEntry(0, 2, EntryCommand, nil)); err == nil {
		t.Fatalf("expected term regression error")
	}
}

func TestLogGrowth(t *testing.T) {
	l := NewLog()
	for i := uint64(1); i <= 100; i++ {
		if err := l.Append(newEntry(1, i, EntryCommand, nil)); err != nil {
			t.Fatalf("append %d: %s", i, err)
		}
	}
	if l.LastIndex() != 100 {
		t.Fatalf("last index = %d, want 100", l.LastIndex())
	}
	e, ok := l.Get(57)
	if !ok || e.Index != 57 {
		t.Fatalf("Get(57) = %+v, %v", e, ok)
	}
}

func TestLogTruncateFrom(t *testing.T) {
	l := NewLog()
	for i := uint64(1); i <= 5; i++ {
		l.Append(newEntry(1, i, EntryCommand, nil))
	}
	l.TruncateFrom(3)
	if l.LastIndex() != 2 {
		t.Fatalf("last index after truncate = %d, want 2", l.LastIndex())
	}
	if _, ok := l.Get(3); ok {
		t.Fatalf("entry 3 should be gone")
	}
	if err := l.Append(newEntry(2, 3, EntryCommand, nil)); err != nil {
		t.Fatalf("re-append after truncate: %s", err)
	}
}

func TestLogSnapshotInstall(t *testing.T) {
	l := NewLog()
	for i := uint64(1); i <= 10; i++ {
		l.Append(newEntry(1, i, EntryCommand, nil))
	}
	l.SnapshotInstall(6, 1)

	if l.SnapshotIndex() != 6 {
		t.Fatalf("snapshot index = %d, want 6", l.SnapshotIndex())
	}
	if _, ok := l.Get(6); ok {
		t.Fatalf("entry 6 should be compacted away")
	}
	if e, ok := l.Get(7); !ok || e.Index != 7 {
		t.Fatalf("entry 7 should survive compaction")
	}
	if term, ok := l.TermOf(6); !ok || term != 1 {
		t.Fatalf("term_of(snapshot boundary) = %d, %v", term, ok)
	}
}

func TestLogRefcountKeepsPayloadAliveAcrossTruncate(t *testing.T) {
	l := NewLog()
	e := newEntry(1, 1, EntryCommand, []byte("payload"))
	l.Append(e)
	l.Acquire(e)

	l.TruncateFrom(1)
	if e.Data == nil {
		t.Fatalf("payload freed while external refcount still held")
	}

	l.Release(e)
	if e.Data != nil {
		t.Fatalf("payload should be freed once last reference drops")
	}
}

func TestLogReset(t *testing.T) {
	l := NewLog()
	for i := uint64(1); i <= 5; i++ {
		l.Append(newEntry(1, i, EntryCommand, nil))
	}
	l.Reset(20, 3)

	if l.LastIndex() != 20 || l.LastTerm() != 3 {
		t.Fatalf("after reset, last = (%d, %d), want (20, 3)", l.LastIndex(), l.LastTerm())
	}
	if err := l.Append(newEntry(3, 21, EntryCommand, nil)); err != nil {
		t.Fatalf("append after reset: %s", err)
	}
}

func TestLogEntriesRange(t *testing.T) {
	l := NewLog()
	for i := uint64(1); i <= 10; i++ {
		l.Append(newEntry(1, i, EntryCommand, nil))
	}
	entries := l.Entries(3, 7)
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}
	if entries[0].Index != 3 || entries[len(entries)-1].Index != 6 {
		t.Fatalf("unexpected range: first=%d last=%d", entries[0].Index, entries[len(entries)-1].Index)
	}
}
