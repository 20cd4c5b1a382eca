package raft

import "github.com/sidecus/raftcore/pkg/util"

// Log is a circular buffer of entries plus snapshot metadata (spec.md §3,
// §4.2). Indices are contiguous; `offset` is such that the first live
// entry's raft index equals offset+1.
//
// Refcounting: a circular buffer that physically reuses array slots needs
// an external refcount table keyed by (term, index), since a plain index
// can't disambiguate an old, truncated entry from a newer one written to
// the same slot. In Go, entries are heap objects referenced by pointer,
// so pointer identity already disambiguates them perfectly -- Acquire/
// Release take the *Entry itself rather than an index (see DESIGN.md).
type Log struct {
	buf  []*Entry
	head int
	n    int

	offset uint64

	snapshotIndex uint64
	snapshotTerm  uint64
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{buf: make([]*Entry, 8)}
}

func (l *Log) at(pos int) *Entry {
	return l.buf[(l.head+pos)%len(l.buf)]
}

func (l *Log) grow() {
	newCap := len(l.buf) * 2
	if newCap == 0 {
		newCap = 8
	}
	nb := make([]*Entry, newCap)
	for i := 0; i < l.n; i++ {
		nb[i] = l.at(i)
	}
	l.buf = nb
	l.head = 0
}

// LastIndex returns the index of the last entry, or the snapshot's last
// index when the log is empty.
func (l *Log) LastIndex() uint64 {
	if l.n == 0 {
		return l.snapshotIndex
	}
	return l.offset + uint64(l.n)
}

// LastTerm returns the term of the last entry, or the snapshot's last
// term when the log is empty.
func (l *Log) LastTerm() uint64 {
	if l.n == 0 {
		return l.snapshotTerm
	}
	return l.at(l.n - 1).Term
}

// SnapshotIndex returns the last index covered by the most recent snapshot.
func (l *Log) SnapshotIndex() uint64 {
	return l.snapshotIndex
}

// SnapshotTerm returns the term of the most recent snapshot's last entry.
func (l *Log) SnapshotTerm() uint64 {
	return l.snapshotTerm
}

// Get returns the entry at index, or false if it's absent (compacted
// away, not yet appended, or beyond LastIndex).
func (l *Log) Get(index uint64) (*Entry, bool) {
	if index <= l.offset || index > l.offset+uint64(l.n) {
		return nil, false
	}
	return l.at(int(index - l.offset - 1)), true
}

// TermOf returns the term of the entry at index, or false if absent. It
// also matches the snapshot boundary: term_of(snapshot.last_index) is the
// snapshot's last term even though that entry is no longer stored.
func (l *Log) TermOf(index uint64) (uint64, bool) {
	if index == 0 {
		// Index 0 is the sentinel "before the first entry ever
		// written"; its implicit term is 0 and the consistency check
		// against it always trivially passes.
		return 0, true
	}
	if index == l.snapshotIndex {
		return l.snapshotTerm, true
	}
	e, ok := l.Get(index)
	if !ok {
		return 0, false
	}
	return e.Term, true
}

// Append adds an entry to the end of the log. Appending an entry whose
// term is less than the previous entry's term is forbidden (spec.md §3).
func (l *Log) Append(e *Entry) error {
	if l.n > 0 {
		last := l.at(l.n - 1)
		if e.Term < last.Term {
			return newErr(ErrInvalidParam, "append term %d older than last entry term %d", e.Term, last.Term)
		}
		if e.Index != last.Index+1 {
			return newErr(ErrInvalidParam, "append index %d not contiguous with last index %d", e.Index, last.Index)
		}
	} else if e.Index != l.offset+1 {
		return newErr(ErrInvalidParam, "append index %d doesn't match expected first index %d", e.Index, l.offset+1)
	}

	if l.n == len(l.buf) {
		l.grow()
	}
	pos := (l.head + l.n) % len(l.buf)
	e.inLog = true
	l.buf[pos] = e
	l.n++
	return nil
}

// TruncateFrom deletes the suffix starting at index (inclusive),
// releasing each removed entry's log-held reference. Truncating at
// LastIndex()+1 is a no-op.
func (l *Log) TruncateFrom(index uint64) {
	if index > l.LastIndex() {
		return
	}
	if index <= l.offset {
		util.Panicf("cannot truncate into compacted range: index %d <= offset %d", index, l.offset)
	}

	keepCount := int(index - l.offset - 1)
	for i := l.n - 1; i >= keepCount; i-- {
		pos := (l.head + i) % len(l.buf)
		e := l.buf[pos]
		l.buf[pos] = nil
		l.dropLogRef(e)
	}
	l.n = keepCount
}

// SnapshotInstall discards entries older than or equal to lastIndex and
// records the new snapshot boundary (spec.md §3(b), §4.2).
func (l *Log) SnapshotInstall(lastIndex, lastTerm uint64) {
	for l.n > 0 && l.at(0).Index <= lastIndex {
		e := l.buf[l.head]
		l.buf[l.head] = nil
		l.head = (l.head + 1) % len(l.buf)
		l.n--
		l.dropLogRef(e)
	}
	if lastIndex > l.offset {
		l.offset = lastIndex
	}
	l.snapshotIndex = lastIndex
	l.snapshotTerm = lastTerm
}

// Reset discards the entire log and re-bases it at lastIndex/lastTerm,
// used by InstallSnapshot on the receiving follower (spec.md §4.9) where
// the whole log (not just a prefix) is replaced.
func (l *Log) Reset(lastIndex, lastTerm uint64) {
	for i := 0; i < l.n; i++ {
		l.dropLogRef(l.at(i))
	}
	l.buf = make([]*Entry, 8)
	l.head = 0
	l.n = 0
	l.offset = lastIndex
	l.snapshotIndex = lastIndex
	l.snapshotTerm = lastTerm
}

// dropLogRef releases the log's own ownership of e. If nothing else
// holds an external reference, the entry's payload is freed now.
func (l *Log) dropLogRef(e *Entry) {
	e.inLog = false
	if e.refcount <= 0 {
		e.free()
	}
}

// Acquire adds an external reference (an outstanding append-in-flight or
// send-in-flight request) to e, keeping its payload alive even if the log
// later truncates or compacts it away.
func (l *Log) Acquire(e *Entry) {
	e.refcount++
}

// Release drops an external reference taken via Acquire. The entry's
// payload (and, transitively, its batch) is freed once both the log's own
// ownership is gone and the external refcount reaches zero.
func (l *Log) Release(e *Entry) {
	e.refcount--
	if e.refcount <= 0 && !e.inLog {
		e.free()
	}
}

// Entries returns the live entries in [from, to) without allocating new
// Entry objects, used by the replication module to build AppendEntries
// payloads.
func (l *Log) Entries(from, to uint64) []*Entry {
	from = util.MaxU64(from, l.offset+1)
	to = util.MinU64(to, l.LastIndex()+1)
	if from >= to {
		return nil
	}
	out := make([]*Entry, 0, to-from)
	for i := from; i < to; i++ {
		e, ok := l.Get(i)
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
