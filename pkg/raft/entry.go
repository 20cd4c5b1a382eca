package raft

// EntryKind is the kind of payload a log Entry carries (spec.md §3).
type EntryKind uint8

// Entry kinds.
const (
	EntryCommand EntryKind = iota + 1
	EntryBarrier
	EntryConfigChange
)

// entryBatch is the co-residency group for entries that were loaded from
// the IO layer in a single read and share one underlying buffer (spec.md
// §3 "batch-owner"). The batch's backing memory is released only once
// every co-resident entry's refcount has dropped to zero.
type entryBatch struct {
	remaining int
	onFree    func()
}

func newEntryBatch(size int, onFree func()) *entryBatch {
	return &entryBatch{remaining: size, onFree: onFree}
}

func (b *entryBatch) release() {
	if b == nil {
		return
	}
	b.remaining--
	if b.remaining <= 0 && b.onFree != nil {
		b.onFree()
		b.onFree = nil
	}
}

// Entry is one log record. Term/Index/Kind/Data mirror spec.md §3.
//
// refcount tracks only EXTERNAL references (an append-in-flight or a
// send-in-flight hold one each via Log.Acquire/Release); inLog tracks
// whether the log itself still considers this entry live. The payload is
// freed once both are gone -- see Log.dropLogRef/Release.
type Entry struct {
	Term  uint64
	Index uint64
	Kind  EntryKind
	Data  []byte

	batch    *entryBatch
	refcount int
	inLog    bool
}

func newEntry(term, index uint64, kind EntryKind, data []byte) *Entry {
	return &Entry{Term: term, Index: index, Kind: kind, Data: data, inLog: true}
}

// free drops the entry's own backing buffer and, if it shares a batch,
// notifies the batch a co-tenant is gone.
func (e *Entry) free() {
	if e.batch != nil {
		e.batch.release()
		e.batch = nil
	}
	e.Data = nil
}

// Refcount reports the current external reference count, exposed for
// tests verifying the refcount invariant (spec.md §8).
func (e *Entry) Refcount() int {
	return e.refcount
}
