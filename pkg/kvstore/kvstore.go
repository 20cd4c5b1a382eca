// Package kvstore is a reference FSM: a simple concurrency-safe string
// key/value store driven entirely through raft.FSM, demonstrating how a
// host application plugs its state machine into the engine (spec.md §6).
package kvstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sidecus/raftcore/pkg/util"
)

// Command kinds a KVStore's log entries carry.
const (
	CmdSet = 1
	CmdDel = 2
)

// Cmd is the JSON payload carried by one Apply call (spec.md §6 "FSM").
type Cmd struct {
	Type  int
	Key   string
	Value string
}

// KVStore is a concurrency-safe string key/value store implementing
// raft.FSM.
type KVStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty KVStore.
func New() *KVStore {
	return &KVStore{data: make(map[string]string)}
}

// Apply decodes and applies one command, implementing raft.FSM.Apply.
func (s *KVStore) Apply(data []byte) (interface{}, error) {
	var cmd Cmd
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decoding kvstore command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Type {
	case CmdSet:
		s.data[cmd.Key] = cmd.Value
		return cmd.Value, nil
	case CmdDel:
		delete(s.data, cmd.Key)
		return nil, nil
	default:
		util.Panicf("unexpected kvstore command type %d", cmd.Type)
		return nil, nil
	}
}

// Get reads a key directly from local state, bypassing consensus; callers
// wanting a linearizable read should issue a Barrier first.
func (s *KVStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Snapshot implements raft.FSM.Snapshot, serializing the whole map as one
// JSON-encoded buffer.
func (s *KVStore) Snapshot() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.data)
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

// Restore implements raft.FSM.Restore.
func (s *KVStore) Restore(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]string)
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return err
	}
	s.data = m
	return nil
}

// EncodeSet builds the Apply payload for a Set command.
func EncodeSet(key, value string) []byte {
	data, _ := json.Marshal(Cmd{Type: CmdSet, Key: key, Value: value})
	return data
}

// EncodeDel builds the Apply payload for a Del command.
func EncodeDel(key string) []byte {
	data, _ := json.Marshal(Cmd{Type: CmdDel, Key: key})
	return data
}
