package fsm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/kythira/raft/internal/raft"
)

// KVCommand is the command envelope the KV example state machine applies.
// Op is one of "set" or "delete".
type KVCommand struct {
	Op    string
	Key   string
	Value []byte
}

// KV is a minimal in-memory key/value StateMachine, used by tests and as
// a reference implementation for end-to-end cluster scenarios.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV constructs an empty KV state machine.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Apply decodes a KVCommand and mutates the map. The result bytes echo the
// previous value for "set" (empty if none) so callers can observe
// compare-and-swap-style semantics if they choose to build on top.
func (k *KV) Apply(index raft.LogIndex, command []byte) ([]byte, error) {
	var cmd KVCommand
	if err := gob.NewDecoder(bytes.NewReader(command)).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("fsm/kv: decode command at index %d: %w", index, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	prev := k.data[cmd.Key]
	switch cmd.Op {
	case "set":
		k.data[cmd.Key] = cmd.Value
	case "delete":
		delete(k.data, cmd.Key)
	default:
		return nil, fmt.Errorf("fsm/kv: unknown op %q", cmd.Op)
	}
	return prev, nil
}

// Get reads a value directly, bypassing replication (used by tests to
// assert on applied state; not part of the StateMachine contract).
func (k *KV) Get(key string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Snapshot serializes the entire map.
func (k *KV) Snapshot() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	snapshot := make(map[string][]byte, len(k.data))
	for key, v := range k.data {
		snapshot[key] = append([]byte(nil), v...)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, fmt.Errorf("fsm/kv: snapshot encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the map wholesale from snapshot bytes.
func (k *KV) Restore(data []byte) error {
	var snapshot map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return fmt.Errorf("fsm/kv: restore decode: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data = snapshot
	return nil
}

// EncodeSet builds the command bytes for a "set" operation, a convenience
// for callers (tests, example drivers) submitting commands to raftnode's
// Node.Apply.
func EncodeSet(key string, value []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(KVCommand{Op: "set", Key: key, Value: value}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeDelete builds the command bytes for a "delete" operation.
func EncodeDelete(key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(KVCommand{Op: "delete", Key: key}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
