package storage

import (
	"sort"
	"sync"

	"github.com/kythira/raft/internal/raft"
)

// MemStore is an in-memory Engine used by simulator-backed tests. Entries
// are keyed by index in a map rather than a slice so TruncateSuffix and
// CompactLogThrough delete in place instead of shifting a contiguous
// backing array; each still scans every stored entry.
type MemStore struct {
	mu sync.Mutex

	term Term
	vote voteRecord

	entries    map[raft.LogIndex]raft.LogEntry
	firstIndex raft.LogIndex // 0 means "derive from snapshot + 1"
	lastIndex  raft.LogIndex

	snapMeta SnapshotMeta
	snapData []byte
	haveSnap bool
}

type Term = raft.Term

type voteRecord struct {
	candidate raft.NodeID
	has       bool
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[raft.LogIndex]raft.LogEntry)}
}

func (m *MemStore) LoadTerm() (raft.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.term, nil
}

func (m *MemStore) SaveTerm(t raft.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = t
	return nil
}

func (m *MemStore) LoadVote() (raft.NodeID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vote.candidate, m.vote.has, nil
}

func (m *MemStore) SaveVote(candidate raft.NodeID, hasVote bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vote = voteRecord{candidate: candidate, has: hasVote}
	return nil
}

func (m *MemStore) AppendEntries(entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Index] = e
		if m.firstIndex == 0 || e.Index < m.firstIndex {
			m.firstIndex = e.Index
		}
		if e.Index > m.lastIndex {
			m.lastIndex = e.Index
		}
	}
	return nil
}

func (m *MemStore) EntryAt(index raft.LogIndex) (raft.LogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[index]
	return e, ok, nil
}

func (m *MemStore) EntriesFrom(index raft.LogIndex) ([]raft.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]raft.LogEntry, 0, len(m.entries))
	for idx, e := range m.entries {
		if idx >= index {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemStore) TruncateSuffix(fromIndex raft.LogIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.entries {
		if idx >= fromIndex {
			delete(m.entries, idx)
		}
	}
	m.lastIndex = m.recomputeLastLocked()
	return nil
}

func (m *MemStore) recomputeLastLocked() raft.LogIndex {
	var max raft.LogIndex
	for idx := range m.entries {
		if idx > max {
			max = idx
		}
	}
	return max
}

func (m *MemStore) FirstIndex() (raft.LogIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstIndex == 0 && m.haveSnap {
		return m.snapMeta.LastIncludedIndex + 1, nil
	}
	return m.firstIndex, nil
}

func (m *MemStore) LastIndex() (raft.LogIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIndex, nil
}

func (m *MemStore) SaveSnapshot(meta SnapshotMeta, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapMeta = meta
	m.snapData = append([]byte(nil), data...)
	m.haveSnap = true
	return nil
}

func (m *MemStore) LoadSnapshot() (SnapshotMeta, []byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveSnap {
		return SnapshotMeta{}, nil, false, nil
	}
	return m.snapMeta, append([]byte(nil), m.snapData...), true, nil
}

func (m *MemStore) CompactLogThrough(index raft.LogIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.entries {
		if idx <= index {
			delete(m.entries, idx)
		}
	}
	m.firstIndex = index + 1
	if m.lastIndex < index {
		m.lastIndex = index
	}
	return nil
}

func (m *MemStore) Close() error { return nil }
