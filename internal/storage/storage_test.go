package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/raft"
)

func engines(t *testing.T) map[string]Engine {
	t.Helper()
	bolt, err := OpenBoltStore(filepath.Join(t.TempDir(), "raft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Engine{
		"mem":  NewMemStore(),
		"bolt": bolt,
	}
}

func TestEngineTermAndVote(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			term, err := eng.LoadTerm()
			require.NoError(t, err)
			require.Equal(t, raft.Term(0), term)

			require.NoError(t, eng.SaveTerm(5))
			term, err = eng.LoadTerm()
			require.NoError(t, err)
			require.Equal(t, raft.Term(5), term)

			_, has, err := eng.LoadVote()
			require.NoError(t, err)
			require.False(t, has)

			require.NoError(t, eng.SaveVote("node-2", true))
			cand, has, err := eng.LoadVote()
			require.NoError(t, err)
			require.True(t, has)
			require.Equal(t, raft.NodeID("node-2"), cand)
		})
	}
}

func TestEngineLogAppendTruncateCompact(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			entries := []raft.LogEntry{
				{Term: 1, Index: 1, Kind: raft.EntryCommand, Command: []byte("a")},
				{Term: 1, Index: 2, Kind: raft.EntryCommand, Command: []byte("b")},
				{Term: 2, Index: 3, Kind: raft.EntryCommand, Command: []byte("c")},
			}
			require.NoError(t, eng.AppendEntries(entries))

			first, err := eng.FirstIndex()
			require.NoError(t, err)
			require.Equal(t, raft.LogIndex(1), first)

			last, err := eng.LastIndex()
			require.NoError(t, err)
			require.Equal(t, raft.LogIndex(3), last)

			e, ok, err := eng.EntryAt(2)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, entries[1], e)

			from, err := eng.EntriesFrom(2)
			require.NoError(t, err)
			require.Len(t, from, 2)

			require.NoError(t, eng.TruncateSuffix(3))
			last, err = eng.LastIndex()
			require.NoError(t, err)
			require.Equal(t, raft.LogIndex(2), last)
			_, ok, err = eng.EntryAt(3)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, eng.CompactLogThrough(1))
			first, err = eng.FirstIndex()
			require.NoError(t, err)
			require.Equal(t, raft.LogIndex(2), first)
			_, ok, err = eng.EntryAt(1)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestEngineSnapshot(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, _, ok, err := eng.LoadSnapshot()
			require.NoError(t, err)
			require.False(t, ok)

			meta := SnapshotMeta{
				LastIncludedIndex: 100,
				LastIncludedTerm:  5,
				Configuration:     raft.SimpleConfiguration("1", "2", "3"),
			}
			require.NoError(t, eng.SaveSnapshot(meta, []byte("state-bytes")))

			gotMeta, data, ok, err := eng.LoadSnapshot()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, meta.LastIncludedIndex, gotMeta.LastIncludedIndex)
			require.Equal(t, meta.LastIncludedTerm, gotMeta.LastIncludedTerm)
			require.Equal(t, []byte("state-bytes"), data)
		})
	}
}
