package raftnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/config"
	"github.com/kythira/raft/internal/fsm"
	"github.com/kythira/raft/internal/logging"
	"github.com/kythira/raft/internal/metrics"
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/storage"
)

func newBareNode(t *testing.T) (*Node, *fsm.KV) {
	t.Helper()
	kv := fsm.NewKV()
	node, err := New("n1", 1, config.Default(), storage.NewMemStore(), kv, nil, logging.Nop(), metrics.Nop{}, raft.SimpleConfiguration("n1"))
	require.NoError(t, err)
	node.Start()
	t.Cleanup(node.Shutdown)
	return node, kv
}

func TestInstallSnapshotAdvancesLastApplied(t *testing.T) {
	node, kv := newBareNode(t)

	snapData, err := kv.Snapshot()
	require.NoError(t, err)

	reply := node.HandleInstallSnapshot(raft.InstallSnapshotArgs{
		Term:              1,
		LeaderID:          "leader",
		LastIncludedIndex: 1000,
		LastIncludedTerm:  5,
		Offset:            0,
		Data:              snapData,
		Done:              true,
	})
	require.Equal(t, raft.Term(1), reply.Term)

	node.mu.Lock()
	lastApplied := node.lastApplied
	commitIndex := node.commitIndex
	node.mu.Unlock()
	require.Equal(t, raft.LogIndex(1000), lastApplied)
	require.Equal(t, raft.LogIndex(1000), commitIndex)
}

func TestReplicationContinuesPastInstalledSnapshot(t *testing.T) {
	node, kv := newBareNode(t)

	snapData, err := kv.Snapshot()
	require.NoError(t, err)
	node.HandleInstallSnapshot(raft.InstallSnapshotArgs{
		Term:              1,
		LeaderID:          "leader",
		LastIncludedIndex: 1000,
		LastIncludedTerm:  5,
		Data:              snapData,
		Done:              true,
	})

	cmd, err := fsm.EncodeSet("x", []byte("after-snapshot"))
	require.NoError(t, err)
	reply := node.HandleAppendEntries(raft.AppendEntriesArgs{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 1000,
		PrevLogTerm:  5,
		Entries: []raft.LogEntry{
			{Term: 1, Index: 1001, Kind: raft.EntryCommand, Command: cmd},
		},
		LeaderCommit: 1001,
	})
	require.True(t, reply.Success)

	require.Eventually(t, func() bool {
		v, ok := kv.Get("x")
		return ok && string(v) == "after-snapshot"
	}, time.Second, 5*time.Millisecond)
}
