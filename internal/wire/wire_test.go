package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/raft"
)

func TestRoundTripLogEntry(t *testing.T) {
	s := NewGobSerializer()
	e := raft.LogEntry{Term: 3, Index: 7, Kind: raft.EntryCommand, Command: []byte("set x=1")}
	b, err := s.EncodeLogEntry(e)
	require.NoError(t, err)
	got, err := s.DecodeLogEntry(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestRoundTripConfiguration(t *testing.T) {
	s := NewGobSerializer()
	c := raft.Configuration{
		Joint:    true,
		Nodes:    map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}, "4": {}, "5": {}},
		OldNodes: map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}},
	}
	b, err := s.EncodeConfiguration(c)
	require.NoError(t, err)
	got, err := s.DecodeConfiguration(b)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestRoundTripRequestVote(t *testing.T) {
	s := NewGobSerializer()
	a := raft.RequestVoteArgs{Term: 5, CandidateID: "2", LastLogIndex: 10, LastLogTerm: 4}
	b, err := s.EncodeRequestVoteArgs(a)
	require.NoError(t, err)
	got, err := s.DecodeRequestVoteArgs(b)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	r := raft.RequestVoteReply{Term: 5, VoteGranted: true}
	rb, err := s.EncodeRequestVoteReply(r)
	require.NoError(t, err)
	gotR, err := s.DecodeRequestVoteReply(rb)
	require.NoError(t, err)
	assert.Equal(t, r, gotR)
}

func TestRoundTripAppendEntries(t *testing.T) {
	s := NewGobSerializer()
	a := raft.AppendEntriesArgs{
		Term:         9,
		LeaderID:     "1",
		PrevLogIndex: 4,
		PrevLogTerm:  8,
		Entries: []raft.LogEntry{
			{Term: 9, Index: 5, Kind: raft.EntryCommand, Command: []byte("a")},
			{Term: 9, Index: 6, Kind: raft.EntryNoOp},
		},
		LeaderCommit: 4,
	}
	b, err := s.EncodeAppendEntriesArgs(a)
	require.NoError(t, err)
	got, err := s.DecodeAppendEntriesArgs(b)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	r := raft.AppendEntriesReply{Term: 9, Success: false, HasConflict: true, ConflictIndex: 3, ConflictTerm: 7}
	rb, err := s.EncodeAppendEntriesReply(r)
	require.NoError(t, err)
	gotR, err := s.DecodeAppendEntriesReply(rb)
	require.NoError(t, err)
	assert.Equal(t, r, gotR)
}

func TestRoundTripInstallSnapshot(t *testing.T) {
	s := NewGobSerializer()
	a := raft.InstallSnapshotArgs{
		Term: 12, LeaderID: "1", LastIncludedIndex: 1000, LastIncludedTerm: 11,
		Offset: 4096, Data: []byte{1, 2, 3, 4}, Done: true,
	}
	b, err := s.EncodeInstallSnapshotArgs(a)
	require.NoError(t, err)
	got, err := s.DecodeInstallSnapshotArgs(b)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	r := raft.InstallSnapshotReply{Term: 12}
	rb, err := s.EncodeInstallSnapshotReply(r)
	require.NoError(t, err)
	gotR, err := s.DecodeInstallSnapshotReply(rb)
	require.NoError(t, err)
	assert.Equal(t, r, gotR)
}
