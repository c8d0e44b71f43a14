package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/raft"
)

func TestQuorumSizeSimple(t *testing.T) {
	cfg := raft.SimpleConfiguration("1", "2", "3")
	assert.Equal(t, 2, QuorumSize(cfg, PhaseNew))
}

func TestIsMajorityJointRequiresBothSubsets(t *testing.T) {
	cfg := raft.Configuration{
		Joint:    true,
		Nodes:    map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}, "4": {}, "5": {}},
		OldNodes: map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}},
	}
	// Majority of new (3/5) but not of old (1/3) -> overall false.
	acks := map[raft.NodeID]struct{}{"1": {}, "4": {}, "5": {}}
	assert.False(t, IsMajorityJoint(cfg, acks))

	// Majority of both.
	acks2 := map[raft.NodeID]struct{}{"1": {}, "2": {}, "4": {}, "5": {}}
	assert.True(t, IsMajorityJoint(cfg, acks2))
}

func TestManagerConfigAtConsultsActivationIndex(t *testing.T) {
	m := NewManager(raft.SimpleConfiguration("1", "2", "3"))
	joint := raft.Configuration{
		Joint:    true,
		Nodes:    map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}, "4": {}, "5": {}},
		OldNodes: map[raft.NodeID]struct{}{"1": {}, "2": {}, "3": {}},
	}
	m.Activate(10, joint)
	newCfg := raft.SimpleConfiguration("1", "2", "3", "4", "5")
	m.Activate(15, newCfg)

	require.False(t, m.ConfigAt(5).Joint)
	require.True(t, m.ConfigAt(10).Joint)
	require.True(t, m.ConfigAt(14).Joint)
	require.False(t, m.ConfigAt(15).Joint)
	assert.Len(t, m.ConfigAt(20).Nodes, 5)
}

func TestManagerTruncateAfterDropsActivations(t *testing.T) {
	m := NewManager(raft.SimpleConfiguration("1", "2", "3"))
	m.Activate(10, raft.SimpleConfiguration("1", "2", "3", "4"))
	m.TruncateAfter(9)
	assert.Len(t, m.Current().Nodes, 3)
}
