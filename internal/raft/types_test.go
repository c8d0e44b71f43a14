package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleConfigurationContains(t *testing.T) {
	cfg := SimpleConfiguration("a", "b", "c")
	assert.True(t, cfg.Contains("a"))
	assert.False(t, cfg.Contains("z"))
	assert.False(t, cfg.Joint)
}

func TestCloneDoesNotAliasOriginal(t *testing.T) {
	cfg := SimpleConfiguration("a", "b")
	clone := cfg.Clone()
	clone.Nodes["c"] = struct{}{}

	assert.True(t, clone.Contains("c"))
	assert.False(t, cfg.Contains("c"))
}

func TestCloneCopiesJointOldNodes(t *testing.T) {
	cfg := Configuration{
		Nodes:    map[NodeID]struct{}{"a": {}},
		Joint:    true,
		OldNodes: map[NodeID]struct{}{"b": {}},
	}
	clone := cfg.Clone()
	assert.True(t, clone.Joint)
	_, ok := clone.OldNodes["b"]
	assert.True(t, ok)

	delete(clone.OldNodes, "b")
	_, stillThere := cfg.OldNodes["b"]
	assert.True(t, stillThere)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "Follower", Follower.String())
	assert.Equal(t, "Candidate", Candidate.String())
	assert.Equal(t, "Leader", Leader.String())
}
