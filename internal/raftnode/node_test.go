package raftnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/config"
	"github.com/kythira/raft/internal/fsm"
	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/logging"
	"github.com/kythira/raft/internal/metrics"
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/simulator"
	"github.com/kythira/raft/internal/storage"
	"github.com/kythira/raft/internal/transport"
	"github.com/kythira/raft/internal/wire"
)

type cluster struct {
	sim    *simulator.Simulator
	nodes  map[raft.NodeID]*Node
	trs    map[raft.NodeID]*transport.SimulatorTransport
	stopCh chan struct{}
}

func newCluster(t *testing.T, ids []raft.NodeID) *cluster {
	t.Helper()
	sim := simulator.New(7)
	for _, a := range ids {
		sim.AddNode(a)
		for _, b := range ids {
			if a == b {
				continue
			}
			sim.AddEdge(a, b, simulator.NetworkEdge{Latency: time.Millisecond, Reliability: 1})
		}
	}
	sim.Start()

	cfg := config.Default()
	initial := raft.SimpleConfiguration(ids...)
	ser := wire.NewGobSerializer()

	c := &cluster{sim: sim, nodes: make(map[raft.NodeID]*Node), trs: make(map[raft.NodeID]*transport.SimulatorTransport), stopCh: make(chan struct{})}
	for i, id := range ids {
		tr := transport.NewSimulatorTransport(sim, id, ser, logging.Nop())
		store := storage.NewMemStore()
		node, err := New(id, int64(i+1), cfg, store, fsm.NewKV(), tr, logging.Nop(), metrics.Nop{}, initial)
		require.NoError(t, err)

		tr.RegisterRequestVoteHandler(node.HandleRequestVote)
		tr.RegisterAppendEntriesHandler(node.HandleAppendEntries)
		tr.RegisterInstallSnapshotHandler(node.HandleInstallSnapshot)
		require.NoError(t, tr.Start())

		c.nodes[id] = node
		c.trs[id] = tr
		node.Start()
	}

	go c.tickLoop()
	t.Cleanup(c.stop)
	return c
}

func (c *cluster) tickLoop() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			for _, n := range c.nodes {
				n.CheckElectionTimeout(now)
				n.CheckHeartbeatTimeout(now)
			}
		}
	}
}

func (c *cluster) stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	for _, n := range c.nodes {
		n.Shutdown()
	}
	for _, tr := range c.trs {
		_ = tr.Stop()
	}
}

func (c *cluster) leader() *Node {
	for _, n := range c.nodes {
		if n.Role() == raft.Leader {
			return n
		}
	}
	return nil
}

func TestClusterElectsExactlyOneLeaderPerTerm(t *testing.T) {
	c := newCluster(t, []raft.NodeID{"n1", "n2", "n3"})

	require.Eventually(t, func() bool {
		return c.leader() != nil
	}, 3*time.Second, 10*time.Millisecond)

	leaders := map[raft.Term][]raft.NodeID{}
	for _, n := range c.nodes {
		if n.Role() == raft.Leader {
			leaders[n.Term()] = append(leaders[n.Term()], n.ID())
		}
	}
	for term, ls := range leaders {
		assert.Lenf(t, ls, 1, "term %d had %d leaders: %v", term, len(ls), ls)
	}
}

func TestLeaderReplicatesCommandToAllFollowers(t *testing.T) {
	c := newCluster(t, []raft.NodeID{"n1", "n2", "n3"})

	var leader *Node
	require.Eventually(t, func() bool {
		leader = c.leader()
		return leader != nil
	}, 3*time.Second, 10*time.Millisecond)

	cmd, err := fsm.EncodeSet("x", []byte("1"))
	require.NoError(t, err)
	f, err := leader.Apply(cmd, time.Second)
	require.NoError(t, err)
	_, err = f.Get()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.CommitIndex() < leader.CommitIndex() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSingleNodeClusterCommitsImmediately(t *testing.T) {
	c := newCluster(t, []raft.NodeID{"n1"})

	var leader *Node
	require.Eventually(t, func() bool {
		leader = c.leader()
		return leader != nil
	}, 3*time.Second, 10*time.Millisecond)

	cmd, err := fsm.EncodeSet("x", []byte("1"))
	require.NoError(t, err)
	f, err := leader.Apply(cmd, time.Second)
	require.NoError(t, err)
	_, err = f.Get()
	require.NoError(t, err)
}

func TestApplyTimesOutInMinorityPartition(t *testing.T) {
	c := newCluster(t, []raft.NodeID{"n1", "n2", "n3"})

	var leader *Node
	require.Eventually(t, func() bool {
		leader = c.leader()
		return leader != nil
	}, 3*time.Second, 10*time.Millisecond)

	for _, id := range []raft.NodeID{"n1", "n2", "n3"} {
		if id == leader.ID() {
			continue
		}
		c.sim.RemoveEdge(leader.ID(), id)
		c.sim.RemoveEdge(id, leader.ID())
	}

	f, err := leader.Apply([]byte("stuck"), 50*time.Millisecond)
	require.NoError(t, err)
	_, err = f.Get()
	require.Error(t, err)
	var futureErr *future.Error
	require.ErrorAs(t, err, &futureErr)
	assert.Equal(t, future.TimeoutTag, futureErr.Tag)
}

func TestApplyFailsWhenNotLeader(t *testing.T) {
	c := newCluster(t, []raft.NodeID{"n1", "n2", "n3"})

	var follower *Node
	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.Role() == raft.Follower {
				follower = n
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	_, err := follower.Apply([]byte("x"), time.Second)
	assert.ErrorIs(t, err, ErrNotLeader)
}
