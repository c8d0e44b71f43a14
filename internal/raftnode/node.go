// Package raftnode implements the Raft node: the role state machine,
// election, log replication, commit advancement, snapshot transfer and
// membership-change lifecycle, driven by manually-ticked timer entry
// points so tests can control time exactly. Its collaborators —
// persistence engine, transport, state machine, logger, metrics — are
// capability interfaces defined across this module's other packages and
// injected at construction, rather than hard-wired concrete types.
package raftnode

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kythira/raft/internal/classify"
	"github.com/kythira/raft/internal/config"
	"github.com/kythira/raft/internal/fsm"
	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/logging"
	"github.com/kythira/raft/internal/membership"
	"github.com/kythira/raft/internal/metrics"
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/storage"
	"github.com/kythira/raft/internal/transport"
	"github.com/kythira/raft/internal/waiter"
)

// ErrNotLeader is returned by Apply and ProposeConfiguration when the
// node does not currently believe itself to be the leader.
var ErrNotLeader = fmt.Errorf("raftnode: not the leader")

// ErrShutdown is returned by calls made after Shutdown.
var ErrShutdown = fmt.Errorf("raftnode: node is shut down")

// ErrConfigChangeInProgress is returned by ProposeConfiguration while a
// prior joint-consensus change has not yet committed its C_new entry.
var ErrConfigChangeInProgress = fmt.Errorf("raftnode: a configuration change is already in progress")

// peerReplication is the leader-only bookkeeping kept per follower.
type peerReplication struct {
	nextIndex  raft.LogIndex
	matchIndex raft.LogIndex
}

// Node is one participant in a Raft cluster. All mutable state is behind
// mu; externally observable effects are equivalent to a single logical
// thread per node even though persistence calls, transport replies and
// timer ticks may enter from different goroutines.
type Node struct {
	id     raft.NodeID
	cfg    config.Config
	store  storage.Engine
	fsm    fsm.StateMachine
	client transport.Client
	logger logging.Logger
	mtr    metrics.Metrics
	rng    *rand.Rand

	detector *classify.PartitionDetector

	waiter     *waiter.Waiter
	membership *membership.Manager

	mu                 sync.Mutex
	role               raft.Role
	currentTerm        raft.Term
	votedFor           raft.NodeID
	hasVoted           bool
	lastLogIndex       raft.LogIndex
	lastLogTerm        raft.Term
	commitIndex        raft.LogIndex
	lastApplied        raft.LogIndex
	leaderID           raft.NodeID
	electionDeadline   time.Time
	heartbeatDeadline  time.Time
	peers              map[raft.NodeID]*peerReplication
	snapshotLastIndex  raft.LogIndex
	snapshotLastTerm   raft.Term
	pendingSnapshot    map[raft.NodeID]*snapshotTransfer

	// pendingChangePhase tracks joint-consensus progress: 0 none, 1
	// waiting for C_old,new (at pendingChangeIndex) to commit, 2 waiting
	// for the subsequent C_new (at pendingChangeIndex) to commit.
	pendingChangePhase int
	pendingChangeIndex raft.LogIndex

	commitSignal chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	applyWG      sync.WaitGroup
}

// New constructs a Node from its persisted state (if any) and the
// capabilities it depends on. seed makes election-timeout randomization
// reproducible across test runs with the same seed.
func New(
	id raft.NodeID,
	seed int64,
	cfg config.Config,
	store storage.Engine,
	machine fsm.StateMachine,
	client transport.Client,
	logger logging.Logger,
	mtr metrics.Metrics,
	initial raft.Configuration,
) (*Node, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("raftnode: invalid configuration: %v", errs)
	}

	term, err := store.LoadTerm()
	if err != nil {
		return nil, err
	}
	candidate, hasVote, err := store.LoadVote()
	if err != nil {
		return nil, err
	}
	lastIdx, err := store.LastIndex()
	if err != nil {
		return nil, err
	}
	var lastTerm raft.Term
	if lastIdx > 0 {
		entry, ok, err := store.EntryAt(lastIdx)
		if err != nil {
			return nil, err
		}
		if ok {
			lastTerm = entry.Term
		}
	}

	cfgToUse := initial
	snapMeta, _, hasSnap, err := store.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	var snapIdx raft.LogIndex
	var snapTerm raft.Term
	if hasSnap {
		snapIdx = snapMeta.LastIncludedIndex
		snapTerm = snapMeta.LastIncludedTerm
		cfgToUse = snapMeta.Configuration
		if lastIdx < snapIdx {
			lastIdx = snapIdx
			lastTerm = snapTerm
		}
	}

	n := &Node{
		id:                id,
		cfg:               cfg,
		store:             store,
		fsm:               machine,
		client:            client,
		logger:            logger.With(map[string]any{"node": string(id)}),
		mtr:               mtr,
		rng:               rand.New(rand.NewSource(seed)),
		detector:          classify.NewPartitionDetector(),
		waiter:            waiter.New(),
		membership:        membership.NewManager(cfgToUse),
		role:              raft.Follower,
		currentTerm:       term,
		votedFor:          candidate,
		hasVoted:          hasVote,
		lastLogIndex:      lastIdx,
		lastLogTerm:       lastTerm,
		snapshotLastIndex: snapIdx,
		snapshotLastTerm:  snapTerm,
		peers:             make(map[raft.NodeID]*peerReplication),
		pendingSnapshot:   make(map[raft.NodeID]*snapshotTransfer),
		commitSignal:      make(chan struct{}, 1),
		shutdownCh:        make(chan struct{}),
	}
	return n, nil
}

// Start arms the election timer and begins the background apply loop.
// It does not block.
func (n *Node) Start() {
	n.mu.Lock()
	n.resetElectionDeadlineLocked()
	n.mu.Unlock()
	n.applyWG.Add(1)
	go n.runApplyLoop()
}

// Shutdown stops the node's apply loop and rejects every pending commit
// waiter.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		close(n.shutdownCh)
		n.waiter.Shutdown()
	})
	n.applyWG.Wait()
}

func (n *Node) isShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// ID reports this node's identifier.
func (n *Node) ID() raft.NodeID { return n.id }

// Role reports the node's current role.
func (n *Node) Role() raft.Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Term reports the node's current term.
func (n *Node) Term() raft.Term {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// CommitIndex reports the highest index known committed.
func (n *Node) CommitIndex() raft.LogIndex {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// Leader reports the node's current leader, if known.
func (n *Node) Leader() (raft.NodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID, n.leaderID != ""
}

// randomElectionTimeout draws a uniform duration in [min, max).
func (n *Node) randomElectionTimeout() time.Duration {
	lo, hi := n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax
	span := hi - lo
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(n.rng.Int63n(int64(span)))
}

func (n *Node) resetElectionDeadlineLocked() {
	n.electionDeadline = time.Now().Add(n.randomElectionTimeout())
}

func (n *Node) resetHeartbeatDeadlineLocked() {
	n.heartbeatDeadline = time.Now().Add(n.cfg.HeartbeatInterval)
}

// setRoleLocked records a role transition at informational severity.
func (n *Node) setRoleLocked(newRole raft.Role) {
	old := n.role
	n.role = newRole
	n.logger.With(map[string]any{
		"old_state": old.String(),
		"new_state": newRole.String(),
		"term":      uint64(n.currentTerm),
	}).Info("role transition")
}

// becomeFollowerLocked steps down to Follower, optionally adopting a new
// term discovered from a peer.
func (n *Node) becomeFollowerLocked(term raft.Term) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.hasVoted = false
		n.votedFor = ""
		n.persistTermAndVoteLocked()
	}
	if n.role == raft.Leader {
		n.waiter.RejectAbove(0, waiter.ErrTruncated)
	}
	n.peers = make(map[raft.NodeID]*peerReplication)
	n.setRoleLocked(raft.Follower)
	n.resetElectionDeadlineLocked()
}

func (n *Node) persistTermAndVoteLocked() {
	if err := n.store.SaveTerm(n.currentTerm); err != nil {
		n.logger.Error("failed to persist term", err)
	}
	if err := n.store.SaveVote(n.votedFor, n.hasVoted); err != nil {
		n.logger.Error("failed to persist vote", err)
	}
}

// quorumConfig returns the configuration whose active-at-index semantics
// govern quorum for a not-yet-appended entry: the membership manager's
// current (most recently appended) configuration.
func (n *Node) quorumConfig() raft.Configuration {
	return n.membership.Current()
}

// livePeersLocked returns every other node in the active configuration(s),
// deduplicated across old/new subsets during joint consensus.
func (n *Node) livePeersLocked() []raft.NodeID {
	cfg := n.quorumConfig()
	seen := make(map[raft.NodeID]struct{})
	var out []raft.NodeID
	for id := range cfg.Nodes {
		if id == n.id {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if cfg.Joint {
		for id := range cfg.OldNodes {
			if id == n.id {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func (n *Node) signalCommit() {
	select {
	case n.commitSignal <- struct{}{}:
	default:
	}
}

// Apply submits a client command to the leader's log, returning a Future
// that resolves with the state machine's result once the entry commits
// and is applied, or rejects on timeout, step-down, or truncation.
func (n *Node) Apply(command []byte, timeout time.Duration) (*future.Future[[]byte], error) {
	if n.isShutdown() {
		return nil, ErrShutdown
	}
	n.mu.Lock()
	if n.role != raft.Leader {
		n.mu.Unlock()
		return nil, ErrNotLeader
	}
	index := n.lastLogIndex + 1
	entry := raft.LogEntry{Term: n.currentTerm, Index: index, Kind: raft.EntryCommand, Command: command}
	if err := n.store.AppendEntries([]raft.LogEntry{entry}); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.lastLogIndex = index
	n.lastLogTerm = entry.Term
	f := n.waiter.Register(index, timeout)
	n.advanceCommitIndexLocked()
	n.mu.Unlock()

	n.replicateToAll()
	return f, nil
}
