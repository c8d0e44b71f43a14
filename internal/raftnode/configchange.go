package raftnode

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/raft"
)

// encodeConfigurationEntry/decodeConfigurationEntry give Configuration
// log entries a concrete byte representation private to this package —
// distinct from internal/wire, which only serializes whole RPC messages
// crossing the transport boundary.
func encodeConfigurationEntry(c raft.Configuration) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfigurationEntry(b []byte) (raft.Configuration, error) {
	var c raft.Configuration
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&c)
	return c, err
}

// ProposeConfiguration appends the joint C_old,new entry that begins a
// membership change. It fails if another change is already in flight:
// only one pending change is allowed at a time.
func (n *Node) ProposeConfiguration(newNodes []raft.NodeID, timeout time.Duration) (*future.Future[[]byte], error) {
	if n.isShutdown() {
		return nil, ErrShutdown
	}
	n.mu.Lock()
	if n.role != raft.Leader {
		n.mu.Unlock()
		return nil, ErrNotLeader
	}
	if n.pendingChangePhase != 0 {
		n.mu.Unlock()
		return nil, ErrConfigChangeInProgress
	}
	current := n.membership.Current()
	joint := raft.Configuration{
		Nodes:    toNodeSet(newNodes),
		Joint:    true,
		OldNodes: current.Nodes,
	}
	payload, err := encodeConfigurationEntry(joint)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	index := n.lastLogIndex + 1
	entry := raft.LogEntry{Term: n.currentTerm, Index: index, Kind: raft.EntryConfiguration, Command: payload}
	if err := n.store.AppendEntries([]raft.LogEntry{entry}); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.lastLogIndex = index
	n.lastLogTerm = entry.Term
	n.membership.Activate(index, joint)
	n.pendingChangePhase = 1
	n.pendingChangeIndex = index
	for _, peer := range newNodes {
		if peer == n.id {
			continue
		}
		if _, ok := n.peers[peer]; !ok {
			n.peers[peer] = &peerReplication{nextIndex: n.lastLogIndex + 1, matchIndex: 0}
		}
	}
	f := n.waiter.Register(index, timeout)
	n.mu.Unlock()

	n.replicateToAll()
	return f, nil
}

func toNodeSet(ids []raft.NodeID) map[raft.NodeID]struct{} {
	out := make(map[raft.NodeID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// maybeAdvanceConfigurationLocked drives the rest of a membership change:
// once C_old,new commits, the leader appends C_new; once C_new commits,
// C_old is retired, and a leader excluded from C_new steps down.
func (n *Node) maybeAdvanceConfigurationLocked() {
	if n.pendingChangePhase == 0 || n.commitIndex < n.pendingChangeIndex {
		return
	}

	if n.pendingChangePhase == 1 {
		// C_old,new just committed — append the non-joint C_new.
		cfg := n.membership.Current()
		finalCfg := raft.Configuration{Nodes: cfg.Nodes}
		payload, err := encodeConfigurationEntry(finalCfg)
		if err != nil {
			n.logger.Error("failed to encode C_new entry", err)
			return
		}
		index := n.lastLogIndex + 1
		entry := raft.LogEntry{Term: n.currentTerm, Index: index, Kind: raft.EntryConfiguration, Command: payload}
		if err := n.store.AppendEntries([]raft.LogEntry{entry}); err != nil {
			n.logger.Error("failed to append C_new entry", err)
			return
		}
		n.lastLogIndex = index
		n.lastLogTerm = entry.Term
		n.membership.Activate(index, finalCfg)
		n.pendingChangePhase = 2
		n.pendingChangeIndex = index
		go n.replicateToAll()
		return
	}

	// Phase 2: C_new itself has committed; the change is complete and
	// C_old is implicitly retired (the membership manager's current
	// configuration is already the non-joint C_new).
	n.pendingChangePhase = 0
	cfg := n.membership.Current()
	if !cfg.Contains(n.id) {
		if n.cfg.ShutdownOnRemove {
			go n.Shutdown()
		} else {
			n.becomeFollowerLocked(n.currentTerm)
		}
	}
}
