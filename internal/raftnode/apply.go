package raftnode

import (
	"github.com/kythira/raft/internal/raft"
)

// runApplyLoop is the dedicated goroutine driving state-machine apply,
// fed by a channel rather than applying inline wherever commitIndex
// happens to advance. This keeps apply strictly sequential and decoupled
// from the election/replication goroutines, applying each committed
// index exactly once and in strictly increasing order.
func (n *Node) runApplyLoop() {
	defer n.applyWG.Done()
	for {
		select {
		case <-n.shutdownCh:
			return
		case <-n.commitSignal:
			n.applyCommitted()
		}
	}
}

func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		index := n.lastApplied + 1
		entry, ok, err := n.store.EntryAt(index)
		if err != nil || !ok {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()

		var result []byte
		var applyErr error
		switch entry.Kind {
		case raft.EntryCommand:
			result, applyErr = n.fsm.Apply(index, entry.Command)
		case raft.EntryNoOp, raft.EntryConfiguration:
			// No state-machine visible effect; still advances
			// lastApplied and fulfills any waiter (membership changes
			// register one via ProposeConfiguration).
		}
		if applyErr != nil {
			n.logger.Error("state machine apply failed", applyErr)
		}

		n.mu.Lock()
		if index > n.lastApplied {
			n.lastApplied = index
		}
		if n.role == raft.Leader {
			n.maybeSnapshotLocked()
		}
		n.mu.Unlock()

		if applyErr != nil {
			n.waiter.Fulfill(index, nil)
		} else {
			n.waiter.Fulfill(index, result)
		}
	}
}
