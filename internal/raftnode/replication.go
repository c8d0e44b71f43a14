package raftnode

import (
	"time"

	"github.com/kythira/raft/internal/classify"
	"github.com/kythira/raft/internal/membership"
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/waiter"
)

// CheckHeartbeatTimeout is the manually-ticked entry point driving
// periodic AppendEntries heartbeats while leading. Also sweeps the commit
// waiter for submissions past their deadline, so a leader that loses its
// peers still times out its own pending Apply callers.
func (n *Node) CheckHeartbeatTimeout(now time.Time) {
	if n.isShutdown() {
		return
	}
	n.waiter.CancelTimedOut()
	n.mu.Lock()
	if n.role != raft.Leader || now.Before(n.heartbeatDeadline) {
		n.mu.Unlock()
		return
	}
	n.resetHeartbeatDeadlineLocked()
	n.mu.Unlock()
	n.replicateToAll()
}

// replicateToAll fans AppendEntries out to every follower the leader
// tracks, whether or not it is behind, used both after a client Apply and
// on each heartbeat tick.
func (n *Node) replicateToAll() {
	n.mu.Lock()
	if n.role != raft.Leader {
		n.mu.Unlock()
		return
	}
	peers := make([]raft.NodeID, 0, len(n.peers))
	for peer := range n.peers {
		peers = append(peers, peer)
	}
	n.mu.Unlock()

	for _, peer := range peers {
		go n.replicateToPeer(peer)
	}
}

func (n *Node) replicateToPeer(peer raft.NodeID) {
	n.mu.Lock()
	if n.role != raft.Leader {
		n.mu.Unlock()
		return
	}
	rep, ok := n.peers[peer]
	if !ok {
		n.mu.Unlock()
		return
	}
	if rep.nextIndex <= n.snapshotLastIndex {
		term := n.currentTerm
		n.mu.Unlock()
		n.sendInstallSnapshotToPeer(peer, term)
		return
	}

	prevIndex := rep.nextIndex - 1
	prevTerm, ok := n.termAtLocked(prevIndex)
	if !ok {
		n.mu.Unlock()
		return
	}
	entries, err := n.store.EntriesFrom(rep.nextIndex)
	if err != nil {
		n.logger.Error("failed to read log entries for replication", err)
		n.mu.Unlock()
		return
	}
	if len(entries) > n.cfg.MaxEntriesPerAppend {
		entries = entries[:n.cfg.MaxEntriesPerAppend]
	}
	args := raft.AppendEntriesArgs{
		Term:         n.currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	term := n.currentTerm
	timeout := n.cfg.AppendEntriesTimeout
	n.mu.Unlock()

	f := n.client.SendAppendEntries(peer, args, timeout)
	reply, err := f.Get()
	if err != nil {
		n.detector.Observe(classify.Classify(err))
		return
	}
	n.detector.Reset()
	n.handleAppendEntriesReply(peer, term, args, reply)
}

// termAtLocked returns the term of index, consulting the snapshot
// boundary when the index predates the in-log entries.
func (n *Node) termAtLocked(index raft.LogIndex) (raft.Term, bool) {
	if index == 0 {
		return 0, true
	}
	if index == n.snapshotLastIndex {
		return n.snapshotLastTerm, true
	}
	entry, ok, err := n.store.EntryAt(index)
	if err != nil || !ok {
		return 0, false
	}
	return entry.Term, true
}

func (n *Node) handleAppendEntriesReply(peer raft.NodeID, sentTerm raft.Term, sent raft.AppendEntriesArgs, reply raft.AppendEntriesReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if reply.Term > n.currentTerm {
		n.becomeFollowerLocked(reply.Term)
		return
	}
	if n.role != raft.Leader || n.currentTerm != sentTerm {
		return
	}
	rep, ok := n.peers[peer]
	if !ok {
		return
	}

	if reply.Success {
		newMatch := sent.PrevLogIndex + raft.LogIndex(len(sent.Entries))
		if newMatch > rep.matchIndex {
			rep.matchIndex = newMatch
		}
		rep.nextIndex = rep.matchIndex + 1
		n.advanceCommitIndexLocked()
		return
	}

	if reply.HasConflict {
		if idx, found := n.firstIndexOfTermLocked(reply.ConflictTerm); found {
			rep.nextIndex = idx
		} else {
			rep.nextIndex = reply.ConflictIndex
		}
	} else if rep.nextIndex > 1 {
		rep.nextIndex--
	}
	if rep.nextIndex < 1 {
		rep.nextIndex = 1
	}
}

// firstIndexOfTermLocked finds the earliest index in the leader's own log
// with exactly the given term — used to fast-forward a follower's
// nextIndex past an entire conflicting term in one round trip instead of
// backing off one entry at a time — searching no further back than the
// snapshot boundary.
func (n *Node) firstIndexOfTermLocked(term raft.Term) (raft.LogIndex, bool) {
	if term == 0 {
		return 0, false
	}
	idx := n.lastLogIndex
	found := false
	var first raft.LogIndex
	for idx > n.snapshotLastIndex {
		entry, ok, err := n.store.EntryAt(idx)
		if err != nil || !ok {
			break
		}
		if entry.Term == term {
			found = true
			first = idx
		} else if entry.Term < term {
			break
		}
		idx--
	}
	return first, found
}

// advanceCommitIndexLocked raises commitIndex to the highest index
// replicated to a quorum of the active configuration (both subsets
// during joint consensus), per the Raft safety rule that a leader only
// counts entries from its own term directly.
func (n *Node) advanceCommitIndexLocked() {
	candidate := n.commitIndex
	for idx := n.commitIndex + 1; idx <= n.lastLogIndex; idx++ {
		entry, ok, err := n.store.EntryAt(idx)
		if err != nil || !ok {
			break
		}
		if entry.Term != n.currentTerm {
			continue
		}
		cfg := n.membership.ConfigAt(idx)
		acks := map[raft.NodeID]struct{}{n.id: {}}
		for peer, rep := range n.peers {
			if rep.matchIndex >= idx {
				acks[peer] = struct{}{}
			}
		}
		if membership.IsMajorityJoint(cfg, acks) {
			candidate = idx
		}
	}
	if candidate > n.commitIndex {
		n.commitIndex = candidate
		n.signalCommit()
		n.maybeAdvanceConfigurationLocked()
	}
}

// HandleAppendEntries implements the AppendEntries receiver, including
// the follower consistency check and conflict-hint computation, to be
// registered with a transport.Server.
func (n *Node) HandleAppendEntries(req raft.AppendEntriesArgs) raft.AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return raft.AppendEntriesReply{Term: n.currentTerm, Success: false}
	}
	if req.Term > n.currentTerm || n.role == raft.Candidate {
		n.becomeFollowerLocked(req.Term)
	} else {
		n.resetElectionDeadlineLocked()
	}
	n.leaderID = req.LeaderID

	if req.PrevLogIndex > 0 {
		prevTerm, ok := n.termAtLocked(req.PrevLogIndex)
		if !ok || (req.PrevLogIndex > n.snapshotLastIndex && prevTerm != req.PrevLogTerm) {
			conflictTerm, hasEntry := n.termAtLocked(req.PrevLogIndex)
			if !hasEntry {
				return raft.AppendEntriesReply{
					Term: n.currentTerm, Success: false,
					HasConflict: true, ConflictIndex: n.lastLogIndex + 1, ConflictTerm: 0,
				}
			}
			idx, found := n.firstIndexOfTermLocked(conflictTerm)
			if !found {
				idx = req.PrevLogIndex
			}
			return raft.AppendEntriesReply{
				Term: n.currentTerm, Success: false,
				HasConflict: true, ConflictIndex: idx, ConflictTerm: conflictTerm,
			}
		}
	}

	insertAt := req.PrevLogIndex + 1
	var toAppend []raft.LogEntry
	for i, e := range req.Entries {
		idx := insertAt + raft.LogIndex(i)
		if idx <= n.lastLogIndex {
			existing, ok, err := n.store.EntryAt(idx)
			if err == nil && ok && existing.Term == e.Term {
				continue
			}
			if err := n.store.TruncateSuffix(idx); err != nil {
				n.logger.Error("failed to truncate conflicting suffix", err)
				return raft.AppendEntriesReply{Term: n.currentTerm, Success: false}
			}
			n.lastLogIndex = idx - 1
			n.membership.TruncateAfter(idx - 1)
			n.waiter.RejectAbove(idx, waiter.ErrTruncated)
		}
		toAppend = append(toAppend, e)
	}
	if len(toAppend) > 0 {
		if err := n.store.AppendEntries(toAppend); err != nil {
			n.logger.Error("failed to persist replicated entries", err)
			return raft.AppendEntriesReply{Term: n.currentTerm, Success: false}
		}
		for _, e := range toAppend {
			if e.Kind == raft.EntryConfiguration {
				if cfg, err := decodeConfigurationEntry(e.Command); err == nil {
					n.membership.Activate(e.Index, cfg)
				}
			}
		}
		last := toAppend[len(toAppend)-1]
		n.lastLogIndex = last.Index
		n.lastLogTerm = last.Term
	}

	if req.LeaderCommit > n.commitIndex {
		newCommit := req.LeaderCommit
		if newCommit > n.lastLogIndex {
			newCommit = n.lastLogIndex
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
			n.signalCommit()
		}
	}

	return raft.AppendEntriesReply{Term: n.currentTerm, Success: true}
}
