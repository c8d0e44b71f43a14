package raftnode

import (
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/storage"
)

// snapshotTransfer tracks an in-progress InstallSnapshot send to one
// follower, chunked by the leader's configured SnapshotChunkSize.
type snapshotTransfer struct {
	data   []byte
	offset int64
}

// maybeSnapshotLocked checks whether compaction is due — the log has
// grown far enough past the configured trailing-log floor — and, if so,
// takes a new snapshot. Called opportunistically after commit advances;
// a production scheduler might instead tick this periodically.
func (n *Node) maybeSnapshotLocked() {
	if n.commitIndex <= n.snapshotLastIndex {
		return
	}
	if uint64(n.commitIndex-n.snapshotLastIndex) < n.cfg.TrailingLogs {
		return
	}
	n.takeSnapshotLocked()
}

func (n *Node) takeSnapshotLocked() {
	term, ok := n.termAtLocked(n.commitIndex)
	if !ok {
		return
	}
	data, err := n.fsm.Snapshot()
	if err != nil {
		n.logger.Error("state machine snapshot failed", err)
		return
	}
	meta := storage.SnapshotMeta{
		LastIncludedIndex: n.commitIndex,
		LastIncludedTerm:  term,
		Configuration:     n.membership.Current(),
	}
	if err := n.store.SaveSnapshot(meta, data); err != nil {
		n.logger.Error("failed to persist snapshot", err)
		return
	}
	compactThrough := n.commitIndex
	if n.cfg.TrailingLogs > 0 && compactThrough > raft.LogIndex(n.cfg.TrailingLogs) {
		compactThrough -= raft.LogIndex(n.cfg.TrailingLogs)
	} else {
		compactThrough = 0
	}
	if compactThrough > n.snapshotLastIndex {
		if err := n.store.CompactLogThrough(compactThrough); err != nil {
			n.logger.Error("failed to compact log", err)
		}
	}
	n.snapshotLastIndex = meta.LastIncludedIndex
	n.snapshotLastTerm = meta.LastIncludedTerm
	n.logger.Info("snapshot taken")
}

// sendInstallSnapshotToPeer transfers the leader's current snapshot to a
// follower that has fallen behind the log's retained prefix, in chunks of
// SnapshotChunkSize.
func (n *Node) sendInstallSnapshotToPeer(peer raft.NodeID, term raft.Term) {
	n.mu.Lock()
	meta, data, ok, err := n.store.LoadSnapshot()
	timeout := n.cfg.InstallSnapshotTimeout
	chunkSize := n.cfg.SnapshotChunkSize
	n.mu.Unlock()
	if err != nil || !ok {
		return
	}

	var offset int64
	for offset < int64(len(data)) || len(data) == 0 {
		end := offset + int64(chunkSize)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunk := data[offset:end]
		done := end >= int64(len(data))
		args := raft.InstallSnapshotArgs{
			Term:              term,
			LeaderID:          n.id,
			LastIncludedIndex: meta.LastIncludedIndex,
			LastIncludedTerm:  meta.LastIncludedTerm,
			Offset:            offset,
			Data:              chunk,
			Done:              done,
		}
		f := n.client.SendInstallSnapshot(peer, args, timeout)
		reply, err := f.Get()
		if err != nil {
			return
		}
		n.mu.Lock()
		if reply.Term > n.currentTerm {
			n.becomeFollowerLocked(reply.Term)
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		if done {
			n.mu.Lock()
			if rep, ok := n.peers[peer]; ok {
				rep.matchIndex = meta.LastIncludedIndex
				rep.nextIndex = meta.LastIncludedIndex + 1
			}
			n.mu.Unlock()
			return
		}
		offset = end
	}
}

// HandleInstallSnapshot implements the InstallSnapshot receiver,
// buffering chunks until Done and then restoring the state machine from
// the assembled bytes.
func (n *Node) HandleInstallSnapshot(req raft.InstallSnapshotArgs) raft.InstallSnapshotReply {
	n.mu.Lock()
	if req.Term < n.currentTerm {
		defer n.mu.Unlock()
		return raft.InstallSnapshotReply{Term: n.currentTerm}
	}
	if req.Term > n.currentTerm {
		n.becomeFollowerLocked(req.Term)
	} else {
		n.resetElectionDeadlineLocked()
	}
	n.leaderID = req.LeaderID

	transfer, ok := n.pendingSnapshot[req.LeaderID]
	if !ok || req.Offset == 0 {
		transfer = &snapshotTransfer{}
		n.pendingSnapshot[req.LeaderID] = transfer
	}
	if req.Offset == int64(len(transfer.data)) {
		transfer.data = append(transfer.data, req.Data...)
	}
	term := n.currentTerm
	if !req.Done {
		n.mu.Unlock()
		return raft.InstallSnapshotReply{Term: term}
	}

	data := transfer.data
	delete(n.pendingSnapshot, req.LeaderID)

	if req.LastIncludedIndex <= n.snapshotLastIndex {
		n.mu.Unlock()
		return raft.InstallSnapshotReply{Term: term}
	}

	meta := storage.SnapshotMeta{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		Configuration:     n.membership.Current(),
	}
	if err := n.store.SaveSnapshot(meta, data); err != nil {
		n.logger.Error("failed to persist installed snapshot", err)
		n.mu.Unlock()
		return raft.InstallSnapshotReply{Term: term}
	}
	if err := n.store.CompactLogThrough(req.LastIncludedIndex); err != nil {
		n.logger.Error("failed to compact log after snapshot install", err)
	}
	n.snapshotLastIndex = req.LastIncludedIndex
	n.snapshotLastTerm = req.LastIncludedTerm
	if n.lastLogIndex < req.LastIncludedIndex {
		n.lastLogIndex = req.LastIncludedIndex
		n.lastLogTerm = req.LastIncludedTerm
	}
	if n.commitIndex < req.LastIncludedIndex {
		n.commitIndex = req.LastIncludedIndex
	}
	if n.lastApplied < req.LastIncludedIndex {
		n.lastApplied = req.LastIncludedIndex
	}
	n.signalCommit()
	fsmToRestore := n.fsm
	n.mu.Unlock()

	if err := fsmToRestore.Restore(data); err != nil {
		n.logger.Error("state machine restore from snapshot failed", err)
	}
	return raft.InstallSnapshotReply{Term: term}
}
