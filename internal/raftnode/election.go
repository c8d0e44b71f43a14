package raftnode

import (
	"time"

	"github.com/kythira/raft/internal/classify"
	"github.com/kythira/raft/internal/membership"
	"github.com/kythira/raft/internal/raft"
)

// CheckElectionTimeout is the manually-ticked entry point driving
// election timeouts. Callers invoke it periodically (a real deployment
// from a scheduler, tests from a simulated clock). Each tick also sweeps
// the commit waiter for submissions past their deadline, since this and
// CheckHeartbeatTimeout are the only periodic hooks a node has.
func (n *Node) CheckElectionTimeout(now time.Time) {
	if n.isShutdown() {
		return
	}
	n.waiter.CancelTimedOut()
	n.mu.Lock()
	if n.role == raft.Leader {
		n.mu.Unlock()
		return
	}
	if now.Before(n.electionDeadline) {
		n.mu.Unlock()
		return
	}
	n.startElectionLocked()
	peers := n.livePeersLocked()
	term := n.currentTerm
	lastIdx := n.lastLogIndex
	lastTerm := n.lastLogTerm
	cfg := n.quorumConfig()
	n.mu.Unlock()

	n.mtr.Counter("raft_elections_started_total", nil).Inc()
	n.runElection(term, lastIdx, lastTerm, cfg, peers)
}

// startElectionLocked bumps the term, votes for self, persists the
// vote, enters Candidate, and resets the election deadline.
func (n *Node) startElectionLocked() {
	n.currentTerm++
	n.votedFor = n.id
	n.hasVoted = true
	n.persistTermAndVoteLocked()
	n.setRoleLocked(raft.Candidate)
	n.leaderID = ""
	n.resetElectionDeadlineLocked()
}

// runElection issues RequestVote to every live peer and, on reaching
// quorum (both subsets during joint consensus), transitions to Leader.
func (n *Node) runElection(term raft.Term, lastIdx raft.LogIndex, lastTerm raft.Term, cfg raft.Configuration, peers []raft.NodeID) {
	args := raft.RequestVoteArgs{Term: term, CandidateID: n.id, LastLogIndex: lastIdx, LastLogTerm: lastTerm}

	type vote struct {
		from    raft.NodeID
		granted bool
		reply   raft.RequestVoteReply
		err     error
	}
	results := make(chan vote, len(peers))
	for _, peer := range peers {
		go func(peer raft.NodeID) {
			f := n.client.SendRequestVote(peer, args, n.cfg.RequestVoteTimeout)
			reply, err := f.Get()
			if err != nil {
				n.detector.Observe(classify.Classify(err))
			} else {
				n.detector.Reset()
			}
			results <- vote{from: peer, granted: err == nil && reply.VoteGranted, reply: reply, err: err}
		}(peer)
	}

	acks := map[raft.NodeID]struct{}{n.id: {}}
	deadline := time.NewTimer(n.cfg.RequestVoteTimeout + 10*time.Millisecond)
	defer deadline.Stop()

	for i := 0; i < len(peers); i++ {
		select {
		case v := <-results:
			if v.err == nil && v.reply.Term > term {
				n.mu.Lock()
				if v.reply.Term > n.currentTerm {
					n.becomeFollowerLocked(v.reply.Term)
				}
				n.mu.Unlock()
				return
			}
			if v.granted {
				acks[v.from] = struct{}{}
			}
			if membership.IsMajorityJoint(cfg, acks) {
				n.becomeLeaderIfStillCandidate(term)
				return
			}
		case <-deadline.C:
			return
		}
	}
	if membership.IsMajorityJoint(cfg, acks) {
		n.becomeLeaderIfStillCandidate(term)
	}
}

// becomeLeaderIfStillCandidate transitions to Leader only if the node is
// still a Candidate in the same term the election was fought in — a
// concurrent discovery of a higher term or a reset to Follower must not
// be clobbered by a late quorum.
func (n *Node) becomeLeaderIfStillCandidate(term raft.Term) {
	n.mu.Lock()
	if n.role != raft.Candidate || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	n.setRoleLocked(raft.Leader)
	n.leaderID = n.id
	n.peers = make(map[raft.NodeID]*peerReplication)
	for _, peer := range n.livePeersLocked() {
		n.peers[peer] = &peerReplication{nextIndex: n.lastLogIndex + 1, matchIndex: 0}
	}
	// A no-op entry of the new term accelerates safe commit of entries
	// from prior terms.
	noop := raft.LogEntry{Term: n.currentTerm, Index: n.lastLogIndex + 1, Kind: raft.EntryNoOp}
	if err := n.store.AppendEntries([]raft.LogEntry{noop}); err != nil {
		n.logger.Error("failed to append leader no-op entry", err)
	} else {
		n.lastLogIndex = noop.Index
		n.lastLogTerm = noop.Term
	}
	n.resetHeartbeatDeadlineLocked()
	n.advanceCommitIndexLocked()
	n.mu.Unlock()

	n.mtr.Counter("raft_elections_won_total", nil).Inc()
	n.replicateToAll()
}

// HandleRequestVote implements the RequestVote receiver, to be
// registered with a transport.Server.
func (n *Node) HandleRequestVote(req raft.RequestVoteArgs) raft.RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.becomeFollowerLocked(req.Term)
	}
	if req.Term < n.currentTerm {
		return raft.RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
	}

	canVote := !n.hasVoted || n.votedFor == req.CandidateID
	upToDate := req.LastLogTerm > n.lastLogTerm ||
		(req.LastLogTerm == n.lastLogTerm && req.LastLogIndex >= n.lastLogIndex)

	if canVote && upToDate {
		n.votedFor = req.CandidateID
		n.hasVoted = true
		n.persistTermAndVoteLocked()
		n.resetElectionDeadlineLocked()
		return raft.RequestVoteReply{Term: n.currentTerm, VoteGranted: true}
	}
	return raft.RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
}
