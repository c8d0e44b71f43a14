// Package raft defines the domain types shared by every other package in
// this module: node and term identifiers, the replicated log entry,
// cluster configuration, the RPC message shapes, and the role state
// machine's states. The node itself (election, replication, commit
// advancement, snapshot transfer, membership changes) lives in
// internal/raftnode, which imports these types; keeping them separate
// avoids an import cycle, since storage, fsm, membership, wire, and
// transport all need these types without needing the node.
package raft

import "fmt"

// NodeID totally orders cluster members. A short string accommodates
// both numeric ids ("1") and names ("node-a").
type NodeID string

// Term is a monotonically non-decreasing election epoch.
type Term uint64

// LogIndex is a monotonically non-decreasing log position. Index 0 is the
// reserved pre-log sentinel.
type LogIndex uint64

// EntryKind classifies a LogEntry's payload.
type EntryKind uint8

const (
	// EntryCommand carries an opaque application command.
	EntryCommand EntryKind = iota
	// EntryConfiguration carries an encoded Configuration.
	EntryConfiguration
	// EntryNoOp carries no payload; appended by a new leader to
	// accelerate safe commit of entries from prior terms.
	EntryNoOp
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "Command"
	case EntryConfiguration:
		return "Configuration"
	case EntryNoOp:
		return "NoOp"
	default:
		return fmt.Sprintf("EntryKind(%d)", k)
	}
}

// LogEntry is the unit of replication.
type LogEntry struct {
	Term    Term
	Index   LogIndex
	Kind    EntryKind
	Command []byte
}

// Configuration is the cluster membership view. Joint configurations
// carry both the old and new node sets; quorum during a joint phase
// requires majorities in both.
type Configuration struct {
	Nodes    map[NodeID]struct{}
	Joint    bool
	OldNodes map[NodeID]struct{}
}

// Clone returns a deep copy so callers may mutate the result without
// aliasing configuration state owned by the log or the membership
// manager.
func (c Configuration) Clone() Configuration {
	out := Configuration{Joint: c.Joint}
	if c.Nodes != nil {
		out.Nodes = make(map[NodeID]struct{}, len(c.Nodes))
		for n := range c.Nodes {
			out.Nodes[n] = struct{}{}
		}
	}
	if c.OldNodes != nil {
		out.OldNodes = make(map[NodeID]struct{}, len(c.OldNodes))
		for n := range c.OldNodes {
			out.OldNodes[n] = struct{}{}
		}
	}
	return out
}

// Contains reports whether id is a member of the "new" (or only) node set.
func (c Configuration) Contains(id NodeID) bool {
	_, ok := c.Nodes[id]
	return ok
}

// SimpleConfiguration builds a non-joint configuration from a node list.
func SimpleConfiguration(ids ...NodeID) Configuration {
	nodes := make(map[NodeID]struct{}, len(ids))
	for _, id := range ids {
		nodes[id] = struct{}{}
	}
	return Configuration{Nodes: nodes}
}

// RequestVoteArgs is the RequestVote RPC request.
type RequestVoteArgs struct {
	Term         Term
	CandidateID  NodeID
	LastLogIndex LogIndex
	LastLogTerm  Term
}

// RequestVoteReply is the RequestVote RPC response.
type RequestVoteReply struct {
	Term        Term
	VoteGranted bool
}

// AppendEntriesArgs is the AppendEntries RPC request.
type AppendEntriesArgs struct {
	Term         Term
	LeaderID     NodeID
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit LogIndex
}

// AppendEntriesReply is the AppendEntries RPC response, including the
// conflict hints used for fast log-matching backtrack.
type AppendEntriesReply struct {
	Term          Term
	Success       bool
	ConflictIndex LogIndex
	ConflictTerm  Term
	HasConflict   bool
}

// InstallSnapshotArgs is the InstallSnapshot RPC request. Large snapshots
// are chunked by Offset; Done marks the final chunk.
type InstallSnapshotArgs struct {
	Term              Term
	LeaderID          NodeID
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	Offset            int64
	Data              []byte
	Done              bool
}

// InstallSnapshotReply is the InstallSnapshot RPC response.
type InstallSnapshotReply struct {
	Term Term
}

// Role is the Raft role state machine's current state.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
	Shutdown
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Role(%d)", r)
	}
}
