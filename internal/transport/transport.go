// Package transport defines a unified client/server RPC shape a Raft
// node depends on, with the simulator, HTTP, or any other carrier as
// interchangeable implementations. The node treats every call as
// at-least-once; duplicate suppression, size limits and fragmentation
// are transport responsibilities, not the node's.
package transport

import (
	"time"

	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/raft"
)

// Client is the outbound RPC surface a Raft node uses to reach a peer.
type Client interface {
	SendRequestVote(peer raft.NodeID, req raft.RequestVoteArgs, timeout time.Duration) *future.Future[raft.RequestVoteReply]
	SendAppendEntries(peer raft.NodeID, req raft.AppendEntriesArgs, timeout time.Duration) *future.Future[raft.AppendEntriesReply]
	SendInstallSnapshot(peer raft.NodeID, req raft.InstallSnapshotArgs, timeout time.Duration) *future.Future[raft.InstallSnapshotReply]
}

// RequestVoteHandler handles an inbound RequestVote RPC.
type RequestVoteHandler func(req raft.RequestVoteArgs) raft.RequestVoteReply

// AppendEntriesHandler handles an inbound AppendEntries RPC.
type AppendEntriesHandler func(req raft.AppendEntriesArgs) raft.AppendEntriesReply

// InstallSnapshotHandler handles an inbound InstallSnapshot RPC.
type InstallSnapshotHandler func(req raft.InstallSnapshotArgs) raft.InstallSnapshotReply

// Server is the inbound RPC surface a Raft node registers its handlers
// with and drives the lifecycle of.
type Server interface {
	RegisterRequestVoteHandler(h RequestVoteHandler)
	RegisterAppendEntriesHandler(h AppendEntriesHandler)
	RegisterInstallSnapshotHandler(h InstallSnapshotHandler)
	Start() error
	Stop() error
	IsRunning() bool
}
