// Package fsm implements the state machine contract the Raft core
// applies committed entries against.
package fsm

import "github.com/kythira/raft/internal/raft"

// StateMachine is the application state machine the Raft core drives.
// Apply is called exactly once per committed index, in strictly
// increasing order.
type StateMachine interface {
	Apply(index raft.LogIndex, command []byte) ([]byte, error)
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}
