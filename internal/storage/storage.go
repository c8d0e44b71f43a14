// Package storage implements the persistence engine: durable term, vote,
// log and snapshot metadata, unified behind one Engine interface rather
// than split across three separate stable-store/log-store/snapshot-store
// capabilities.
package storage

import (
	"errors"
	"fmt"

	"github.com/kythira/raft/internal/raft"
)

// Error is returned for any durability failure. The Raft core must
// suspend progress for the affected operation and surface this to its
// caller without changing role.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// ErrNotFound names the "nothing stored" condition. Neither engine in this
// package returns it: EntryAt and LoadSnapshot report a missing value
// through their ok result with a nil error.
var ErrNotFound = errors.New("storage: not found")

// SnapshotMeta describes a state-machine checkpoint.
type SnapshotMeta struct {
	LastIncludedIndex raft.LogIndex
	LastIncludedTerm  raft.Term
	Configuration     raft.Configuration
}

// Engine is the durable persistence contract a Raft node requires. Every
// method that fails due to I/O returns an *Error; callers distinguish
// "not found" conditions via ok return values instead of errors.Is on
// the failure path.
type Engine interface {
	LoadTerm() (raft.Term, error)
	SaveTerm(t raft.Term) error

	// LoadVote reports the persisted vote, if any, cleared on term bump
	// by the caller (the engine itself never clears it implicitly).
	LoadVote() (candidate raft.NodeID, hasVote bool, err error)
	SaveVote(candidate raft.NodeID, hasVote bool) error

	AppendEntries(entries []raft.LogEntry) error
	EntryAt(index raft.LogIndex) (raft.LogEntry, bool, error)
	EntriesFrom(index raft.LogIndex) ([]raft.LogEntry, error)
	TruncateSuffix(fromIndex raft.LogIndex) error
	FirstIndex() (raft.LogIndex, error)
	LastIndex() (raft.LogIndex, error)

	SaveSnapshot(meta SnapshotMeta, stateMachineBytes []byte) error
	LoadSnapshot() (SnapshotMeta, []byte, bool, error)
	// CompactLogThrough removes entries with index <= index. Callers pass
	// the snapshot's LastIncludedIndex or, to keep trailing entries, a
	// lower index.
	CompactLogThrough(index raft.LogIndex) error

	Close() error
}
