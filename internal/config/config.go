// Package config implements validated construction-time configuration
// for a Raft node: election and heartbeat timing, RPC timeouts, log
// compaction thresholds, and membership-change behavior.
package config

import (
	"fmt"
	"time"
)

// Config is validated at construction; New must fail if Validate
// returns any errors.
type Config struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration

	AppendEntriesTimeout   time.Duration
	RequestVoteTimeout     time.Duration
	InstallSnapshotTimeout time.Duration
	RPCTimeout             time.Duration

	MaxEntriesPerAppend int
	SnapshotChunkSize   int

	// TrailingLogs is the number of log entries kept in storage behind a
	// snapshot's last included index when the log is compacted, and the
	// number of entries that must commit past the last snapshot before a
	// leader takes a new one. Replication does not read these retained
	// entries: a follower whose nextIndex is at or below the snapshot's
	// last included index is sent InstallSnapshot.
	TrailingLogs uint64

	// ShutdownOnRemove: when true, a node that commits a C_new excluding
	// itself shuts down instead of reverting to Follower.
	ShutdownOnRemove bool
}

// Default returns reasonable defaults for tests and examples, keeping the
// heartbeat interval well under the election timeout.
func Default() Config {
	return Config{
		ElectionTimeoutMin:     150 * time.Millisecond,
		ElectionTimeoutMax:     300 * time.Millisecond,
		HeartbeatInterval:      40 * time.Millisecond,
		AppendEntriesTimeout:   50 * time.Millisecond,
		RequestVoteTimeout:     50 * time.Millisecond,
		InstallSnapshotTimeout: 200 * time.Millisecond,
		RPCTimeout:             100 * time.Millisecond,
		MaxEntriesPerAppend:    64,
		SnapshotChunkSize:      16 * 1024,
		TrailingLogs:           10,
		ShutdownOnRemove:       true,
	}
}

// Validate checks every field constraint, returning all violations (not
// just the first) so the caller gets a complete human-readable list.
func (c Config) Validate() []error {
	var errs []error
	if c.ElectionTimeoutMin <= 0 {
		errs = append(errs, fmt.Errorf("election_timeout_min must be > 0, got %s", c.ElectionTimeoutMin))
	}
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		errs = append(errs, fmt.Errorf("election_timeout_max (%s) must be > election_timeout_min (%s)", c.ElectionTimeoutMax, c.ElectionTimeoutMin))
	}
	if c.HeartbeatInterval > c.ElectionTimeoutMin/3 {
		errs = append(errs, fmt.Errorf("heartbeat_interval (%s) must be <= election_timeout_min/3 (%s)", c.HeartbeatInterval, c.ElectionTimeoutMin/3))
	}
	if c.AppendEntriesTimeout <= 0 {
		errs = append(errs, fmt.Errorf("append_entries_timeout must be > 0"))
	}
	if c.RequestVoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_vote_timeout must be > 0"))
	}
	if c.InstallSnapshotTimeout < c.AppendEntriesTimeout {
		errs = append(errs, fmt.Errorf("install_snapshot_timeout (%s) must be >= append_entries_timeout (%s)", c.InstallSnapshotTimeout, c.AppendEntriesTimeout))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc_timeout must be > 0"))
	}
	if c.MaxEntriesPerAppend <= 0 {
		errs = append(errs, fmt.Errorf("max_entries_per_append must be > 0"))
	}
	if c.SnapshotChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("snapshot_chunk_size must be > 0"))
	}
	return errs
}
