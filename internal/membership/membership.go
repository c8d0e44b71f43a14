// Package membership tracks cluster configuration and joint-consensus
// bookkeeping as data a Raft node consults, rather than a mutable peer
// set embedded in the node itself.
package membership

import "github.com/kythira/raft/internal/raft"

// Phase distinguishes the old and new subsets during joint consensus.
type Phase int

const (
	// PhaseNew is the (only, if non-joint) current node set.
	PhaseNew Phase = iota
	// PhaseOld is the prior node set, only meaningful while Joint.
	PhaseOld
)

// QuorumSize returns floor(n/2)+1 for the given configuration's phase. A
// non-joint configuration has no "old" phase; QuorumSize(cfg, PhaseOld)
// on a non-joint configuration returns 0 as a sentinel the caller must
// not use (callers check IsJoint first).
func QuorumSize(cfg raft.Configuration, phase Phase) int {
	nodes := phaseNodes(cfg, phase)
	if nodes == nil {
		return 0
	}
	return len(nodes)/2 + 1
}

func phaseNodes(cfg raft.Configuration, phase Phase) map[raft.NodeID]struct{} {
	if phase == PhaseOld {
		if !cfg.Joint {
			return nil
		}
		return cfg.OldNodes
	}
	return cfg.Nodes
}

// IsMajority reports whether acks forms a majority of cfg's phase subset.
func IsMajority(cfg raft.Configuration, acks map[raft.NodeID]struct{}, phase Phase) bool {
	nodes := phaseNodes(cfg, phase)
	if nodes == nil {
		return false
	}
	count := 0
	for id := range nodes {
		if _, ok := acks[id]; ok {
			count++
		}
	}
	return count >= QuorumSize(cfg, phase)
}

// IsMajorityJoint reports whether acks forms a majority in BOTH the old
// and new subsets of a joint configuration. For a non-joint configuration
// it is equivalent to IsMajority(cfg, acks, PhaseNew).
func IsMajorityJoint(cfg raft.Configuration, acks map[raft.NodeID]struct{}) bool {
	if !IsMajority(cfg, acks, PhaseNew) {
		return false
	}
	if !cfg.Joint {
		return true
	}
	return IsMajority(cfg, acks, PhaseOld)
}

// entry pins a Configuration to the index at which it became active:
// appended, not committed.
type entry struct {
	fromIndex raft.LogIndex
	config    raft.Configuration
}

// Manager tracks the sequence of configurations a node's log has seen, so
// commit advancement can consult the configuration active at a given
// index rather than only the latest or only the committed one.
type Manager struct {
	history []entry
}

// NewManager seeds the manager with the configuration active before any
// entries exist (index 0, e.g. restored from a snapshot or bootstrap).
func NewManager(initial raft.Configuration) *Manager {
	return &Manager{history: []entry{{fromIndex: 0, config: initial}}}
}

// Activate records that config became active as of fromIndex, called
// when a Configuration log entry is appended. Activations must be
// recorded in increasing fromIndex order; a later Activate for an index
// <= the last one is treated as the new tail (used after a leader
// truncates and re-appends).
func (m *Manager) Activate(fromIndex raft.LogIndex, cfg raft.Configuration) {
	m.TruncateAfter(fromIndex - 1)
	m.history = append(m.history, entry{fromIndex: fromIndex, config: cfg.Clone()})
}

// TruncateAfter drops any configuration activations at an index greater
// than keepThrough, used when a follower's log suffix is overwritten by a
// higher-term leader.
func (m *Manager) TruncateAfter(keepThrough raft.LogIndex) {
	i := len(m.history)
	for i > 0 && m.history[i-1].fromIndex > keepThrough {
		i--
	}
	m.history = m.history[:i]
	if len(m.history) == 0 {
		// Always keep a floor entry so ConfigAt never panics.
		m.history = []entry{{fromIndex: 0, config: raft.Configuration{Nodes: map[raft.NodeID]struct{}{}}}}
	}
}

// ConfigAt returns the configuration active at index — the most recent
// activation with fromIndex <= index.
func (m *Manager) ConfigAt(index raft.LogIndex) raft.Configuration {
	best := m.history[0].config
	for _, e := range m.history {
		if e.fromIndex > index {
			break
		}
		best = e.config
	}
	return best
}

// Current returns the most recently activated configuration.
func (m *Manager) Current() raft.Configuration {
	return m.history[len(m.history)-1].config
}

// CurrentNodes returns the new/only node set of the current configuration.
func (m *Manager) CurrentNodes() map[raft.NodeID]struct{} { return m.Current().Nodes }

// IsJoint reports whether the current configuration is in joint phase.
func (m *Manager) IsJoint() bool { return m.Current().Joint }

// OldNodes returns the old node set of the current configuration, nil if
// not joint.
func (m *Manager) OldNodes() map[raft.NodeID]struct{} { return m.Current().OldNodes }
