// Package simulator implements a deterministic network simulator: a
// programmable directed graph of nodes and edges with per-edge latency
// and drop probability, used as the in-process transport under test.
// Every collaborator is a small, explicit, mutex-guarded capability
// object. Its RNG is stdlib math/rand — justified in DESIGN.md.
package simulator

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kythira/raft/internal/raft"
)

// NodeID identifies a simulated node; reuses the Raft node identifier type
// so a Raft cluster's ids double as simulator addresses directly.
type NodeID = raft.NodeID

// NetworkEdge is a directed link's characteristics.
type NetworkEdge struct {
	Latency     time.Duration
	Reliability float64 // in [0,1]
}

// Endpoint addresses a port on a node.
type Endpoint struct {
	Node NodeID
	Port int
}

// Message is a delivered datagram.
type Message struct {
	ID      uint64
	Src     Endpoint
	Dst     Endpoint
	Payload []byte
}

// ErrTimeout is returned by Receive/Accept/Connection.Read on expiry.
var ErrTimeout = errors.New("simulator: timeout")

// ErrPortInUse is returned by Bind when a listener already exists on the
// (node, port) pair.
var ErrPortInUse = errors.New("simulator: port in use")

// errNoPath names the no-route condition. No call returns it: Send
// reports a missing route as a false return rather than an error.
var errNoPath = errors.New("simulator: no path")

type edgeKey struct {
	src, dst NodeID
}

// Simulator is the deterministic, seeded network graph: its RNG is seeded
// via a constructor parameter for reproducible runs. It is safe to drive
// from multiple producer goroutines: all mutable state is behind mu.
type Simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	nodes map[NodeID]*node
	edges map[edgeKey]NetworkEdge

	nextMsgID uint64
	running   bool
	stopped   chan struct{}
}

// New constructs a Simulator seeded with seed for reproducible Bernoulli
// drop sampling and deterministic tests.
func New(seed int64) *Simulator {
	return &Simulator{
		rng:     rand.New(rand.NewSource(seed)),
		nodes:   make(map[NodeID]*node),
		edges:   make(map[edgeKey]NetworkEdge),
		stopped: make(chan struct{}),
	}
}

// Start marks the simulator as actively dispatching. Sends issued before
// Start are rejected: the simulator advances only during explicit
// start/stop.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// Stop halts further dispatch; in-flight scheduled deliveries already
// queued via time.AfterFunc still land (they represent messages already
// "on the wire"), but new Send calls fail.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Simulator) ensureNodeLocked(id NodeID) *node {
	n, ok := s.nodes[id]
	if !ok {
		n = newNode(id)
		s.nodes[id] = n
	}
	return n
}

// AddNode registers id with the topology, creating its inbox/connection
// table if not already present.
func (s *Simulator) AddNode(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNodeLocked(id)
}

// HasNode reports whether id has been registered.
func (s *Simulator) HasNode(id NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[id]
	return ok
}

// AddEdge installs (or replaces) a directed edge src->dst. Bidirectional
// reachability requires a second call with src/dst swapped. Edge
// mutation takes effect at the next dispatch.
func (s *Simulator) AddEdge(src, dst NodeID, edge NetworkEdge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNodeLocked(src)
	s.ensureNodeLocked(dst)
	s.edges[edgeKey{src, dst}] = edge
}

// RemoveEdge deletes a directed edge, partitioning the graph for anything
// that routed through it.
func (s *Simulator) RemoveEdge(src, dst NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey{src, dst})
}

// GetEdge returns the edge src->dst, if any.
func (s *Simulator) GetEdge(src, dst NodeID) (NetworkEdge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[edgeKey{src, dst}]
	return e, ok
}

// HasEdge reports whether a directed edge src->dst exists.
func (s *Simulator) HasEdge(src, dst NodeID) bool {
	_, ok := s.GetEdge(src, dst)
	return ok
}

// findPathLocked performs shortest-hop BFS from src to dst with a
// deterministic tie-break on NodeID order: at each BFS layer neighbors
// are visited in sorted NodeID order, so among equal-length paths the
// lexicographically-earliest sequence of hops wins.
func (s *Simulator) findPathLocked(src, dst NodeID) ([]NodeID, bool) {
	if src == dst {
		return []NodeID{src}, true
	}
	type item struct {
		id   NodeID
		path []NodeID
	}
	visited := map[NodeID]bool{src: true}
	queue := []item{{id: src, path: []NodeID{src}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var neighbors []NodeID
		for k := range s.edges {
			if k.src == cur.id {
				neighbors = append(neighbors, k.dst)
			}
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			nextPath := append(append([]NodeID(nil), cur.path...), next)
			if next == dst {
				return nextPath, true
			}
			visited[next] = true
			queue = append(queue, item{id: next, path: nextPath})
		}
	}
	return nil, false
}

// Send resolves a path from src to dst, draws an independent Bernoulli
// per edge to decide delivery, and schedules arrival after accumulating
// edge latencies. The returned bool reflects whether the send itself
// succeeded (a route existed), not whether the message is ultimately
// delivered.
func (s *Simulator) Send(src Endpoint, dst Endpoint, payload []byte) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	path, ok := s.findPathLocked(src.Node, dst.Node)
	if !ok {
		s.mu.Unlock()
		return false
	}

	var totalLatency time.Duration
	delivered := true
	for i := 0; i < len(path)-1; i++ {
		edge, ok := s.edges[edgeKey{path[i], path[i+1]}]
		if !ok {
			// Edge vanished between path resolution and traversal
			// (concurrent RemoveEdge) — treat as a drop, not a crash.
			delivered = false
			break
		}
		totalLatency += edge.Latency
		if s.rng.Float64() >= edge.Reliability {
			delivered = false
			break
		}
	}

	s.nextMsgID++
	msg := Message{ID: s.nextMsgID, Src: src, Dst: dst, Payload: append([]byte(nil), payload...)}
	dstNode := s.ensureNodeLocked(dst.Node)
	s.mu.Unlock()

	if !delivered {
		return true
	}
	time.AfterFunc(totalLatency, func() {
		dstNode.deliver(msg)
	})
	return true
}

// Receive returns the next message addressed to any port of node n,
// failing with ErrTimeout on expiry.
func (s *Simulator) Receive(n NodeID, timeout time.Duration) (Message, error) {
	s.mu.Lock()
	node := s.ensureNodeLocked(n)
	s.mu.Unlock()
	return node.receiveAny(timeout)
}

// ReceivePort filters Receive to a specific port.
func (s *Simulator) ReceivePort(n NodeID, port int, timeout time.Duration) (Message, error) {
	s.mu.Lock()
	node := s.ensureNodeLocked(n)
	s.mu.Unlock()
	return node.receivePort(port, timeout)
}

// NextEphemeralPort hands out a fresh unused port on n, for callers (such
// as internal/transport) that need a dedicated reply address per outbound
// call without registering a listener or connection.
func (s *Simulator) NextEphemeralPort(n NodeID) int {
	s.mu.Lock()
	node := s.ensureNodeLocked(n)
	s.mu.Unlock()
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.allocEphemeralPortLocked()
}
