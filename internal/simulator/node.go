package simulator

import (
	"sync"
	"time"
)

// node holds one simulated host's mailbox and connection state. The
// simulator owns every node's tables; Raft nodes never reach into these
// directly, only through Simulator's exported methods and the Transport
// surface built on top (internal/transport).
type node struct {
	id NodeID

	mu       sync.Mutex
	queue    []Message
	notifyCh chan struct{}

	// portDemux lets the connection subsystem intercept datagrams bound
	// for a port it owns (a listener or an established connection)
	// before they land in the generic inbox. The function returns true
	// if it consumed the message.
	portDemux map[int]func(Message) bool

	listeners   map[int]*Listener
	connections map[connKey]*Connection

	nextEphemeralPort int
}

func newNode(id NodeID) *node {
	return &node{
		id:                id,
		notifyCh:          make(chan struct{}),
		portDemux:         make(map[int]func(Message) bool),
		listeners:         make(map[int]*Listener),
		connections:       make(map[connKey]*Connection),
		nextEphemeralPort: 40000,
	}
}

func (n *node) deliver(msg Message) {
	n.mu.Lock()
	demux, ok := n.portDemux[msg.Dst.Port]
	n.mu.Unlock()
	if ok && demux(msg) {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, msg)
	close(n.notifyCh)
	n.notifyCh = make(chan struct{})
	n.mu.Unlock()
}

func (n *node) receiveAny(timeout time.Duration) (Message, error) {
	return n.receiveMatching(timeout, func(Message) bool { return true })
}

func (n *node) receivePort(port int, timeout time.Duration) (Message, error) {
	return n.receiveMatching(timeout, func(m Message) bool { return m.Dst.Port == port })
}

func (n *node) receiveMatching(timeout time.Duration, match func(Message) bool) (Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		n.mu.Lock()
		for i, m := range n.queue {
			if match(m) {
				n.queue = append(n.queue[:i], n.queue[i+1:]...)
				n.mu.Unlock()
				return m, nil
			}
		}
		ch := n.notifyCh
		n.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{}, ErrTimeout
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return Message{}, ErrTimeout
		}
	}
}

func (n *node) allocEphemeralPortLocked() int {
	for {
		p := n.nextEphemeralPort
		n.nextEphemeralPort++
		if _, taken := n.portDemux[p]; !taken {
			return p
		}
	}
}
