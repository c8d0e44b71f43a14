package transport

import (
	"bytes"
	"encoding/gob"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/logging"
	"github.com/kythira/raft/internal/raft"
	"github.com/kythira/raft/internal/simulator"
	"github.com/kythira/raft/internal/wire"
)

type rpcKind uint8

const (
	kindRequestVote rpcKind = iota
	kindAppendEntries
	kindInstallSnapshot
)

// envelope wraps an already wire-serialized request or reply with the
// addressing and duplicate-suppression metadata transports own,
// suppressing re-invocation of a handler on a retransmitted request
// keyed by a client-generated token.
type envelope struct {
	Kind      rpcKind
	Token     uint64
	ClientID  raft.NodeID
	ReplyPort int
	Payload   []byte
}

func encodeEnvelope(e envelope) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(e)
	return buf.Bytes()
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e)
	return e, err
}

// RPCPort is the well-known simulator port every node's transport server
// listens on for all three RPC kinds, multiplexed by envelope.Kind.
const RPCPort = 9000

// SimulatorTransport is the Client and Server surface backed by
// internal/simulator, the reference transport this module tests a Raft
// cluster against.
type SimulatorTransport struct {
	sim        *simulator.Simulator
	self       raft.NodeID
	serializer wire.Serializer
	logger     logging.Logger

	tokenCounter atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	voteHandler    RequestVoteHandler
	appendHandler  AppendEntriesHandler
	installHandler InstallSnapshotHandler

	dedupeMu sync.Mutex
	dedupe   map[raft.NodeID]dedupeEntry
}

type dedupeEntry struct {
	token   uint64
	kind    rpcKind
	payload []byte
}

// NewSimulatorTransport builds a transport for node self, sending and
// receiving over sim, at the node's own well-known RPC port.
func NewSimulatorTransport(sim *simulator.Simulator, self raft.NodeID, serializer wire.Serializer, logger logging.Logger) *SimulatorTransport {
	return &SimulatorTransport{
		sim:        sim,
		self:       self,
		serializer: serializer,
		logger:     logger,
		dedupe:     make(map[raft.NodeID]dedupeEntry),
	}
}

func (t *SimulatorTransport) RegisterRequestVoteHandler(h RequestVoteHandler)       { t.voteHandler = h }
func (t *SimulatorTransport) RegisterAppendEntriesHandler(h AppendEntriesHandler)   { t.appendHandler = h }
func (t *SimulatorTransport) RegisterInstallSnapshotHandler(h InstallSnapshotHandler) {
	t.installHandler = h
}

// Start begins the server loop polling this node's RPC port.
func (t *SimulatorTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.serveLoop(t.stopCh)
	return nil
}

// Stop halts the server loop. Outstanding client calls are unaffected;
// they time out on their own deadlines.
func (t *SimulatorTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// IsRunning reports whether the server loop is active.
func (t *SimulatorTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

const serverPollInterval = 25 * time.Millisecond

func (t *SimulatorTransport) serveLoop(stop chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, err := t.sim.ReceivePort(t.self, RPCPort, serverPollInterval)
		if err != nil {
			continue
		}
		env, err := decodeEnvelope(msg.Payload)
		if err != nil {
			t.logger.Warn("transport: malformed envelope discarded")
			continue
		}
		go t.handle(env)
	}
}

func (t *SimulatorTransport) handle(env envelope) {
	if cached, ok := t.checkDedupe(env); ok {
		t.reply(env, cached)
		return
	}

	var replyPayload []byte
	switch env.Kind {
	case kindRequestVote:
		req, err := t.serializer.DecodeRequestVoteArgs(env.Payload)
		if err != nil {
			t.logger.Warn("transport: failed to decode RequestVote args")
			return
		}
		if t.voteHandler == nil {
			return
		}
		resp := t.voteHandler(req)
		replyPayload, err = t.serializer.EncodeRequestVoteReply(resp)
		if err != nil {
			t.logger.Warn("transport: failed to encode RequestVote reply")
			return
		}

	case kindAppendEntries:
		req, err := t.serializer.DecodeAppendEntriesArgs(env.Payload)
		if err != nil {
			t.logger.Warn("transport: failed to decode AppendEntries args")
			return
		}
		if t.appendHandler == nil {
			return
		}
		resp := t.appendHandler(req)
		replyPayload, err = t.serializer.EncodeAppendEntriesReply(resp)
		if err != nil {
			t.logger.Warn("transport: failed to encode AppendEntries reply")
			return
		}

	case kindInstallSnapshot:
		req, err := t.serializer.DecodeInstallSnapshotArgs(env.Payload)
		if err != nil {
			t.logger.Warn("transport: failed to decode InstallSnapshot args")
			return
		}
		if t.installHandler == nil {
			return
		}
		resp := t.installHandler(req)
		replyPayload, err = t.serializer.EncodeInstallSnapshotReply(resp)
		if err != nil {
			t.logger.Warn("transport: failed to encode InstallSnapshot reply")
			return
		}

	default:
		return
	}

	t.storeDedupe(env, replyPayload)
	t.reply(env, replyPayload)
}

// checkDedupe returns a cached reply payload when env repeats the most
// recent token already served for its client.
func (t *SimulatorTransport) checkDedupe(env envelope) ([]byte, bool) {
	t.dedupeMu.Lock()
	defer t.dedupeMu.Unlock()
	entry, ok := t.dedupe[env.ClientID]
	if ok && entry.token == env.Token && entry.kind == env.Kind {
		return entry.payload, true
	}
	return nil, false
}

func (t *SimulatorTransport) storeDedupe(env envelope, payload []byte) {
	t.dedupeMu.Lock()
	defer t.dedupeMu.Unlock()
	t.dedupe[env.ClientID] = dedupeEntry{token: env.Token, kind: env.Kind, payload: payload}
}

func (t *SimulatorTransport) reply(env envelope, payload []byte) {
	reply := envelope{Kind: env.Kind, Token: env.Token, ClientID: t.self, Payload: payload}
	t.sim.Send(
		simulator.Endpoint{Node: t.self, Port: RPCPort},
		simulator.Endpoint{Node: env.ClientID, Port: env.ReplyPort},
		encodeEnvelope(reply),
	)
}

func (t *SimulatorTransport) call(peer raft.NodeID, kind rpcKind, payload []byte, timeout time.Duration) *future.Future[envelope] {
	out, res := future.New[envelope]()
	replyPort := t.sim.NextEphemeralPort(t.self)
	token := t.tokenCounter.Add(1)
	env := envelope{Kind: kind, Token: token, ClientID: t.self, ReplyPort: replyPort, Payload: payload}

	go func() {
		ok := t.sim.Send(
			simulator.Endpoint{Node: t.self, Port: replyPort},
			simulator.Endpoint{Node: peer, Port: RPCPort},
			encodeEnvelope(env),
		)
		if !ok {
			res.Reject(future.NewTaggedError("unreachable", "no route to peer"))
			return
		}
		msg, err := t.sim.ReceivePort(t.self, replyPort, timeout)
		if err != nil {
			res.Reject(future.NewTaggedError(future.TimeoutTag, "no reply before deadline"))
			return
		}
		reply, err := decodeEnvelope(msg.Payload)
		if err != nil {
			res.Reject(future.NewError("malformed reply envelope"))
			return
		}
		res.Resolve(reply)
	}()
	return out
}

// SendRequestVote issues a RequestVote RPC to peer.
func (t *SimulatorTransport) SendRequestVote(peer raft.NodeID, req raft.RequestVoteArgs, timeout time.Duration) *future.Future[raft.RequestVoteReply] {
	payload, err := t.serializer.EncodeRequestVoteArgs(req)
	if err != nil {
		return future.Failed[raft.RequestVoteReply](err)
	}
	env := t.call(peer, kindRequestVote, payload, timeout)
	return future.Then(env, func(e envelope) (raft.RequestVoteReply, error) {
		return t.serializer.DecodeRequestVoteReply(e.Payload)
	})
}

// SendAppendEntries issues an AppendEntries RPC to peer.
func (t *SimulatorTransport) SendAppendEntries(peer raft.NodeID, req raft.AppendEntriesArgs, timeout time.Duration) *future.Future[raft.AppendEntriesReply] {
	payload, err := t.serializer.EncodeAppendEntriesArgs(req)
	if err != nil {
		return future.Failed[raft.AppendEntriesReply](err)
	}
	env := t.call(peer, kindAppendEntries, payload, timeout)
	return future.Then(env, func(e envelope) (raft.AppendEntriesReply, error) {
		return t.serializer.DecodeAppendEntriesReply(e.Payload)
	})
}

// SendInstallSnapshot issues an InstallSnapshot RPC to peer.
func (t *SimulatorTransport) SendInstallSnapshot(peer raft.NodeID, req raft.InstallSnapshotArgs, timeout time.Duration) *future.Future[raft.InstallSnapshotReply] {
	payload, err := t.serializer.EncodeInstallSnapshotArgs(req)
	if err != nil {
		return future.Failed[raft.InstallSnapshotReply](err)
	}
	env := t.call(peer, kindInstallSnapshot, payload, timeout)
	return future.Then(env, func(e envelope) (raft.InstallSnapshotReply, error) {
		return t.serializer.DecodeInstallSnapshotReply(e.Payload)
	})
}
