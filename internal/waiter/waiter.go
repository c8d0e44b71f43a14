// Package waiter implements the commit waiter: a per-node registry of
// client submissions pending apply, expressed with futures rather than
// bare callbacks so Apply callers get a single notify-once result.
package waiter

import (
	"sync"
	"time"

	"github.com/kythira/raft/internal/future"
	"github.com/kythira/raft/internal/raft"
)

// ErrTruncated is the rejection reason used when a higher-term leader
// overrules uncommitted entries.
var ErrTruncated = future.NewTaggedError("truncated", "log entry was truncated before it could commit")

// ErrShutdown is the rejection reason used on node shutdown.
var ErrShutdown = future.NewTaggedError("shutdown", "node is shutting down")

type entry struct {
	resolver *future.Resolver[[]byte]
	deadline time.Time
	hasDeadl bool
}

// Waiter is the per-node pending-submission registry.
type Waiter struct {
	mu      sync.Mutex
	pending map[raft.LogIndex]*entry
}

// New constructs an empty Waiter.
func New() *Waiter {
	return &Waiter{pending: make(map[raft.LogIndex]*entry)}
}

// Register records a pending submission at logIndex and returns the
// Future its caller should block on. At most one registration may exist
// per index at a time; a second Register for the same index replaces the
// first, which is rejected as superseded.
func (w *Waiter) Register(logIndex raft.LogIndex, timeout time.Duration) *future.Future[[]byte] {
	f, res := future.New[[]byte]()
	w.mu.Lock()
	if old, ok := w.pending[logIndex]; ok {
		old.resolver.Reject(future.NewError("superseded by a new registration at the same index"))
	}
	e := &entry{resolver: res}
	if timeout > 0 {
		e.deadline = time.Now().Add(timeout)
		e.hasDeadl = true
	}
	w.pending[logIndex] = e
	w.mu.Unlock()
	return f
}

// Fulfill resolves the registration at logIndex with result, if any is
// pending, and removes it. Fulfillment is final.
func (w *Waiter) Fulfill(logIndex raft.LogIndex, result []byte) {
	w.mu.Lock()
	e, ok := w.pending[logIndex]
	if ok {
		delete(w.pending, logIndex)
	}
	w.mu.Unlock()
	if ok {
		e.resolver.Resolve(result)
	}
}

// RejectAbove rejects every registration with index >= fromIndex with err
// and removes them, used on log truncation. After this call, no
// registration for index >= fromIndex remains.
func (w *Waiter) RejectAbove(fromIndex raft.LogIndex, err error) {
	w.mu.Lock()
	var toReject []*entry
	for idx, e := range w.pending {
		if idx >= fromIndex {
			toReject = append(toReject, e)
			delete(w.pending, idx)
		}
	}
	w.mu.Unlock()
	for _, e := range toReject {
		e.resolver.Reject(err)
	}
}

// CancelTimedOut scans the registry and rejects every entry whose deadline
// has passed with a timeout error, returning the count rejected.
func (w *Waiter) CancelTimedOut() int {
	now := time.Now()
	w.mu.Lock()
	var toReject []*entry
	for idx, e := range w.pending {
		if e.hasDeadl && now.After(e.deadline) {
			toReject = append(toReject, e)
			delete(w.pending, idx)
		}
	}
	w.mu.Unlock()
	for _, e := range toReject {
		e.resolver.Reject(future.NewTaggedError(future.TimeoutTag, "commit wait deadline exceeded"))
	}
	return len(toReject)
}

// Shutdown rejects every pending registration with ErrShutdown.
func (w *Waiter) Shutdown() {
	w.RejectAbove(0, ErrShutdown)
}

// PendingCount reports the number of outstanding registrations.
func (w *Waiter) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
