// Package future implements a single-producer, single-value async result,
// built on a channel-plus-once completion style generalized with a type
// parameter so every collaborator in this module (transport replies,
// commit waiters, the future collector) can share one implementation.
package future

import (
	"fmt"
	"sync"
	"time"
)

// Error wraps a failure crossing a Future boundary. It carries an optional
// type tag so callers can distinguish, e.g., a Timeout from a Shutdown
// without string matching on Error().
type Error struct {
	Msg string
	Tag string
}

func (e *Error) Error() string {
	if e.Tag == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Msg)
}

// NewError builds an untagged Error.
func NewError(msg string) *Error { return &Error{Msg: msg} }

// NewTaggedError builds an Error carrying a classification tag.
func NewTaggedError(tag, msg string) *Error { return &Error{Msg: msg, Tag: tag} }

// TimeoutTag marks a Future resolved because its deadline elapsed.
const TimeoutTag = "timeout"

// Try is the resolved outcome of a Future: exactly one of Value/Err is set.
type Try[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the Try completed without error.
func (t Try[T]) Ok() bool { return t.Err == nil }

// Future is a single-value asynchronous result, produced once and observed
// any number of times: Get() may be called repeatedly — the result is
// cached after first resolution.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   Try[T]
}

// New constructs an unresolved Future paired with the Resolver used to
// complete it exactly once.
func New[T any]() (*Future[T], *Resolver[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, &Resolver[T]{f: f}
}

// Ready builds an already-resolved, successful Future.
func Ready[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.complete(Try[T]{Value: v})
	return f
}

// Failed builds an already-resolved, failed Future.
func Failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.complete(Try[T]{Err: err})
	return f
}

// Resolver is the write-side handle for a Future, held by whichever
// goroutine produces the value (a transport callback, an RPC handler).
type Resolver[T any] struct {
	f *Future[T]
}

// Resolve completes the paired Future with a success value. A second call
// is a no-op: resolution happens exactly once.
func (r *Resolver[T]) Resolve(v T) { r.f.complete(Try[T]{Value: v}) }

// Reject completes the paired Future with a failure.
func (r *Resolver[T]) Reject(err error) { r.f.complete(Try[T]{Err: err}) }

func (f *Future[T]) complete(t Try[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.result = t
	f.resolved = true
	close(f.done)
}

// IsReady reports whether the Future has already resolved.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the Future resolves and returns its value or error.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.result.Value, f.result.Err
}

// Wait blocks up to d for resolution. ok is false if the deadline elapsed
// first, in which case the Future itself is left untouched (still pending).
func (f *Future[T]) Wait(d time.Duration) (value T, err error, ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.result.Value, f.result.Err, true
	case <-timer.C:
		var zero T
		return zero, nil, false
	}
}

// Within returns a new Future that resolves like f, unless d elapses first,
// in which case it resolves to a tagged timeout error. The original f is
// left running; only the derived Future is abandoned on timeout.
func (f *Future[T]) Within(d time.Duration) *Future[T] {
	out, res := New[T]()
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-f.done:
			res.f.complete(f.result)
		case <-timer.C:
			res.Reject(NewTaggedError(TimeoutTag, "future did not resolve before deadline"))
		}
	}()
	return out
}

// Then chains a transformation, producing a new Future[U] that resolves
// once f resolves successfully and f's mapper completes; an error in f
// propagates without invoking the mapper.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out, res := New[U]()
	go func() {
		v, err := f.Get()
		if err != nil {
			res.Reject(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			res.Reject(err)
			return
		}
		res.Resolve(u)
	}()
	return out
}

// ThenError recovers from a failed f by invoking fn with the error,
// producing a value future in its place. A successful f passes through
// unchanged.
func ThenError[T any](f *Future[T], fn func(error) (T, error)) *Future[T] {
	out, res := New[T]()
	go func() {
		v, err := f.Get()
		if err == nil {
			res.Resolve(v)
			return
		}
		rv, rerr := fn(err)
		if rerr != nil {
			res.Reject(rerr)
			return
		}
		res.Resolve(rv)
	}()
	return out
}

// ThenErrorFuture is the flattening variant of ThenError: the recovery
// callback itself returns a Future, which is awaited and its result
// forwarded rather than returned wrapped in another layer of Future.
func ThenErrorFuture[T any](f *Future[T], fn func(error) *Future[T]) *Future[T] {
	out, res := New[T]()
	go func() {
		v, err := f.Get()
		if err == nil {
			res.Resolve(v)
			return
		}
		inner := fn(err)
		iv, ierr := inner.Get()
		if ierr != nil {
			res.Reject(ierr)
			return
		}
		res.Resolve(iv)
	}()
	return out
}

// All resolves once every member Future has resolved (success or failure),
// yielding their Trys in input order.
func All[T any](fs []*Future[T]) *Future[[]Try[T]] {
	out, res := New[[]Try[T]]()
	go func() {
		results := make([]Try[T], len(fs))
		var wg sync.WaitGroup
		wg.Add(len(fs))
		for i, mf := range fs {
			go func(i int, mf *Future[T]) {
				defer wg.Done()
				v, err := mf.Get()
				results[i] = Try[T]{Value: v, Err: err}
			}(i, mf)
		}
		wg.Wait()
		res.Resolve(results)
	}()
	return out
}

// IndexedTry pairs a Try with the index of the member Future that produced
// it, as returned by Any.
type IndexedTry[T any] struct {
	Index int
	Try   Try[T]
}

// Any resolves as soon as the first member Future resolves (successfully
// or not), reporting which index completed. Slower members keep running;
// callers that need to stop them should cancel via their own mechanism.
func Any[T any](fs []*Future[T]) *Future[IndexedTry[T]] {
	out, res := New[IndexedTry[T]]()
	var once sync.Once
	for i, mf := range fs {
		go func(i int, mf *Future[T]) {
			v, err := mf.Get()
			once.Do(func() {
				res.Resolve(IndexedTry[T]{Index: i, Try: Try[T]{Value: v, Err: err}})
			})
		}(i, mf)
	}
	return out
}
