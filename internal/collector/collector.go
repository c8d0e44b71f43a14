// Package collector implements quorum-aware gathering across peer RPC
// futures, generalized to any response type and to both majority-quorum
// and collect-all semantics.
package collector

import (
	"sync"
	"time"

	"github.com/kythira/raft/internal/future"
)

// Member pairs a peer Future with an optional Cancel, invoked if the
// aggregate resolves before this member does, so outstanding member
// futures are canceled once the aggregate no longer needs them.
type Member[T any] struct {
	Future *future.Future[T]
	Cancel func()
}

// CollectMajority resolves as soon as neededSuccesses member futures have
// resolved successfully, or timeout elapses, whichever comes first,
// yielding whatever successful responses were gathered by then. Callers
// pass neededSuccesses = M-1 when the caller itself already counts as one
// vote toward quorum M.
func CollectMajority[T any](members []Member[T], neededSuccesses int, timeout time.Duration) *future.Future[[]T] {
	out, res := future.New[[]T]()
	go func() {
		type arrival struct {
			val T
			err error
			idx int
		}
		arrivals := make(chan arrival, len(members))
		for i, m := range members {
			go func(i int, m Member[T]) {
				v, err := m.Future.Get()
				arrivals <- arrival{val: v, err: err, idx: i}
			}(i, m)
		}

		var successes []T
		resolvedCount := make([]bool, len(members))
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		finish := func() {
			for i, m := range members {
				if !resolvedCount[i] && m.Cancel != nil {
					m.Cancel()
				}
			}
			res.Resolve(successes)
		}

		for range members {
			select {
			case a := <-arrivals:
				resolvedCount[a.idx] = true
				if a.err == nil {
					successes = append(successes, a.val)
				}
				if len(successes) >= neededSuccesses {
					finish()
					return
				}
			case <-timer.C:
				finish()
				return
			}
		}
		// All members resolved without reaching quorum.
		finish()
	}()
	return out
}

// CollectAll resolves once every member has resolved, or timeout elapses,
// yielding every Try gathered so far in member order.
func CollectAll[T any](members []Member[T], timeout time.Duration) *future.Future[[]future.Try[T]] {
	out, res := future.New[[]future.Try[T]]()
	go func() {
		results := make([]future.Try[T], len(members))
		have := make([]bool, len(members))
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(len(members))
		done := make(chan struct{})

		for i, m := range members {
			go func(i int, m Member[T]) {
				defer wg.Done()
				v, err := m.Future.Get()
				mu.Lock()
				results[i] = future.Try[T]{Value: v, Err: err}
				have[i] = true
				mu.Unlock()
			}(i, m)
		}
		go func() {
			wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}

		mu.Lock()
		defer mu.Unlock()
		for i, m := range members {
			if !have[i] && m.Cancel != nil {
				m.Cancel()
			}
		}
		res.Resolve(results)
	}()
	return out
}
