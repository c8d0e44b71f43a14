package waiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillResolvesAndRemoves(t *testing.T) {
	w := New()
	f := w.Register(5, 0)
	require.Equal(t, 1, w.PendingCount())
	w.Fulfill(5, []byte("ok"))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, 0, w.PendingCount())
}

func TestFulfillOnUnknownIndexIsNoop(t *testing.T) {
	w := New()
	w.Fulfill(99, []byte("x")) // must not panic
	assert.Equal(t, 0, w.PendingCount())
}

func TestRejectAboveRejectsOnlyAtOrAboveIndex(t *testing.T) {
	w := New()
	f3 := w.Register(3, 0)
	f5 := w.Register(5, 0)
	f7 := w.Register(7, 0)

	w.RejectAbove(5, ErrTruncated)

	require.False(t, f3.IsReady())
	require.Equal(t, 1, w.PendingCount())
	w.Fulfill(3, []byte("three"))
	v, err := f3.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), v)

	_, err = f5.Get()
	require.Error(t, err)
	_, err = f7.Get()
	require.Error(t, err)
	assert.Equal(t, 0, w.PendingCount())
}

func TestCancelTimedOut(t *testing.T) {
	w := New()
	f := w.Register(1, 5*time.Millisecond)
	f2 := w.Register(2, time.Hour)
	time.Sleep(15 * time.Millisecond)
	n := w.CancelTimedOut()
	assert.Equal(t, 1, n)
	_, err := f.Get()
	require.Error(t, err)
	assert.Equal(t, 1, w.PendingCount())
	assert.False(t, f2.IsReady())
}

func TestShutdownRejectsAllPending(t *testing.T) {
	w := New()
	f1 := w.Register(1, 0)
	f2 := w.Register(2, 0)
	w.Shutdown()
	_, err1 := f1.Get()
	_, err2 := f2.Get()
	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, 0, w.PendingCount())
}

func TestRegisterSupersedesPriorRegistrationAtSameIndex(t *testing.T) {
	w := New()
	old := w.Register(4, 0)
	newF := w.Register(4, 0)
	_, err := old.Get()
	require.Error(t, err)
	w.Fulfill(4, []byte("new"))
	v, err := newF.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}
