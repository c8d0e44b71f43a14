package future

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyAndFailed(t *testing.T) {
	f := Ready(42)
	require.True(t, f.IsReady())
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	ff := Failed[int](NewError("boom"))
	_, err = ff.Get()
	require.Error(t, err)
}

func TestResolverResolvesOnce(t *testing.T) {
	f, res := New[string]()
	require.False(t, f.IsReady())
	res.Resolve("a")
	res.Resolve("b") // second resolution must be ignored
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestWaitTimesOutWithoutResolving(t *testing.T) {
	f, res := New[int]()
	_, _, ok := f.Wait(10 * time.Millisecond)
	require.False(t, ok)
	require.False(t, f.IsReady())
	res.Resolve(7)
	v, err, ok := f.Wait(time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestWithinTimesOut(t *testing.T) {
	f, _ := New[int]()
	out := f.Within(5 * time.Millisecond)
	_, err := out.Get()
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, TimeoutTag, fe.Tag)
}

func TestWithinResolvesBeforeDeadline(t *testing.T) {
	f, res := New[int]()
	out := f.Within(time.Second)
	res.Resolve(3)
	v, err := out.Get()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestThenChains(t *testing.T) {
	f := Ready(10)
	out := Then(f, func(v int) (string, error) { return "v=10", nil })
	v, err := out.Get()
	require.NoError(t, err)
	assert.Equal(t, "v=10", v)
}

func TestThenPropagatesError(t *testing.T) {
	f := Failed[int](NewError("x"))
	called := false
	out := Then(f, func(v int) (string, error) { called = true; return "", nil })
	_, err := out.Get()
	require.Error(t, err)
	assert.False(t, called)
}

func TestThenErrorRecovers(t *testing.T) {
	f := Failed[int](NewError("x"))
	out := ThenError(f, func(err error) (int, error) { return 99, nil })
	v, err := out.Get()
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestThenErrorFutureFlattens(t *testing.T) {
	f := Failed[int](NewError("x"))
	out := ThenErrorFuture(f, func(err error) *Future[int] { return Ready(5) })
	v, err := out.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestAllGathersEverything(t *testing.T) {
	a := Ready(1)
	b := Failed[int](NewError("nope"))
	c := Ready(3)
	out := All([]*Future[int]{a, b, c})
	results, err := out.Get()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Ok())
	assert.False(t, results[1].Ok())
	assert.True(t, results[2].Ok())
}

func TestAnyResolvesOnFirst(t *testing.T) {
	slow, _ := New[int]()
	fast := Ready(9)
	out := Any([]*Future[int]{slow, fast})
	res, err := out.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, 9, res.Try.Value)
}
