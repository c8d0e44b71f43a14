package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kythira/raft/internal/future"
)

func TestCollectMajorityResolvesOnQuorum(t *testing.T) {
	f1, r1 := future.New[int]()
	f2, r2 := future.New[int]()
	f3, _ := future.New[int]() // never resolves; should be canceled

	canceled := false
	members := []Member[int]{
		{Future: f1}, {Future: f2},
		{Future: f3, Cancel: func() { canceled = true }},
	}

	out := CollectMajority(members, 2, time.Second)
	r1.Resolve(1)
	r2.Resolve(2)

	got, err := out.Get()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, canceled)
}

func TestCollectMajorityResolvesOnTimeoutWithPartialResults(t *testing.T) {
	f1, r1 := future.New[int]()
	f2, _ := future.New[int]()

	members := []Member[int]{{Future: f1}, {Future: f2}}
	out := CollectMajority(members, 2, 20*time.Millisecond)
	r1.Resolve(1)

	got, err := out.Get()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCollectMajorityIgnoresFailedMembers(t *testing.T) {
	f1 := future.Failed[int](future.NewError("x"))
	f2 := future.Ready(9)
	f3 := future.Ready(10)

	members := []Member[int]{{Future: f1}, {Future: f2}, {Future: f3}}
	out := CollectMajority(members, 2, time.Second)
	got, err := out.Get()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{9, 10}, got)
}

func TestCollectAllWaitsForEveryMember(t *testing.T) {
	f1 := future.Ready(1)
	f2 := future.Failed[int](future.NewError("boom"))
	members := []Member[int]{{Future: f1}, {Future: f2}}
	out := CollectAll(members, time.Second)
	got, err := out.Get()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Ok())
	assert.False(t, got[1].Ok())
}

func TestCollectAllTimesOutWithCancel(t *testing.T) {
	f1, _ := future.New[int]()
	canceled := false
	members := []Member[int]{{Future: f1, Cancel: func() { canceled = true }}}
	out := CollectAll(members, 10*time.Millisecond)
	_, err := out.Get()
	require.NoError(t, err)
	assert.True(t, canceled)
}
