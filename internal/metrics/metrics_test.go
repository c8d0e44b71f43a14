package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	m := NewPrometheus(nil)
	c := m.Counter("elections_started_total", prometheus.Labels{"node": "n1"})
	c.Inc()
	c.Add(2)

	pc := c.(prometheus.Counter)
	require.Equal(t, 3.0, testutil.ToFloat64(pc))
}

func TestGaugeSetsValue(t *testing.T) {
	m := NewPrometheus(nil)
	g := m.Gauge("commit_index", prometheus.Labels{"node": "n1"})
	g.Set(42)

	pg := g.(prometheus.Gauge)
	require.Equal(t, 42.0, testutil.ToFloat64(pg))
}

func TestSameNameReusesVec(t *testing.T) {
	m := NewPrometheus(nil)
	m.Counter("rpcs_sent_total", prometheus.Labels{"kind": "append_entries"})
	m.Counter("rpcs_sent_total", prometheus.Labels{"kind": "request_vote"})
	require.Len(t, m.counters, 1)
}

func TestNopDoesNotPanic(t *testing.T) {
	n := Nop{}
	c := n.Counter("x", nil)
	g := n.Gauge("y", nil)
	require.NotPanics(t, func() {
		c.Inc()
		c.Add(1)
		g.Set(1)
		g.Add(1)
	})
}
