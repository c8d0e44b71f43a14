package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func reliableSim() *Simulator {
	s := New(1)
	s.AddNode("a")
	s.AddNode("b")
	s.AddEdge("a", "b", NetworkEdge{Latency: time.Millisecond, Reliability: 1})
	s.AddEdge("b", "a", NetworkEdge{Latency: time.Millisecond, Reliability: 1})
	s.Start()
	return s
}

func TestConnectAcceptHandshake(t *testing.T) {
	s := reliableSim()
	defer s.Stop()

	l, err := s.Bind("b", 9000)
	require.NoError(t, err)

	acceptErr := make(chan error, 1)
	var accepted *Connection
	go func() {
		c, err := l.Accept(time.Second)
		accepted = c
		acceptErr <- err
	}()

	conn, err := s.Connect("a", "b", 9000, 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, StateOpen, conn.State())

	require.NoError(t, <-acceptErr)
	require.NotNil(t, accepted)
	require.Equal(t, StateOpen, accepted.State())
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := reliableSim()
	defer s.Stop()

	l, err := s.Bind("b", 9001)
	require.NoError(t, err)

	serverConnCh := make(chan *Connection, 1)
	go func() {
		c, _ := l.Accept(time.Second)
		serverConnCh <- c
	}()

	client, err := s.Connect("a", "b", 9001, 0, time.Second)
	require.NoError(t, err)
	server := <-serverConnCh
	require.NotNil(t, server)

	ok, err := client.Write([]byte("hello"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	payload, err := server.Read(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
}

func TestCloseMarksConnectionClosed(t *testing.T) {
	s := reliableSim()
	defer s.Stop()

	l, err := s.Bind("b", 9002)
	require.NoError(t, err)

	serverConnCh := make(chan *Connection, 1)
	go func() {
		c, _ := l.Accept(time.Second)
		serverConnCh <- c
	}()

	client, err := s.Connect("a", "b", 9002, 0, time.Second)
	require.NoError(t, err)
	<-serverConnCh

	client.Close()
	require.Equal(t, StateClosed, client.State())

	_, err = client.Write([]byte("x"), time.Second)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectTimesOutWithNoListener(t *testing.T) {
	s := reliableSim()
	defer s.Stop()

	_, err := s.Connect("a", "b", 9999, 0, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestBindRejectsDuplicatePort(t *testing.T) {
	s := reliableSim()
	defer s.Stop()

	_, err := s.Bind("b", 9003)
	require.NoError(t, err)
	_, err = s.Bind("b", 9003)
	require.ErrorIs(t, err, ErrPortInUse)
}
