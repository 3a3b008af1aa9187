package osc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	s := &Server{Addr: "127.0.0.1:0", ReadTimeout: 50 * time.Millisecond, Queue: NewQueue(8)}
	require.NoError(t, s.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, cancel, done
}

func TestServerQueuesDatagrams(t *testing.T) {
	s, _, _ := startServer(t)

	client, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	b, err := Encode("/cue/1/load")
	require.NoError(t, err)
	_, err = client.Write(b)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := s.Queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, p.Data)
	assert.Equal(t, client.LocalAddr().String(), p.From.String())

	// Replies go back to the sender.
	require.NoError(t, s.Send(p.From, NewMessage("/cue/loaded", "1")))
	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	reply, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, NewMessage("/cue/loaded", "1"), reply)
}

func TestServerStopsOnCancel(t *testing.T) {
	_, cancel, done := startServer(t)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not observe cancellation")
	}
}

func TestListenBindFailure(t *testing.T) {
	first := &Server{Addr: "127.0.0.1:0", Queue: NewQueue(1)}
	require.NoError(t, first.Listen())
	defer first.Close()

	second := &Server{Addr: first.LocalAddr().String(), Queue: NewQueue(1)}
	err := second.Listen()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBind))
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, first.LocalAddr().String(), bindErr.Addr)

	err = (&Server{Addr: "not-an-address", Queue: NewQueue(1)}).Listen()
	assert.ErrorIs(t, err, ErrBind)
}

func TestServeBeforeListen(t *testing.T) {
	s := &Server{Addr: "127.0.0.1:0", Queue: NewQueue(1)}
	assert.Error(t, s.Serve(context.Background()))
	assert.Error(t, s.Send(&net.UDPAddr{}, NewMessage("/x")))
}
