package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jdginn/showctl/logging"
)

const (
	DefaultPort        = 57121
	DefaultReadTimeout = time.Second
	DefaultQueueSize   = 256
	maxDatagram        = 65507
)

// ErrBind is matched by errors returned from Listen when the socket cannot be bound.
var ErrBind = errors.New("cannot bind OSC socket")

// BindError is fatal and only happens at startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot bind OSC socket on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }

// Server receives OSC datagrams on a UDP socket and hands them to a Queue.
//
// The receive loop does no decoding; routing happens on the consumers of Queue.
type Server struct {
	Addr        string
	ReadTimeout time.Duration
	Queue       *Queue

	mu   sync.Mutex
	conn *net.UDPConn
}

// Listen binds the UDP socket.
func (s *Server) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return &BindError{Addr: s.Addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &BindError{Addr: s.Addr, Err: err}
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	logging.Get(logging.APP).Info("OSC server listening", "addr", conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled. Listen must have succeeded first.
//
// Reads use ReadTimeout as a deadline so that cancellation is noticed promptly.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("osc: Serve called before Listen")
	}
	if s.Queue == nil {
		return errors.New("osc: Server has no Queue")
	}
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	log := logging.Get(logging.OSC_IN)

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("osc: set read deadline: %w", err)
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("UDP receive failed", "err", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		log.Debug("datagram received", "from", from.String(), "bytes", n)
		if s.Queue.Push(Packet{Data: data, From: from, Received: time.Now()}) {
			log.Warn("queue full, dropped oldest packet", "dropped_total", s.Queue.Dropped())
		}
	}
}

// Send encodes msg and writes it to addr.
func (s *Server) Send(to net.Addr, msg Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("osc: Send called before Listen")
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := conn.WriteTo(b, to); err != nil {
		return fmt.Errorf("osc: send %s to %s: %w", msg.Address, to, err)
	}
	logging.Get(logging.OSC_OUT).Debug("reply sent", "to", to.String(), "msg", msg.String())
	return nil
}

// Close releases the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
