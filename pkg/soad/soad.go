// Package soad ("socket adapter") owns the single TCP connection to the
// ECU or gateway: blocking send, blocking receive bounded by a per-call
// deadline, and connect/disconnect in either client or server role.
//
// Grounded on pkg/can/socketcan.go's thin wrapper over a concrete
// transport and pkg/can/bus.go's Bus interface + registry, adapted from a
// CAN frame bus to a TCP byte stream.
package soad

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// recvBufferSize is sized to comfortably hold one DoIP fragment
// (header + addressing + a UDS payload) in a single read.
const recvBufferSize = 4096

// Role selects which side of the TCP connection this tester plays.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Endpoint describes where/how to connect.
type Endpoint struct {
	Role       Role
	RemoteIP   string
	RemotePort int
	LocalIPv4  string
}

// Soad is the socket layer. It must be initialized once before Connect is
// called, mirroring the teacher's "register, then use" pattern and
// spec.md §4.1's NotInitialized failure mode.
type Soad struct {
	mu          sync.Mutex
	initialized bool
}

// New creates an uninitialized Soad.
func New() *Soad {
	return &Soad{}
}

// Init marks the layer ready for use. It is idempotent.
func (s *Soad) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// Conn is a single, shared TCP connection. All Send/Receive calls are
// serialized by an internal mutex so the handle can safely be used from
// both the main sequence goroutine and the tester-present goroutine.
type Conn struct {
	mu       sync.Mutex
	netConn  net.Conn
	listener net.Listener // only set, and only relevant, for RoleServer
}

// NewConn wraps an already-established net.Conn, e.g. one accepted by a
// caller-supplied listener instead of Soad.Connect's built-in server path.
func NewConn(netConn net.Conn) *Conn {
	return &Conn{netConn: netConn}
}

// Connect resolves and dials in client role, or binds and accepts exactly
// one connection in server role (spec.md §9: multi-session semantics for
// the server role are undefined and not implemented here).
func (s *Soad) Connect(ep Endpoint) (*Conn, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	addr := fmt.Sprintf("%s:%d", ep.RemoteIP, ep.RemotePort)

	switch ep.Role {
	case RoleClient:
		log.Debugf("soad: dialing %s", addr)
		netConn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrIOError, addr, err)
		}
		return NewConn(netConn), nil

	case RoleServer:
		bindAddr := fmt.Sprintf("%s:%d", ep.LocalIPv4, ep.RemotePort)
		log.Debugf("soad: listening on %s", bindAddr)
		listener, err := net.Listen("tcp", bindAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: listen %s: %v", ErrIOError, bindAddr, err)
		}
		netConn, err := listener.Accept()
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("%w: accept: %v", ErrIOError, err)
		}
		return &Conn{netConn: netConn, listener: listener}, nil

	default:
		return nil, ErrInvalidRole
	}
}

// Disconnect shuts down both directions of the connection. It is
// idempotent at the protocol level: a second call may return an I/O
// error, which callers are expected to swallow (spec.md §4.1).
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.netConn != nil {
		err = c.netConn.Close()
	}
	if c.listener != nil {
		_ = c.listener.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// Send writes all of data to the connection. A broken-pipe condition is
// remapped to ErrNotConnected.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for written < len(data) {
		n, err := c.netConn.Write(data[written:])
		written += n
		if err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
				return ErrNotConnected
			}
			return fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	return nil
}

// Receive performs one bounded read. It returns ErrTimedOut if the
// deadline elapses with no bytes read, and ErrConnectionAborted on a
// zero-length read (peer closed cleanly).
func (c *Conn) Receive(timeoutMs int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.netConn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}

	buf := make([]byte, recvBufferSize)
	n, err := c.netConn.Read(buf)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return nil, ErrTimedOut
		case errors.Is(err, io.EOF):
			// Go's net.Conn surfaces a cleanly closed peer as (0, io.EOF)
			// rather than a zero-length successful read; both mean the
			// same thing at the socket-API level spec.md §4.1 describes.
			return nil, ErrConnectionAborted
		default:
			return nil, fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	if n == 0 {
		return nil, ErrConnectionAborted
	}
	return buf[:n], nil
}
