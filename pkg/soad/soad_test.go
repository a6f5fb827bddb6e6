package soad

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequiresInit(t *testing.T) {
	s := New()
	_, err := s.Connect(Endpoint{Role: RoleClient, RemoteIP: "127.0.0.1", RemotePort: 1})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestConnectRejectsUnknownRole(t *testing.T) {
	s := New()
	s.Init()
	_, err := s.Connect(Endpoint{Role: "bogus", RemoteIP: "127.0.0.1", RemotePort: 1})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestClientServerRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	var wg sync.WaitGroup
	wg.Add(1)
	var serverConn net.Conn
	go func() {
		defer wg.Done()
		serverConn, _ = listener.Accept()
	}()

	s := New()
	s.Init()
	conn, err := s.Connect(Endpoint{Role: RoleClient, RemoteIP: "127.0.0.1", RemotePort: port})
	require.NoError(t, err)
	wg.Wait()
	require.NotNil(t, serverConn)
	defer serverConn.Close()

	require.NoError(t, conn.Send([]byte{0x01, 0x02, 0x03}))

	buf := make([]byte, 8)
	n, err := serverConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])

	_, err = serverConn.Write([]byte{0xAA, 0xBB})
	require.NoError(t, err)

	received, err := conn.Receive(1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, received)
}

func TestReceiveTimesOut(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	conn := &Conn{netConn: a}

	_, err := conn.Receive(50)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestReceiveConnectionAborted(t *testing.T) {
	a, b := net.Pipe()
	conn := &Conn{netConn: a}

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Close()
	}()

	_, err := conn.Receive(1000)
	assert.ErrorIs(t, err, ErrConnectionAborted)
}

func TestDisconnectIdempotentErrorSwallowable(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := &Conn{netConn: a}

	require.NoError(t, conn.Disconnect())
	// A second close of a net.Pipe conn returns nil, but on a real socket
	// it returns an error; callers are expected to swallow it (spec.md §4.1).
	_ = conn.Disconnect()
}
