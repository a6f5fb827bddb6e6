package doip

import (
	"net"
	"testing"

	"github.com/banh1996/go-doip-tester/pkg/soad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Version:        0x02,
		InverseVersion: 0xFD,
		TesterAddr:     0x0E80,
		EcuAddr:        0x1234,
		ActivationCode: 0x00,
	}
}

// newLoopback returns a soad.Conn and its TCP peer over a real loopback
// socket, so tests can write raw bytes from the "ECU" side.
func newLoopback(t *testing.T) (*soad.Conn, net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	serverDone := make(chan net.Conn, 1)
	go func() {
		c, _ := listener.Accept()
		serverDone <- c
	}()

	clientNetConn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	serverNetConn := <-serverDone
	require.NotNil(t, serverNetConn)

	return soad.NewConn(clientNetConn), serverNetConn
}

func TestSendRoutingActivationWireBytes(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	require.NoError(t, d.SendRoutingActivation())

	buf := make([]byte, 32)
	n, err := serverSide.Read(buf)
	require.NoError(t, err)

	want := []byte{0x02, 0xFD, 0x00, 0x05, 0x00, 0x00, 0x00, 0x07, 0x0E, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00}
	assert.Equal(t, want, buf[:n])
}

func TestSendDiagWouldBlockBeforeActivation(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	err := d.SendDiag([]byte{0x3E, 0x80})
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestReceiveRoutingActivationResponseSetsFlag(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	inbound := []byte{0x02, 0xFD, 0x00, 0x06, 0x00, 0x00, 0x00, 0x09, 0x0E, 0x80, 0x12, 0x34, 0x10, 0x00, 0x00, 0x00, 0x00}
	_, err := serverSide.Write(inbound)
	require.NoError(t, err)

	_, activationComplete, err := d.Receive(1000)
	require.NoError(t, err)
	assert.True(t, activationComplete)
	assert.True(t, d.RoutingActivated())
}

func TestReceivePendingThenFinalPayload(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	d.routingActivated = true

	pending := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x07, 0x12, 0x34, 0x0E, 0x80, 0x7F, 0x22, 0x78}
	final := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x08, 0x12, 0x34, 0x0E, 0x80, 0x62, 0xF1, 0x86, 0x01}

	_, err := serverSide.Write(pending)
	require.NoError(t, err)
	payload, activationComplete, err := d.Receive(1000)
	require.NoError(t, err)
	assert.False(t, activationComplete)
	assert.Equal(t, []byte{0x7F, 0x22, 0x78}, payload)

	_, err = serverSide.Write(final)
	require.NoError(t, err)
	payload, activationComplete, err = d.Receive(1000)
	require.NoError(t, err)
	assert.False(t, activationComplete)
	assert.Equal(t, []byte{0x62, 0xF1, 0x86, 0x01}, payload)
}

func TestReceiveDropsMismatchedAddressing(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	d.routingActivated = true

	// src does not match ecu_addr, dst matches tester_addr: dropped.
	wrong := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x06, 0x99, 0x99, 0x0E, 0x80, 0xAB, 0xCD}
	right := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x06, 0x12, 0x34, 0x0E, 0x80, 0x51, 0x01}

	_, err := serverSide.Write(wrong)
	require.NoError(t, err)
	_, err = serverSide.Write(right)
	require.NoError(t, err)

	payload, activationComplete, err := d.Receive(1000)
	require.NoError(t, err)
	assert.False(t, activationComplete)
	assert.Equal(t, []byte{0x51, 0x01}, payload)
}

func TestReceiveDropsAckAndKeepsWaiting(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	d.routingActivated = true

	ack := []byte{0x02, 0xFD, 0x80, 0x02, 0x00, 0x00, 0x00, 0x00}
	diag := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x06, 0x12, 0x34, 0x0E, 0x80, 0x3E, 0x00}

	_, err := serverSide.Write(append(ack, diag...))
	require.NoError(t, err)

	payload, activationComplete, err := d.Receive(1000)
	require.NoError(t, err)
	assert.False(t, activationComplete)
	assert.Equal(t, []byte{0x3E, 0x00}, payload)
}

func TestReceiveRejectsOversizedDeclaredLength(t *testing.T) {
	conn, serverSide := newLoopback(t)
	defer serverSide.Close()

	d := New(conn, testConfig())
	d.routingActivated = true

	// Header declares a payload_length far beyond maxDeclaredPayloadLength;
	// no amount of buffering will ever satisfy it, so Receive must surface
	// ErrInvalidData immediately rather than stalling until its deadline.
	oversized := []byte{0x02, 0xFD, 0x80, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x12, 0x34, 0x0E, 0x80}
	_, err := serverSide.Write(oversized)
	require.NoError(t, err)

	_, _, err = d.Receive(5000)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestParseFrameLengthMismatchIsInvalidData(t *testing.T) {
	// Header declares payload_length=7 but only 2 bytes of payload follow.
	bad := []byte{0x02, 0xFD, 0x80, 0x01, 0x00, 0x00, 0x00, 0x07, 0xAA, 0xBB}
	_, _, err := ParseFrame(bad)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestParseFrameRoundTrip(t *testing.T) {
	header := EncodeHeader(Header{Version: 2, InverseVersion: 0xFD, Type: PayloadTypeDiagnosticMessage, PayloadLength: 3})
	frame := append(header, []byte{1, 2, 3}...)
	h, payload, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(PayloadTypeDiagnosticMessage), h.Type)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}
