package reliability

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rft/rft/internal/rto"
	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/transport"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

// waitForSyn mimics the first step the listener performs: read datagrams
// on the shared endpoint until a SYN arrives, returning its ISN and
// source address so the caller can hand off to Accept. pkg/server hands
// off to a fresh per-connection endpoint; a Lossy pair has only two ends,
// so these tests run Accept on the same endpoint that saw the SYN.
func waitForSyn(conn transport.Conn, timeout time.Duration) (uint32, net.Addr, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		raw, from, ok, err := conn.RecvFrom(MaxDatagram, time.Until(deadline))
		if err != nil || !ok {
			continue
		}
		h, _, err := wire.Unpack(raw)
		if err != nil || h.ImpossibleFlags() {
			continue
		}
		if h.Has(wire.FlagSYN) {
			return h.Seq, from, true
		}
	}
	return 0, nil, false
}

func establishPair(t *testing.T, lossRate float64, mode wire.Mode) (*Connection, *Connection) {
	t.Helper()
	clientEP, serverEP := transport.NewLossyPair(lossRate, 42)

	var serverConn *Connection
	var serverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		isn, from, ok := waitForSyn(serverEP, 5*time.Second)
		if !ok {
			serverErr = assertErr("no SYN observed")
			return
		}
		serverConn, serverErr = Accept(serverEP, from, isn, testLogger())
	}()

	clientConn, clientErr := Connect(clientEP, serverEP.LocalAddr(), "report.txt", wire.OpUpload, mode, testLogger())
	wg.Wait()

	require.Nil(t, clientErr)
	require.Nil(t, serverErr)
	require.NotNil(t, serverConn)
	return clientConn, serverConn
}

type strErr string

func (e strErr) Error() string { return string(e) }
func assertErr(s string) error { return strErr(s) }

func TestHandshakeEstablishesBothSides(t *testing.T) {
	client, server := establishPair(t, 0, wire.ModeStopAndWait)
	defer client.Close()
	defer server.Close()

	assert.Equal(t, StateEstablished, client.State())
	assert.Equal(t, StateEstablished, server.State())
	assert.Equal(t, wire.OpUpload, server.Op())
	assert.Equal(t, "report.txt", server.Filename())
}

func TestStopAndWaitRoundTrip(t *testing.T) {
	client, server := establishPair(t, 0, wire.ModeStopAndWait)
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("abcdefgh"), 400) // > PayloadSize, multiple segments
	var received bytes.Buffer

	var wg sync.WaitGroup
	wg.Add(1)
	var recvErr error
	go func() {
		defer wg.Done()
		recvErr = server.RecvAll(&received)
	}()

	sendErr := client.SendAll(bytes.NewReader(payload))
	assert.Nil(t, sendErr)
	assert.Nil(t, client.Close())
	wg.Wait()

	assert.Nil(t, recvErr)
	assert.Equal(t, payload, received.Bytes())
}

func TestSelectiveRepeatRoundTripUnderLoss(t *testing.T) {
	client, server := establishPair(t, 0.1, wire.ModeSelectiveRepeat)
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("0123456789"), 3000) // several windows worth
	var received bytes.Buffer

	var wg sync.WaitGroup
	wg.Add(1)
	var recvErr error
	go func() {
		defer wg.Done()
		recvErr = server.RecvAll(&received)
	}()

	sendErr := client.SendAll(bytes.NewReader(payload))
	assert.Nil(t, sendErr)
	assert.Nil(t, client.Close())
	wg.Wait()

	assert.Nil(t, recvErr)
	assert.Equal(t, payload, received.Bytes())
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := establishPair(t, 0, wire.ModeStopAndWait)
	defer server.Close()

	assert.Nil(t, client.Close())
	assert.Nil(t, client.Close())
}

func TestCumulativeAckDropsCoveredSegments(t *testing.T) {
	window := []*srSegment{
		{seq: 0, data: make([]byte, 10)},
		{seq: 10, data: make([]byte, 10)},
		{seq: 20, data: make([]byte, 10)},
	}
	for _, seg := range window {
		seg.attempts = 1
	}
	c := &Connection{est: rto.New()}
	remaining := c.applyCumulativeAck(window, 20)
	assert.Len(t, remaining, 1)
	assert.Equal(t, uint32(20), remaining[0].seq)
}

func TestSeqLEWrapsModulo32(t *testing.T) {
	assert.True(t, seqLE(0xFFFFFFFE, 0xFFFFFFFF))
	assert.True(t, seqLE(0xFFFFFFFF, 1))
	assert.False(t, seqLE(5, 2))
}

func TestHandshakeToleratesMalformedAndImpossibleDatagrams(t *testing.T) {
	clientEP, serverEP := transport.NewLossyPair(0, 7)

	var serverConn *Connection
	var serverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		isn, from, ok := waitForSyn(serverEP, 5*time.Second)
		if !ok {
			serverErr = assertErr("no SYN observed")
			return
		}
		serverConn, serverErr = Accept(serverEP, from, isn, testLogger())
	}()

	// A short, truncated datagram and one with an impossible SYN|FIN
	// combination precede the real SYN; both must be dropped silently
	// rather than derailing the handshake.
	_ = clientEP.SendTo([]byte{0x01, 0x02, 0x03}, serverEP.LocalAddr())
	bogus := wire.Header{Seq: 1, Ack: 0, Flags: wire.FlagSYN | wire.FlagFIN}
	_ = clientEP.SendTo(wire.Pack(bogus, nil), serverEP.LocalAddr())

	clientConn, clientErr := Connect(clientEP, serverEP.LocalAddr(), "report.txt", wire.OpUpload, wire.ModeStopAndWait, testLogger())
	wg.Wait()

	require.Nil(t, clientErr)
	require.Nil(t, serverErr)
	require.NotNil(t, serverConn)
	assert.Equal(t, StateEstablished, clientConn.State())
	assert.Equal(t, StateEstablished, serverConn.State())

	_ = clientConn.Close()
	_ = serverConn.Close()
}
