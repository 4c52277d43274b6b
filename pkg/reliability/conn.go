// Package reliability implements the Reliability Engine: per-connection
// handshake, Stop-and-Wait and Selective Repeat data transfer, and
// teardown, all layered on a transport.Conn and a wire.Header codec.
//
// Exactly one goroutine owns a Connection for its entire lifetime. There
// is no internal locking on the data path, mirroring the per-node
// exclusive ownership the segmented/block SDO transfer state machines
// rely on.
package reliability

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-rft/rft/internal/rto"
	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/rerrors"
	"github.com/go-rft/rft/pkg/transport"
)

// PayloadSize is the maximum bytes of user data carried by one data
// segment.
const PayloadSize = 1024

// MaxDatagram is the largest datagram this engine will ever construct or
// accept.
const MaxDatagram = 2048

// WindowSize is the number of in-flight segments Selective Repeat allows.
const WindowSize = 25

// IdleTimeout is how long a connection tolerates receiving nothing valid
// before it is torn down as failed.
const IdleTimeout = 30 * time.Second

// SRMaxAttempts is the per-segment send attempt limit in Selective
// Repeat; the connection aborts once any segment exhausts it.
const SRMaxAttempts = 10

// SWMaxAttempts is the per-segment send attempt limit in Stop-and-Wait
// bulk data transfer.
const SWMaxAttempts = 3

// State is a Connection's position in its lifecycle state machine.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateClosing
)

var stateNames = map[State]string{
	StateClosed:       "CLOSED",
	StateListen:       "LISTEN",
	StateSynSent:      "SYN_SENT",
	StateSynRcvd:      "SYN_RCVD",
	StateEstablished:  "ESTABLISHED",
	StateClosing:      "CLOSING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Connection holds all per-transfer protocol state. It is built either by
// Connect (client side) or Accept (server side) and then driven by the
// Stop-and-Wait or Selective Repeat data-transfer functions.
type Connection struct {
	conn  transport.Conn
	peer  net.Addr

	localSeq  uint32 // S: next sequence number this side will use
	remoteSeq uint32 // R: next sequence number expected from peer

	mode     wire.Mode
	op       wire.Operation
	filename string

	state State
	est   *rto.Estimator

	log       *logrus.Entry
	closeOnce sync.Once
}

func randomISN() uint32 {
	return uint32(rand.Intn(1001))
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// Mode returns the negotiated recovery strategy.
func (c *Connection) Mode() wire.Mode { return c.mode }

// Op returns the negotiated operation.
func (c *Connection) Op() wire.Operation { return c.op }

// Filename returns the negotiated transfer filename.
func (c *Connection) Filename() string { return c.filename }

// Peer returns the address of the connection's remote endpoint.
func (c *Connection) Peer() net.Addr { return c.peer }

// dropProtocol logs and drops one malformed or nonsensical datagram. A
// ProtocolError never escalates to the caller: the engine just keeps
// waiting for something valid.
func (c *Connection) dropProtocol(reason string) {
	c.log.WithError(&rerrors.ProtocolError{Reason: reason}).Debug("dropping datagram")
}
