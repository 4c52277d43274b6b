package reliability

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/internal/rto"
	"github.com/go-rft/rft/pkg/rerrors"
	"github.com/go-rft/rft/pkg/transport"
)

// HandshakeAttempts bounds the number of SYN (and other single-segment
// control) retransmissions before giving up.
const HandshakeAttempts = 6

// LingerDuration is how long the client keeps re-ACKing a duplicate
// SYN|ACK after completing the handshake, in case its own final ACK was
// lost.
const LingerDuration = 2 * time.Second

func sameHost(a, b net.Addr) bool {
	ah, _, aerr := net.SplitHostPort(a.String())
	bh, _, berr := net.SplitHostPort(b.String())
	if aerr != nil || berr != nil {
		return a.String() == b.String()
	}
	return ah == bh
}

// Connect drives the client side of the three-way handshake and the
// subsequent OP/FNAME exchange, returning an ESTABLISHED Connection ready
// to drive bulk transfer.
func Connect(conn transport.Conn, peer net.Addr, filename string, op wire.Operation, mode wire.Mode, log *logrus.Entry) (*Connection, error) {
	c := &Connection{
		conn:  conn,
		peer:  peer,
		mode:  mode,
		op:    op,
		filename: filename,
		state: StateClosed,
		est:   rto.New(),
		log:   log,
	}
	c.localSeq = randomISN()
	c.state = StateSynSent

	var serverISN uint32
	var replyFrom net.Addr
	var gotReply bool

	for attempt := 1; attempt <= HandshakeAttempts && !gotReply; attempt++ {
		h := wire.Header{Seq: c.localSeq, Ack: 0, Flags: wire.FlagSYN}
		if err := conn.SendTo(wire.Pack(h, nil), peer); err != nil {
			return nil, &rerrors.TransportError{Op: "send SYN", Cause: err}
		}
		sentAt := time.Now()
		deadline := sentAt.Add(c.est.RTO())
		for time.Now().Before(deadline) {
			raw, from, ok, err := conn.RecvFrom(MaxDatagram, time.Until(deadline))
			if err != nil {
				return nil, &rerrors.TransportError{Op: "recv SYN|ACK", Cause: err}
			}
			if !ok {
				break
			}
			if !sameHost(from, peer) {
				continue
			}
			rh, _, err := wire.Unpack(raw)
			if err != nil {
				c.dropProtocol(err.Error())
				continue
			}
			if rh.ImpossibleFlags() {
				c.dropProtocol("SYN with FIN")
				continue
			}
			if rh.Has(wire.FlagSYN|wire.FlagACK) && rh.Ack == c.localSeq+1 {
				serverISN = rh.Seq
				replyFrom = from
				gotReply = true
				if attempt == 1 {
					c.est.Sample(time.Since(sentAt))
				}
				break
			}
		}
		if !gotReply {
			c.est.Backoff()
		}
	}
	if !gotReply {
		return nil, &rerrors.TransportError{Op: "handshake", Cause: rerrors.ErrRetriesExhausted}
	}

	c.peer = replyFrom
	c.localSeq++
	c.remoteSeq = serverISN + 1
	c.state = StateEstablished

	// Final ACK, then a linger window re-ACKing any duplicate SYN|ACK
	// caused by our own ACK being lost in flight.
	final := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagACK}
	if err := conn.SendTo(wire.Pack(final, nil), c.peer); err != nil {
		return nil, &rerrors.TransportError{Op: "send final ACK", Cause: err}
	}
	c.lingerForDuplicateSynAck()

	if err := c.sendReliableControl(wire.FlagPSH|wire.FlagOP, wire.EncodeOpDescriptor(op, mode)); err != nil {
		return nil, err
	}
	if err := c.sendReliableControl(wire.FlagPSH|wire.FlagFNAME, []byte(filename)); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"peer": c.peer, "mode": mode, "op": op}).Info("connection established")
	return c, nil
}

func (c *Connection) lingerForDuplicateSynAck() {
	deadline := time.Now().Add(LingerDuration)
	for time.Now().Before(deadline) {
		raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
		if err != nil || !ok {
			return
		}
		if !sameHost(from, c.peer) {
			continue
		}
		rh, _, err := wire.Unpack(raw)
		if err != nil {
			c.dropProtocol(err.Error())
			continue
		}
		if rh.ImpossibleFlags() {
			c.dropProtocol("SYN with FIN")
			continue
		}
		if rh.Has(wire.FlagSYN | wire.FlagACK) {
			ack := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagACK}
			_ = c.conn.SendTo(wire.Pack(ack, nil), c.peer)
		}
	}
}

// sendReliableControl reliably delivers one PSH-flagged control segment
// (the OP descriptor or the FNAME) using Stop-and-Wait semantics
// regardless of the connection's chosen bulk-data mode: the handshake is
// always Stop-and-Wait.
func (c *Connection) sendReliableControl(flags uint8, payload []byte) error {
	seq := c.localSeq
	for attempt := 1; attempt <= HandshakeAttempts; attempt++ {
		h := wire.Header{Seq: seq, Ack: c.remoteSeq, Flags: flags}
		if err := c.conn.SendTo(wire.Pack(h, payload), c.peer); err != nil {
			return &rerrors.TransportError{Op: "send control segment", Cause: err}
		}
		sentAt := time.Now()
		deadline := sentAt.Add(c.est.RTO())
		for time.Now().Before(deadline) {
			raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
			if err != nil {
				return &rerrors.TransportError{Op: "recv control ack", Cause: err}
			}
			if !ok {
				break
			}
			if !sameHost(from, c.peer) {
				continue
			}
			rh, _, err := wire.Unpack(raw)
			if err != nil {
				c.dropProtocol(err.Error())
				continue
			}
			if rh.ImpossibleFlags() {
				c.dropProtocol("SYN with FIN")
				continue
			}
			if rh.Has(wire.FlagACK) && rh.Ack == seq+uint32(len(payload)) {
				if attempt == 1 {
					c.est.Sample(time.Since(sentAt))
				}
				c.localSeq = seq + uint32(len(payload))
				return nil
			}
		}
		c.est.Backoff()
	}
	return &rerrors.TransportError{Op: "control segment delivery", Cause: rerrors.ErrRetriesExhausted}
}
