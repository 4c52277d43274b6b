package reliability

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-rft/rft/internal/rto"
	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/rerrors"
	"github.com/go-rft/rft/pkg/transport"
)

// Accept drives the server side of one connection: it is called by the
// listener once a SYN has already been read on the well-known port and a
// fresh per-connection endpoint has been allocated on an ephemeral port.
// Accept replies with SYN|ACK from that new endpoint, waits for the
// client's final ACK, then receives the OP descriptor and the FNAME.
//
// clientISN is the sequence number carried by the SYN the listener
// already consumed; peer is that SYN's source address.
func Accept(conn transport.Conn, peer net.Addr, clientISN uint32, log *logrus.Entry) (*Connection, error) {
	c := &Connection{
		conn:  conn,
		peer:  peer,
		state: StateSynRcvd,
		est:   rto.New(),
		log:   log,
	}
	c.localSeq = randomISN()
	c.remoteSeq = clientISN + 1

	gotFinalAck := false
	for attempt := 1; attempt <= HandshakeAttempts && !gotFinalAck; attempt++ {
		h := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagSYN | wire.FlagACK}
		if err := conn.SendTo(wire.Pack(h, nil), peer); err != nil {
			return nil, &rerrors.TransportError{Op: "send SYN|ACK", Cause: err}
		}
		sentAt := time.Now()
		deadline := sentAt.Add(c.est.RTO())
		for time.Now().Before(deadline) {
			raw, from, ok, err := conn.RecvFrom(MaxDatagram, time.Until(deadline))
			if err != nil {
				return nil, &rerrors.TransportError{Op: "recv final ACK", Cause: err}
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
			if rh.Has(wire.FlagACK) && rh.Ack == c.localSeq+1 {
				gotFinalAck = true
				if attempt == 1 {
					c.est.Sample(time.Since(sentAt))
				}
				break
			}
		}
		if !gotFinalAck {
			c.est.Backoff()
		}
	}
	if !gotFinalAck {
		return nil, &rerrors.TransportError{Op: "handshake", Cause: rerrors.ErrRetriesExhausted}
	}
	c.localSeq++
	c.state = StateEstablished

	_, opPayload, err := c.recvReliableControl(wire.FlagPSH | wire.FlagOP)
	if err != nil {
		return nil, err
	}
	op, mode, err := wire.DecodeOpDescriptor(opPayload)
	if err != nil {
		return nil, &rerrors.TransportError{Op: "decode OP descriptor", Cause: err}
	}
	c.op = op
	c.mode = mode

	_, fnamePayload, err := c.recvReliableControl(wire.FlagPSH | wire.FlagFNAME)
	if err != nil {
		return nil, err
	}
	filename := trimFilename(fnamePayload)
	if filename == "" {
		return nil, &rerrors.TransportError{Op: "recv FNAME", Cause: rerrors.ErrEmptyFilename}
	}
	c.filename = filename

	c.log.WithFields(logrus.Fields{"peer": c.peer, "mode": mode, "op": op, "filename": filename}).Info("connection established")
	return c, nil
}

// recvReliableControl waits for one control segment carrying the given
// flags at the expected next sequence number, ACKing it (possibly
// multiple times, for duplicates) until a fresh segment with those flags
// arrives.
func (c *Connection) recvReliableControl(flags uint8) (wire.Header, []byte, error) {
	deadline := time.Now().Add(IdleTimeout)
	for time.Now().Before(deadline) {
		raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
		if err != nil {
			return wire.Header{}, nil, &rerrors.TransportError{Op: "recv control segment", Cause: err}
		}
		if !ok {
			break
		}
		if !sameHost(from, c.peer) {
			continue
		}
		rh, payload, err := wire.Unpack(raw)
		if err != nil {
			c.dropProtocol(err.Error())
			continue
		}
		if rh.ImpossibleFlags() {
			c.dropProtocol("SYN with FIN")
			continue
		}
		if !rh.Has(flags) {
			continue
		}
		segLen := uint32(len(payload))
		ack := wire.Header{Seq: c.localSeq, Ack: rh.Seq + segLen, Flags: wire.FlagACK}
		_ = c.conn.SendTo(wire.Pack(ack, nil), c.peer)
		if rh.Seq == c.remoteSeq {
			c.remoteSeq = rh.Seq + segLen
			return rh, payload, nil
		}
		// Duplicate of an already-delivered segment: re-ACK and keep
		// waiting for the segment we actually expect.
	}
	return wire.Header{}, nil, &rerrors.TransportError{Op: "recv control segment", Cause: rerrors.ErrIdleTimeout}
}

func trimFilename(payload []byte) string {
	start, end := 0, len(payload)
	for start < end && isSpace(payload[start]) {
		start++
	}
	for end > start && isSpace(payload[end-1]) {
		end--
	}
	return string(payload[start:end])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
