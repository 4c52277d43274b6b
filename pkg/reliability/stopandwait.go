package reliability

import (
	"time"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/rerrors"
)

// sendStopAndWait sends one segment of up to PayloadSize bytes and blocks
// until it is cumulatively acknowledged, retransmitting on RTO expiry.
// At most one unacknowledged data packet exists at any time, satisfying
// the Stop-and-Wait invariant.
func (c *Connection) sendStopAndWait(chunk []byte) error {
	seq := c.localSeq
	end := seq + uint32(len(chunk))
	for attempt := 1; attempt <= SWMaxAttempts; attempt++ {
		h := wire.Header{Seq: seq, Ack: c.remoteSeq, Flags: wire.FlagPSH}
		if err := c.conn.SendTo(wire.Pack(h, chunk), c.peer); err != nil {
			return &rerrors.TransportError{Op: "send data segment", Cause: err}
		}
		sentAt := time.Now()
		deadline := sentAt.Add(c.est.RTO())
		for time.Now().Before(deadline) {
			raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
			if err != nil {
				return &rerrors.TransportError{Op: "recv data ack", Cause: err}
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
			if !rh.Has(wire.FlagACK) {
				continue
			}
			// The receiver must never acknowledge past the end of the
			// data we actually sent; an overshoot ACK is protocol
			// nonsense and is dropped rather than trusted.
			if rh.Ack > end {
				continue
			}
			if rh.Ack == end {
				if attempt == 1 {
					c.est.Sample(time.Since(sentAt))
				}
				c.localSeq = end
				return nil
			}
			// Ack for an earlier segment (duplicate): keep waiting.
		}
		c.est.Backoff()
	}
	return &rerrors.TransportError{Op: "data segment delivery", Cause: rerrors.ErrRetriesExhausted}
}

// recvStopAndWait waits for the next in-order data segment, discarding
// (but re-ACKing) anything outside the single slot Stop-and-Wait expects.
// When a FIN arrives instead of data it returns a nil payload with the
// fin flag set and a nil error.
func (c *Connection) recvStopAndWait() ([]byte, bool, error) {
	deadline := time.Now().Add(IdleTimeout)
	for time.Now().Before(deadline) {
		raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
		if err != nil {
			return nil, false, &rerrors.TransportError{Op: "recv data segment", Cause: err}
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
		if rh.Has(wire.FlagFIN) {
			return nil, true, nil
		}
		if !rh.Has(wire.FlagPSH) {
			continue
		}
		segLen := uint32(len(payload))
		if rh.Seq == c.remoteSeq {
			c.remoteSeq = rh.Seq + segLen
			ack := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagACK}
			_ = c.conn.SendTo(wire.Pack(ack, nil), c.peer)
			return payload, false, nil
		}
		// Out-of-window (here: not the single next expected segment):
		// re-ACK our current cumulative point and keep waiting.
		ack := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagACK}
		_ = c.conn.SendTo(wire.Pack(ack, nil), c.peer)
	}
	return nil, false, &rerrors.TransportError{Op: "recv data segment", Cause: rerrors.ErrIdleTimeout}
}
