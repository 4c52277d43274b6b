package reliability

import (
	"io"
	"time"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/rerrors"
)

// srSegment is one outstanding, unacknowledged segment in the Selective
// Repeat send window.
type srSegment struct {
	seq      uint32
	data     []byte
	attempts int
	sentAt   time.Time
	deadline time.Time
}

// sendAllSR drains r in PayloadSize chunks using a sliding window of up
// to WindowSize outstanding segments. Each segment tracks its own
// deadline, but only the single oldest expired segment is retransmitted
// per wake, with one RTO backoff applied per event, to avoid bursting
// retransmissions across the whole window at once. A segment that
// exceeds SRMaxAttempts aborts the whole connection, per the fixed
// per-segment attempt limit.
func (c *Connection) sendAllSR(r io.Reader) error {
	var window []*srSegment
	eof := false
	idleDeadline := time.Now().Add(IdleTimeout)

	fill := func() error {
		for !eof && len(window) < WindowSize {
			buf := make([]byte, PayloadSize)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				seg := &srSegment{seq: c.localSeq, data: buf[:n]}
				c.localSeq += uint32(n)
				window = append(window, seg)
				if sendErr := c.transmit(seg); sendErr != nil {
					return sendErr
				}
			}
			if err != nil {
				eof = true
			}
		}
		return nil
	}

	if err := fill(); err != nil {
		return err
	}

	for len(window) > 0 {
		if time.Now().After(idleDeadline) {
			return &rerrors.TransportError{Op: "selective repeat send", Cause: rerrors.ErrIdleTimeout}
		}
		waitUntil := idleDeadline
		for _, seg := range window {
			if seg.deadline.Before(waitUntil) {
				waitUntil = seg.deadline
			}
		}
		wait := time.Until(waitUntil)
		if wait < 0 {
			wait = 0
		}
		raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, wait)
		if err != nil {
			return &rerrors.TransportError{Op: "recv SR ack", Cause: err}
		}
		if ok && sameHost(from, c.peer) {
			rh, _, perr := wire.Unpack(raw)
			if perr != nil {
				c.dropProtocol(perr.Error())
			} else if rh.ImpossibleFlags() {
				c.dropProtocol("SYN with FIN")
			} else if rh.Has(wire.FlagACK) {
				idleDeadline = time.Now().Add(IdleTimeout)
				window = c.applyCumulativeAck(window, rh.Ack)
			}
		}

		now := time.Now()
		var oldest *srSegment
		for _, seg := range window {
			if now.Before(seg.deadline) {
				continue
			}
			if oldest == nil || seg.deadline.Before(oldest.deadline) {
				oldest = seg
			}
		}
		if oldest != nil {
			if oldest.attempts >= SRMaxAttempts {
				return &rerrors.TransportError{Op: "selective repeat send", Cause: rerrors.ErrRetriesExhausted}
			}
			c.est.Backoff()
			if err := c.transmit(oldest); err != nil {
				return err
			}
		}

		if err := fill(); err != nil {
			return err
		}
	}
	return nil
}

// transmit sends (or resends) one segment and (re)arms its deadline from
// the connection's current RTO.
func (c *Connection) transmit(seg *srSegment) error {
	h := wire.Header{Seq: seg.seq, Ack: c.remoteSeq, Flags: wire.FlagPSH}
	seg.attempts++
	seg.sentAt = time.Now()
	seg.deadline = seg.sentAt.Add(c.est.RTO())
	return c.conn.SendTo(wire.Pack(h, seg.data), c.peer)
}

// applyCumulativeAck drops every segment fully covered by ack and returns
// the remaining window. RTT is only sampled from a segment that was
// never retransmitted (Karn's rule).
func (c *Connection) applyCumulativeAck(window []*srSegment, ack uint32) []*srSegment {
	kept := window[:0]
	for _, seg := range window {
		end := seg.seq + uint32(len(seg.data))
		if seqLE(end, ack) {
			if seg.attempts == 1 {
				c.est.Sample(time.Since(seg.sentAt))
			}
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

// seqLE compares sequence numbers modulo 2^32, treating a as <= b if the
// forward distance from a to b is not negative.
func seqLE(a, b uint32) bool {
	return int32(a-b) <= 0
}

// recvAllSR reassembles data arriving out of order within the receive
// window, delivering strictly in-order bytes to w, and re-ACKs the
// current cumulative point for anything outside the window or already
// delivered. Every accepted data segment triggers a fresh cumulative
// ACK, which is what keeps the sender's idle timer alive during a long
// Selective Repeat transfer.
func (c *Connection) recvAllSR(w io.Writer) error {
	pending := make(map[uint32][]byte)
	deadline := time.Now().Add(IdleTimeout)

	ackCumulative := func() {
		h := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagACK}
		_ = c.conn.SendTo(wire.Pack(h, nil), c.peer)
	}

	for {
		if time.Now().After(deadline) {
			return &rerrors.TransportError{Op: "selective repeat recv", Cause: rerrors.ErrIdleTimeout}
		}
		raw, from, ok, err := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
		if err != nil {
			return &rerrors.TransportError{Op: "recv SR data", Cause: err}
		}
		if !ok {
			continue
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
			return nil
		}
		if !rh.Has(wire.FlagPSH) {
			continue
		}
		deadline = time.Now().Add(IdleTimeout)

		windowEnd := c.remoteSeq + uint32(WindowSize*PayloadSize)
		if !inWindow(rh.Seq, c.remoteSeq, windowEnd) {
			ackCumulative()
			continue
		}
		if _, already := pending[rh.Seq]; !already {
			pending[rh.Seq] = payload
		}

		for {
			chunk, ok := pending[c.remoteSeq]
			if !ok {
				break
			}
			if _, err := w.Write(chunk); err != nil {
				return &rerrors.FileError{Path: c.filename, Cause: err}
			}
			delete(pending, c.remoteSeq)
			c.remoteSeq += uint32(len(chunk))
		}
		ackCumulative()
	}
}

func inWindow(seq, lo, hi uint32) bool {
	if lo <= hi {
		return seq >= lo && seq < hi
	}
	return seq >= lo || seq < hi
}
