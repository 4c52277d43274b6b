package reliability

import (
	"time"

	"github.com/go-rft/rft/internal/wire"
)

// closeBound is the unconditional bound teardown will wait for before
// closing regardless of whether the peer's FIN/ACK was ever observed.
const closeBound = 1 * time.Second

// Close performs a best-effort graceful teardown (FIN, await ACK|FIN,
// final ACK) bounded by closeBound, then releases local state. Close is
// safe to call from any connection state and is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state = StateClosing
		fin := wire.Header{Seq: c.localSeq, Ack: c.remoteSeq, Flags: wire.FlagFIN}
		_ = c.conn.SendTo(wire.Pack(fin, nil), c.peer)

		deadline := time.Now().Add(closeBound)
		for time.Now().Before(deadline) {
			raw, from, ok, recvErr := c.conn.RecvFrom(MaxDatagram, time.Until(deadline))
			if recvErr != nil || !ok {
				break
			}
			if !sameHost(from, c.peer) {
				continue
			}
			rh, _, uerr := wire.Unpack(raw)
			if uerr != nil {
				c.dropProtocol(uerr.Error())
				continue
			}
			if rh.Has(wire.FlagFIN) {
				ack := wire.Header{Seq: c.localSeq + 1, Ack: rh.Seq + 1, Flags: wire.FlagACK}
				_ = c.conn.SendTo(wire.Pack(ack, nil), c.peer)
				break
			}
			if rh.Has(wire.FlagACK) && rh.Ack == c.localSeq+1 {
				break
			}
		}
		c.state = StateClosed
	})
	return err
}
