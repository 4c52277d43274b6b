// Lossy is an in-memory, loss-injecting Conn used by the reliability
// engine's property tests. It generalizes pkg/can/virtual's
// TCP-broker-backed fake bus: instead of a length-prefixed TCP stream
// fanning a single channel out to many subscribers, each Lossy endpoint
// owns one Go channel as its receive queue, which is the natural
// in-process analog of a UDP socket's own receive buffer.
package transport

import (
	"math/rand"
	"net"
	"time"
)

// addr is a fake net.Addr used to identify one side of a Lossy pair.
type addr string

func (a addr) Network() string { return "lossy" }
func (a addr) String() string  { return string(a) }

type datagram struct {
	payload []byte
	from    net.Addr
}

// Lossy is one side of an in-memory datagram link.
type Lossy struct {
	self     net.Addr
	inbox    chan datagram
	peerInbox func() chan datagram
	lossRate  float64
	rng       *rand.Rand
	closed    chan struct{}
}

// NewLossyPair returns two connected endpoints. Each direction
// independently drops a datagram with probability lossRate, using a
// deterministic seed so property tests are reproducible.
func NewLossyPair(lossRate float64, seed int64) (a, b *Lossy) {
	inboxA := make(chan datagram, 256)
	inboxB := make(chan datagram, 256)
	rngA := rand.New(rand.NewSource(seed))
	rngB := rand.New(rand.NewSource(seed + 1))
	a = &Lossy{self: addr("a"), inbox: inboxA, lossRate: lossRate, rng: rngA, closed: make(chan struct{})}
	b = &Lossy{self: addr("b"), inbox: inboxB, lossRate: lossRate, rng: rngB, closed: make(chan struct{})}
	a.peerInbox = func() chan datagram { return inboxB }
	b.peerInbox = func() chan datagram { return inboxA }
	return a, b
}

func (l *Lossy) LocalAddr() net.Addr { return l.self }

// SendTo ignores peer (a Lossy pair is point-to-point) and injects loss.
func (l *Lossy) SendTo(buf []byte, _ net.Addr) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if l.rng.Float64() < l.lossRate {
		return nil
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case l.peerInbox() <- datagram{payload: cp, from: l.self}:
	default:
	}
	return nil
}

func (l *Lossy) RecvFrom(_ int, timeout time.Duration) ([]byte, net.Addr, bool, error) {
	select {
	case <-l.closed:
		return nil, nil, false, ErrClosed
	case dg := <-l.inbox:
		return dg.payload, dg.from, true, nil
	case <-time.After(timeout):
		return nil, nil, false, nil
	}
}

func (l *Lossy) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
		return nil
	}
}

var _ Conn = (*Lossy)(nil)
