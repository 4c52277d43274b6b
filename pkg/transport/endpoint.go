// Package transport implements the Datagram Endpoint: a thin,
// deadline-based wrapper over net.UDPConn. It is the only component that
// touches a raw socket; everything above it works in terms of SendTo and
// RecvFrom.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by SendTo/RecvFrom once the endpoint has been
// closed.
var ErrClosed = errors.New("transport: endpoint closed")

// Endpoint owns exactly one UDP socket. It is used by exactly one
// connection goroutine; there is no internal locking on the hot send/recv
// path, only on the idempotent close.
type Endpoint struct {
	conn     *net.UDPConn
	closeOnce sync.Once
	closed    bool
}

// Listen binds a UDP socket to addr (e.g. "0.0.0.0:65432" for the
// well-known server port, or "127.0.0.1:0" to get an ephemeral port for a
// freshly spawned per-connection engine).
func Listen(addr string) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	setReuseAddr(conn)
	return &Endpoint{conn: conn}, nil
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// SendTo writes buf to peer in a single syscall. It is best-effort: a
// dropped or reordered datagram is not reported as an error here, only an
// actual local failure is.
func (e *Endpoint) SendTo(buf []byte, peer net.Addr) error {
	if e.closed {
		return ErrClosed
	}
	udpPeer, ok := peer.(*net.UDPAddr)
	if !ok {
		return errors.New("transport: peer is not a UDP address")
	}
	_, err := e.conn.WriteToUDP(buf, udpPeer)
	return err
}

// RecvFrom blocks up to timeout waiting for a datagram, returning it and
// its source address. The boolean return is false on timeout, which is
// not an error: callers use it to drive retransmission loops.
func (e *Endpoint) RecvFrom(maxLen int, timeout time.Duration) ([]byte, net.Addr, bool, error) {
	if e.closed {
		return nil, nil, false, ErrClosed
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, false, err
	}
	buf := make([]byte, maxLen)
	n, peer, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, false, nil
		}
		if e.closed {
			return nil, nil, false, ErrClosed
		}
		return nil, nil, false, err
	}
	return buf[:n], peer, true, nil
}

// Close is idempotent: the first call releases the socket, every later
// call is a no-op.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed = true
		_ = e.conn.SetReadDeadline(time.Now())
		err = e.conn.Close()
	})
	return err
}

var _ Conn = (*Endpoint)(nil)

func setReuseAddr(conn *net.UDPConn) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = sc.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}
