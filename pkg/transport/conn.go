package transport

import (
	"net"
	"time"
)

// Conn is the interface the reliability engine programs against. Endpoint
// is the real UDP-backed implementation; Lossy (lossy.go) is an in-memory
// fake used by property tests that need to inject loss deterministically.
type Conn interface {
	LocalAddr() net.Addr
	SendTo(buf []byte, peer net.Addr) error
	RecvFrom(maxLen int, timeout time.Duration) ([]byte, net.Addr, bool, error)
	Close() error
}
