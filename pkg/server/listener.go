// Package server implements the Listener/Demux: a single well-known-port
// endpoint that accepts SYNs and spawns a fresh per-connection Reliability
// Engine, bound to its own ephemeral port, in an independent goroutine.
//
// Demultiplexing of data traffic is never done on the listening socket --
// each accepted connection owns an exclusive UDP socket for its entire
// lifetime. The registry kept here exists purely for basic metrics
// (ActiveTransfers); shutdown waits on the connection goroutines, not on
// the registry. It mirrors pkg/network.Network's controller map used
// the same way for CANopen nodes.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/driver"
	"github.com/go-rft/rft/pkg/filestore"
	"github.com/go-rft/rft/pkg/reliability"
	"github.com/go-rft/rft/pkg/transport"
)

// acceptPollInterval bounds how long Serve's accept loop blocks on one
// RecvFrom call before re-checking ctx, so shutdown is prompt.
const acceptPollInterval = 500 * time.Millisecond

// Server owns the well-known listening endpoint and the file store
// transfers are served against.
type Server struct {
	welcome *transport.Endpoint
	store   *filestore.Store
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]wire.Operation

	totalTransfers atomic.Int64
}

// New binds the well-known endpoint at addr and roots transfers at
// storageDir.
func New(addr string, storageDir string, logger *slog.Logger) (*Server, error) {
	ep, err := transport.Listen(addr)
	if err != nil {
		return nil, err
	}
	store, err := filestore.New(storageDir)
	if err != nil {
		ep.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		welcome: ep,
		store:   store,
		logger:  logger,
		active:  make(map[string]wire.Operation),
	}, nil
}

// ActiveTransfers returns the number of connections currently being
// served.
func (s *Server) ActiveTransfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// TotalTransfers returns the lifetime count of connections accepted.
func (s *Server) TotalTransfers() int64 {
	return s.totalTransfers.Load()
}

// Close releases the well-known endpoint.
func (s *Server) Close() error {
	return s.welcome.Close()
}

// Serve blocks, accepting connections until ctx is cancelled. Each
// accepted connection is served in its own goroutine, with its own
// ephemeral-port endpoint.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, from, ok, err := s.welcome.RecvFrom(reliability.MaxDatagram, acceptPollInterval)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		h, _, err := wire.Unpack(raw)
		if err != nil {
			s.logger.Warn("dropped malformed datagram on welcome endpoint", "peer", from)
			continue
		}
		if h.ImpossibleFlags() {
			s.logger.Warn("dropped datagram with impossible flag combination", "peer", from)
			continue
		}
		if !h.Has(wire.FlagSYN) {
			continue
		}

		wg.Add(1)
		go func(isn uint32, peer net.Addr) {
			defer wg.Done()
			s.acceptAndServe(isn, peer)
		}(h.Seq, from)
	}
}

func (s *Server) acceptAndServe(isn uint32, peer net.Addr) {
	connEP, err := transport.Listen("0.0.0.0:0")
	if err != nil {
		s.logger.Error("failed to allocate per-connection endpoint", "error", err)
		return
	}
	defer connEP.Close()

	log := logrus.NewEntry(logrus.StandardLogger()).WithField("peer", peer.String())

	c, err := reliability.Accept(connEP, peer, isn, log)
	if err != nil {
		s.logger.Warn("handshake failed", "peer", peer.String(), "error", err)
		return
	}

	s.mu.Lock()
	s.active[peer.String()] = c.Op()
	s.mu.Unlock()
	s.totalTransfers.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.active, peer.String())
		s.mu.Unlock()
	}()

	if err := driver.ServeConnection(c, s.store, log); err != nil {
		s.logger.Warn("transfer failed", "peer", peer.String(), "filename", c.Filename(), "error", err)
		return
	}
	s.logger.Info("transfer complete", "peer", peer.String(), "filename", c.Filename(), "op", int(c.Op()))
}
