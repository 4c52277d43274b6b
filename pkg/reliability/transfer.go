package reliability

import (
	"io"

	"github.com/go-rft/rft/internal/wire"
)

// SendAll reliably delivers every byte of r to the peer using the
// connection's negotiated recovery mode.
func (c *Connection) SendAll(r io.Reader) error {
	if c.mode == wire.ModeStopAndWait {
		return c.sendAllSW(r)
	}
	return c.sendAllSR(r)
}

// RecvAll writes every byte received from the peer to w, in order, until
// the peer signals end of data with FIN.
func (c *Connection) RecvAll(w io.Writer) error {
	if c.mode == wire.ModeStopAndWait {
		return c.recvAllSW(w)
	}
	return c.recvAllSR(w)
}

func (c *Connection) sendAllSW(r io.Reader) error {
	buf := make([]byte, PayloadSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if sendErr := c.sendStopAndWait(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			return nil
		}
	}
}

func (c *Connection) recvAllSW(w io.Writer) error {
	for {
		chunk, fin, err := c.recvStopAndWait()
		if err != nil {
			return err
		}
		if fin {
			return nil
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}
