// Package driver implements the Transfer Driver: the client- and
// server-side loops that drive chunked file upload/download once a
// connection is ESTABLISHED. It is grounded on the SDO client's
// ReadAll/WriteRaw poll-the-state-machine-and-accumulate pattern,
// generalized from an in-memory object-dictionary buffer to a file
// handle.
package driver

import (
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/filestore"
	"github.com/go-rft/rft/pkg/reliability"
	"github.com/go-rft/rft/pkg/rerrors"
	"github.com/go-rft/rft/pkg/transport"
)

// ClientUpload connects to peer, negotiates an upload of localPath under
// remoteName, and streams the file reliably.
func ClientUpload(conn transport.Conn, peer net.Addr, localPath, remoteName string, mode wire.Mode, log *logrus.Entry) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &rerrors.FileError{Path: localPath, Cause: err}
	}
	defer f.Close()

	c, err := reliability.Connect(conn, peer, remoteName, wire.OpUpload, mode, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SendAll(f); err != nil {
		return err
	}
	return c.Close()
}

// ClientDownload connects to peer, negotiates a download of remoteName,
// and writes the received bytes to localPath.
func ClientDownload(conn transport.Conn, peer net.Addr, localPath, remoteName string, mode wire.Mode, log *logrus.Entry) error {
	f, err := os.Create(localPath)
	if err != nil {
		return &rerrors.FileError{Path: localPath, Cause: err}
	}
	defer f.Close()
	w := filestore.NewFlushingWriter(f)

	c, err := reliability.Connect(conn, peer, remoteName, wire.OpDownload, mode, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.RecvAll(w); err != nil {
		return err
	}
	return c.Close()
}

// ServeConnection drives one already-ESTABLISHED server-side connection
// to completion: upload means receiving from the client into the store,
// download means sending a stored file to the client.
func ServeConnection(c *reliability.Connection, store *filestore.Store, log *logrus.Entry) error {
	defer c.Close()

	switch c.Op() {
	case wire.OpUpload:
		f, err := store.OpenForWrite(c.Filename())
		if err != nil {
			return err
		}
		defer f.Close()
		w := filestore.NewFlushingWriter(f)
		if err := c.RecvAll(w); err != nil {
			return err
		}
	case wire.OpDownload:
		f, err := store.OpenForRead(c.Filename())
		if err != nil {
			return err
		}
		defer f.Close()
		if err := c.SendAll(f); err != nil {
			return err
		}
	}
	return c.Close()
}
