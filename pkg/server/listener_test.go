package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/driver"
	"github.com/go-rft/rft/pkg/transport"
)

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func discardLogrus() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

func TestConcurrentUploads(t *testing.T) {
	storageDir := t.TempDir()
	srv, err := New("127.0.0.1:0", storageDir, discardSlog())
	require.Nil(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	const clients = 8
	var wg sync.WaitGroup
	contents := make([][]byte, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clientEP, err := transport.Listen("127.0.0.1:0")
			if err != nil {
				t.Error(err)
				return
			}
			defer clientEP.Close()

			srcDir := t.TempDir()
			content := bytes.Repeat([]byte(fmt.Sprintf("client-%d-", i)), 200)
			contents[i] = content
			srcPath := filepath.Join(srcDir, "f.bin")
			if err := os.WriteFile(srcPath, content, 0o644); err != nil {
				t.Error(err)
				return
			}

			mode := wire.ModeStopAndWait
			if i%2 == 0 {
				mode = wire.ModeSelectiveRepeat
			}
			remoteName := fmt.Sprintf("client-%d.bin", i)
			err = driver.ClientUpload(clientEP, srv.welcome.LocalAddr(), srcPath, remoteName, mode, discardLogrus())
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < clients; i++ {
		remoteName := fmt.Sprintf("client-%d.bin", i)
		got, err := os.ReadFile(filepath.Join(storageDir, remoteName))
		require.Nil(t, err)
		assert.Equal(t, sha256.Sum256(contents[i]), sha256.Sum256(got))
	}
	assert.Equal(t, int64(clients), srv.TotalTransfers())

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveTransfers() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, srv.ActiveTransfers())
}
