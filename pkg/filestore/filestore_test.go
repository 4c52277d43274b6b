package filestore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForWriteSanitizesTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.Nil(t, err)

	f, err := s.OpenForWrite("../../etc/passwd")
	require.Nil(t, err)
	defer f.Close()

	assert.Equal(t, filepath.Join(dir, "passwd"), f.Name())
}

func TestFlushingWriterPersistsImmediately(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.Nil(t, err)

	f, err := s.OpenForWrite("out.bin")
	require.Nil(t, err)
	w := NewFlushingWriter(f)

	_, err = w.Write([]byte("hello"))
	require.Nil(t, err)
	f.Close()

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.Nil(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestOpenForReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.Nil(t, err)

	_, err = s.OpenForRead("nope.bin")
	assert.NotNil(t, err)
}

func TestRoundTripReadWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.Nil(t, err)

	wf, err := s.OpenForWrite("data.bin")
	require.Nil(t, err)
	w := NewFlushingWriter(wf)
	_, err = w.Write([]byte("payload"))
	require.Nil(t, err)
	wf.Close()

	rf, err := s.OpenForRead("data.bin")
	require.Nil(t, err)
	defer rf.Close()
	data, err := io.ReadAll(rf)
	require.Nil(t, err)
	assert.Equal(t, "payload", string(data))
}
