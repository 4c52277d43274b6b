package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointSendRecvRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	assert.Nil(t, err)
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	assert.Nil(t, err)
	defer b.Close()

	err = a.SendTo([]byte("ping"), b.LocalAddr())
	assert.Nil(t, err)

	buf, from, ok, err := b.RecvFrom(64, time.Second)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ping", string(buf))
	assert.NotNil(t, from)
}

func TestEndpointRecvTimesOut(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	assert.Nil(t, err)
	defer a.Close()

	_, _, ok, err := a.RecvFrom(64, 50*time.Millisecond)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestEndpointCloseIdempotent(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	assert.Nil(t, err)
	assert.Nil(t, a.Close())
	assert.Nil(t, a.Close())
}

func TestLossyPairDropsAtConfiguredRate(t *testing.T) {
	a, b := NewLossyPair(1.0, 1)
	defer a.Close()
	defer b.Close()

	err := a.SendTo([]byte("x"), b.LocalAddr())
	assert.Nil(t, err)
	_, _, ok, err := b.RecvFrom(64, 20*time.Millisecond)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestLossyPairDeliversWithoutLoss(t *testing.T) {
	a, b := NewLossyPair(0.0, 1)
	defer a.Close()
	defer b.Close()

	err := a.SendTo([]byte("y"), b.LocalAddr())
	assert.Nil(t, err)
	buf, _, ok, err := b.RecvFrom(64, time.Second)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "y", string(buf))
}
