package rto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInitialRTO(t *testing.T) {
	e := New()
	assert.Equal(t, initialRTO, e.RTO())
}

func TestFirstSampleSeedsSRTT(t *testing.T) {
	e := New()
	e.Sample(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond+4*250*time.Millisecond, e.RTO())
}

func TestRTOClampedToMinimum(t *testing.T) {
	e := New()
	e.Sample(1 * time.Millisecond)
	assert.GreaterOrEqual(t, e.RTO(), minRTO)
}

func TestRTOClampedToMaximum(t *testing.T) {
	e := New()
	e.Sample(100 * time.Second)
	assert.LessOrEqual(t, e.RTO(), maxRTO)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	e := New()
	e.Sample(1 * time.Second)
	before := e.RTO()
	e.Backoff()
	assert.Equal(t, before*2, e.RTO())

	for i := 0; i < 10; i++ {
		e.Backoff()
	}
	assert.Equal(t, maxRTO, e.RTO())
}

func TestBackoffDoesNotTouchSmoothedValues(t *testing.T) {
	e := New()
	e.Sample(1 * time.Second)
	srttBefore := e.srtt
	rttvarBefore := e.rttvar
	e.Backoff()
	assert.Equal(t, srttBefore, e.srtt)
	assert.Equal(t, rttvarBefore, e.rttvar)
}
