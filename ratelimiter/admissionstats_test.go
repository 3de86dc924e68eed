package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmissionStats_EmptyRateIsZero(t *testing.T) {
	s := newAdmissionStats(4)
	assert.Equal(t, 0.0, s.rate())
}

func TestAdmissionStats_AllAdmitted(t *testing.T) {
	s := newAdmissionStats(4)
	for i := 0; i < 4; i++ {
		s.record(true)
	}
	assert.Equal(t, 1.0, s.rate())
}

func TestAdmissionStats_MixedOutcomes(t *testing.T) {
	s := newAdmissionStats(4)
	s.record(true)
	s.record(false)
	s.record(true)
	s.record(false)
	assert.Equal(t, 0.5, s.rate())
}

// Once the ring wraps, the oldest outcome is evicted from the running rate.
func TestAdmissionStats_RingEviction(t *testing.T) {
	s := newAdmissionStats(2)
	s.record(true)
	s.record(true)
	assert.Equal(t, 1.0, s.rate())

	s.record(false)
	// Ring now holds [true, false] (the first true evicted).
	assert.Equal(t, 0.5, s.rate())

	s.record(false)
	// Ring now holds [false, false].
	assert.Equal(t, 0.0, s.rate())
}

func TestAdmissionStats_ZeroSizeNoOp(t *testing.T) {
	s := newAdmissionStats(0)
	s.record(true)
	s.record(false)
	assert.Equal(t, 0.0, s.rate())
}

func TestAdmissionStats_PartiallyFilled(t *testing.T) {
	s := newAdmissionStats(10)
	s.record(true)
	s.record(true)
	s.record(false)
	assert.InDelta(t, 2.0/3.0, s.rate(), 1e-9)
}
