package ratelimiter

import "github.com/bits-and-blooms/bitset"

// admissionStats is a fixed-capacity ring of admit/throttle outcomes,
// observability only: it never influences an admission decision. It
// answers "what fraction of the last N decisions were admits" in O(1) per
// update, the same ring-of-bits technique the teacher's circuitbreaker
// package uses for its rolling success/failure counts, adapted here for
// admit/throttle instead of success/failure.
type admissionStats struct {
	bits *bitset.BitSet
	size uint

	next     uint
	occupied uint
	admits   uint
	throttle uint
}

func newAdmissionStats(size uint) *admissionStats {
	return &admissionStats{
		bits: bitset.New(size),
		size: size,
	}
}

// record appends an outcome (true = admitted, false = throttled), evicting
// the oldest recorded outcome once the ring is full.
func (s *admissionStats) record(admitted bool) {
	if s.size == 0 {
		return
	}

	if s.occupied < s.size {
		s.occupied++
	} else if s.bits.Test(s.next) {
		s.admits--
	} else {
		s.throttle--
	}

	s.bits.SetTo(s.next, admitted)
	s.next = (s.next + 1) % s.size

	if admitted {
		s.admits++
	} else {
		s.throttle++
	}
}

// rate returns the fraction of retained outcomes that were admits, or 0 if
// nothing has been recorded yet.
func (s *admissionStats) rate() float64 {
	if s.occupied == 0 {
		return 0
	}
	return float64(s.admits) / float64(s.occupied)
}
