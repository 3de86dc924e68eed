package util

import "cmp"

// Clamp restricts v to the closed interval [lo, hi]. Callers are expected to pass lo <= hi.
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
