// Package scale precomputes the (multiplier, shift) pair needed to convert
// a source-cycle count into an output-tick count with no division on the
// hot path. The multiplier is floored, so results can fall slightly below
// the exact frequency ratio (see Scaler.Convert).
package scale

import "math/bits"

// minShift and maxShift bound the search for a shift that keeps the
// multiplier non-zero without overflowing 64 bits.
const (
	minShift = 32
	maxShift = 63
)

// Scaler converts accumulated source cycles to output ticks at a fixed
// ratio of outputHz/sourceHz. Zero value is not valid; build with New.
type Scaler struct {
	multiplier uint64
	shift      uint
}

// New computes the (multiplier, shift) pair such that
// multiplier == floor((outputHz << shift) / sourceHz), with shift the
// smallest value in [32, 63] for which multiplier is non-zero.
//
// Returns false if sourceHz is zero or if no shift in that range yields a
// non-zero multiplier (a pathological frequency ratio).
func New(outputHz, sourceHz uint64) (Scaler, bool) {
	if sourceHz == 0 {
		return Scaler{}, false
	}
	for shift := uint(minShift); shift <= maxShift; shift++ {
		hi, lo := bits.Mul64(outputHz, 1<<shift)
		m, ok := div128by64(hi, lo, sourceHz)
		if !ok {
			// (outputHz<<shift)/sourceHz does not fit in 64 bits;
			// larger shifts only make this worse.
			continue
		}
		if m > 0 {
			return Scaler{multiplier: m, shift: shift}, true
		}
	}
	return Scaler{}, false
}

// div128by64 divides the 128-bit (hi,lo) pair by y, returning false if the
// quotient would overflow 64 bits.
func div128by64(hi, lo, y uint64) (uint64, bool) {
	if hi >= y {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, y)
	return q, true
}

// Convert returns (cycles * multiplier) >> shift as configured by New,
// truncated to 64 bits. Because the multiplier is floored, this can be
// slightly below floor(cycles * outputHz / sourceHz) when sourceHz does not
// divide outputHz<<shift: 48,000,000 cycles at 1kHz from 48MHz give 999.
// The narrow 64x64 path is taken whenever it doesn't overflow; otherwise it
// falls back to 128-bit arithmetic. Both paths are required to agree.
func (s Scaler) Convert(cycles uint64) uint64 {
	hi, lo := bits.Mul64(cycles, s.multiplier)
	if hi == 0 {
		return lo >> s.shift
	}
	// Widen: (hi:lo) >> shift, truncated to its low 64 bits; the top
	// 64-shift bits of hi are discarded.
	return (hi << (64 - s.shift)) | (lo >> s.shift)
}
