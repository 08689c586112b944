// Package hal defines the hardware-adapter interface a systick.Core needs
// in order to read the SysTick down-counter and its wrap signals. It owns
// no state of its own; implementors range from real cortex-m register
// access to a hosted test double with settable fields.
package hal

// SysTick is the read-only view of the SysTick peripheral a Core requires.
// Implementors must respect the contract that VAL counts down
// monotonically between wraps and only ever jumps upward on a reload: the
// now() read protocol uses a strict increase in VAL as a secondary witness
// for a wrap having occurred, and an adapter that violates this (e.g. by
// setting VAL to an arbitrary value outside of a reload) will cause the
// protocol to over-compensate.
type SysTick interface {
	// VAL returns the current value of the down-counter. Always in
	// [0, Reload] for a well-behaved implementation.
	VAL() uint32

	// CountFlag atomically reads and clears the hardware COUNTFLAG bit:
	// "has the counter wrapped since this was last read". Only the wrap
	// interrupt handler may call this; the now() read protocol never
	// does, since a second reader would race the handler's own clear.
	CountFlag() bool

	// PENDST reads (without clearing) the pending-interrupt bit for the
	// wrap interrupt. Hardware clears it on interrupt entry; any number
	// of readers may call this concurrently.
	PENDST() bool
}

// Config is the one-time, immutable configuration a Core is built from.
type Config struct {
	// OutputHz is the desired frequency of the ticks now() returns, e.g.
	// 1_000_000_000 for nanoseconds or 1_000 for milliseconds.
	OutputHz uint64

	// Reload is the SysTick reload value R. The hardware counts down
	// from Reload to 0 and then reloads, so one wrap is Reload+1 source
	// cycles. Must be in [1, 2^24-1].
	Reload uint32

	// SourceHz is the frequency driving the down-counter, typically the
	// CPU clock. Must be non-zero.
	SourceHz uint64
}
