// Package systick extends a 24-bit SysTick down-counter into a monotonic
// 64-bit tick counter. It is the direct analog of the teacher's chip
// packages (pia6532, cpu): a single state machine, advanced by an
// interrupt handler on one side and read by callers via Now() on the
// other, with no blocking and no allocation on the hot path.
package systick

import (
	"fmt"
	"sync/atomic"

	"github.com/kaidokert/systick-timer/hal"
	"github.com/kaidokert/systick-timer/scale"
)

// ConfigError reports why New rejected a configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("systick: invalid config: %s", e.Reason)
}

const maxReload = 1<<24 - 1

// Core is the process-wide state for one SysTick peripheral: the reload
// value, the precomputed scaler, and the two 32-bit atomic wrap counters.
// Exactly one Core exists per physical peripheral, shared by reference
// between the wrap interrupt and every caller of Now. Core must be
// reachable from a parameterless interrupt handler, so it is intended to
// live as a package-level variable initialized by New before interrupts
// are unmasked - the same role a static singleton plays in the source
// material this was ported from.
type Core struct {
	hw          hal.SysTick
	reload      uint32
	cfgOutputHz uint64
	scaler      scale.Scaler
	wrapLo      atomic.Uint32
	wrapHi      atomic.Uint32
	handling    atomic.Bool // spinlock-free CAS guard around OnWrapInterrupt's body
}

// New validates cfg and builds a Core reading from hw. hw must already be
// primed so VAL() returns cfg.Reload and the wrap flags are clear, mirroring
// a SysTick peripheral immediately after configuration but before the
// counter has run.
//
// Example: a millisecond-resolution timer on a 48MHz CPU with a reload of
// 47,999 ticks close to 1000 times for every 48,000,000 source cycles (the
// floored multiplier gives 999 for exactly that count):
//
//	c, err := systick.New(hal.Config{OutputHz: 1000, Reload: 47_999, SourceHz: 48_000_000}, hw)
func New(cfg hal.Config, hw hal.SysTick) (*Core, error) {
	if cfg.Reload == 0 {
		return nil, &ConfigError{Reason: "reload_value == 0"}
	}
	if cfg.Reload > maxReload {
		return nil, &ConfigError{Reason: "reload_value > 2^24 - 1"}
	}
	if cfg.SourceHz == 0 {
		return nil, &ConfigError{Reason: "source_hz == 0"}
	}
	sc, ok := scale.New(cfg.OutputHz, cfg.SourceHz)
	if !ok {
		return nil, &ConfigError{Reason: "cannot find shift"}
	}
	return &Core{hw: hw, reload: cfg.Reload, cfgOutputHz: cfg.OutputHz, scaler: sc}, nil
}

// OnWrapInterrupt advances the wrap counters by exactly one wrap. Wire it
// as the entry point of the SysTick wrap interrupt. It never blocks and
// never fails.
//
// handling is a spinlock-free compare-and-swap guard standing in for the
// brief critical section that masks the same peripheral's interrupt on the
// real hardware target. On real hardware, masking means a second firing
// while the handler is already running can never reach here as a nested
// call: it stays latched in PENDST (see Now) and is serviced by this
// peripheral's next unmasked invocation. The guard models that by simply
// declining to re-enter rather than blocking - a same-peripheral nested
// call drops out immediately instead of waiting on or recursing into the
// in-progress invocation.
func (c *Core) OnWrapInterrupt() {
	if !c.handling.CompareAndSwap(false, true) {
		return
	}
	defer c.handling.Store(false)

	// Read-and-clear COUNTFLAG. The read protocol never consults
	// COUNTFLAG (it uses PENDST instead, see Now), so this has no reader
	// of its own; it is kept only to guarantee the flag never shows a
	// stale pending wrap to some other hypothetical consumer.
	c.hw.CountFlag()

	lo := c.wrapLo.Add(1)
	if lo == 0 { // wrapped from 2^32-1 back to 0
		c.wrapHi.Add(1)
	}
}

// wraps returns the current 64-bit composite wrap count as (hi, lo).
func (c *Core) wraps() (hi, lo uint32) {
	return c.wrapHi.Load(), c.wrapLo.Load()
}

// Now returns the current 64-bit tick count. It never blocks; it retries
// internally whenever a wrap interrupt tears the snapshot it's assembling.
func (c *Core) Now() uint64 {
	for {
		preHi, preLo := c.wraps()
		before := c.hw.VAL()
		midHi, midLo := c.wraps()
		if midHi != preHi || midLo != preLo {
			continue // interrupt ran during the hardware read; retry
		}

		pending := c.hw.PENDST()
		after := c.hw.VAL()

		postHi, postLo := c.wraps()
		if postHi != preHi || postLo != preLo {
			continue // handler ran between sampling PENDST and VAL; retry
		}

		wraps := uint64(preHi)<<32 | uint64(preLo)
		val := after
		if pending || after > before {
			// Counter wrapped since wraps was sampled but the handler
			// hasn't run yet: compensate for exactly one unhandled wrap.
			wraps++
		}

		reload := uint64(c.reload)
		cycles := saturatingAdd(
			saturatingMul(wraps, reload+1),
			reload-uint64(val),
		)
		return c.scaler.Convert(cycles)
	}
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/a != b {
		return ^uint64(0)
	}
	return p
}

func saturatingAdd(a, b uint64) uint64 {
	s := a + b
	if s < a {
		return ^uint64(0)
	}
	return s
}

// DiagnoseBackwardsJump is called by a caller that observed tNow < tPrev
// and wants to attribute the violation. It converts the backwards jump to
// nanoseconds and checks whether it matches a small multiple of one wrap
// period, within 1%. It reports k+1 total unhandled wraps for a match at
// k*period (the read protocol already compensates for one), or ok==false
// if no small multiple matches.
//
// This is advisory only: it never corrects the clock, and it does not log
// - callers decide what, if anything, to do with the result.
func (c *Core) DiagnoseBackwardsJump(tNow, tPrev, sourceHz uint64) (missedWraps uint32, ok bool) {
	if tPrev <= tNow || sourceHz == 0 {
		return 0, false
	}
	outputToNanos, okSc := scale.New(1_000_000_000, c.outputHz())
	if !okSc {
		return 0, false
	}
	jumpNanos := outputToNanos.Convert(tPrev - tNow)
	periodNanos := (uint64(c.reload) + 1) * 1_000_000_000 / sourceHz

	for k := uint64(1); k <= 3; k++ {
		target := k * periodNanos
		if withinOnePercent(jumpNanos, target) {
			return uint32(k + 1), true
		}
	}
	return 0, false
}

// outputHz is retained alongside the derived scaler so
// DiagnoseBackwardsJump can build a ticks->nanoseconds conversion without
// needing the caller to pass the output frequency again.
func (c *Core) outputHz() uint64 {
	return c.cfgOutputHz
}

// Debug renders the current wrap counters for a caller to log; systick
// itself never writes to stdout/stderr.
func (c *Core) Debug() string {
	hi, lo := c.wraps()
	return fmt.Sprintf("wraps: %.8X%.8X reload: %d val: %d", hi, lo, c.reload, c.hw.VAL())
}

func withinOnePercent(got, want uint64) bool {
	if want == 0 {
		return got == 0
	}
	var diff uint64
	if got > want {
		diff = got - want
	} else {
		diff = want - got
	}
	return diff*100 <= want
}
