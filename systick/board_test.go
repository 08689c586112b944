package systick

import (
	"sync/atomic"

	"github.com/kaidokert/systick-timer/hal"
)

// board is the hosted test double for hal.SysTick. It implements the same
// read-clear semantics as the real COUNTFLAG register and exposes setters
// a driver goroutine or a test can use to script hardware behavior.
type board struct {
	val       atomic.Uint32
	countFlag atomic.Bool
	pendst    atomic.Bool
}

var _ hal.SysTick = (*board)(nil)

func (b *board) VAL() uint32 {
	return b.val.Load()
}

func (b *board) CountFlag() bool {
	return b.countFlag.Swap(false)
}

func (b *board) PENDST() bool {
	return b.pendst.Load()
}

func (b *board) setVAL(v uint32)     { b.val.Store(v) }
func (b *board) setCountFlag(v bool) { b.countFlag.Store(v) }
func (b *board) setPENDST(v bool)    { b.pendst.Store(v) }

// wrapNow simulates a hardware reload: VAL drops to 0, then the next read
// would show Reload, and the wrap signals fire, exactly as real SysTick
// does when the down-counter hits zero.
func (b *board) wrapNow(reload uint32) {
	b.setVAL(reload)
	b.setCountFlag(true)
	b.setPENDST(true)
}
