package dispatch

import "sync/atomic"

// Caps tracks the remaining enqueue budget for one run. The global budget is
// shared across every discovery goroutine in the run, so it must be a single
// synchronized counter, not per-thread state.
type Caps struct {
	unlimited bool
	remaining atomic.Int64
}

// NewCaps builds a run budget. globalCap <= 0 means unlimited.
func NewCaps(globalCap int) *Caps {
	c := &Caps{unlimited: globalCap <= 0}
	if !c.unlimited {
		c.remaining.Store(int64(globalCap))
	}
	return c
}

// TryAcquire consumes one unit of the global budget. Once it returns false
// the run must stop claiming; already-claimed items are not un-claimed.
func (c *Caps) TryAcquire() bool {
	if c.unlimited {
		return true
	}
	for {
		current := c.remaining.Load()
		if current <= 0 {
			return false
		}
		if c.remaining.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Release refunds one unit, used when a claim attempt lost the race and the
// unit never turned into an enqueued item.
func (c *Caps) Release() {
	if c.unlimited {
		return
	}
	c.remaining.Add(1)
}

// Exhausted reports whether the global budget is spent.
func (c *Caps) Exhausted() bool {
	return !c.unlimited && c.remaining.Load() <= 0
}
