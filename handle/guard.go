package handle

import (
	"sync/atomic"

	"github.com/wippyai/fxn/errors"
)

// Guard enforces single release of an owned handle.
// The zero value is ready to use.
type Guard struct {
	released atomic.Bool
}

// Release runs fn the first time it is called. Later calls fail with
// invalid_operation without running fn.
func (g *Guard) Release(fn func() error) error {
	if !g.released.CompareAndSwap(false, true) {
		return errors.Released(errors.PhaseBridge, "handle")
	}
	return fn()
}

// Released reports whether Release has been called.
func (g *Guard) Released() bool {
	return g.released.Load()
}

// Check returns an invalid_operation error naming what if the guard was released.
func (g *Guard) Check(what string) error {
	if g.released.Load() {
		return errors.Released(errors.PhaseBridge, what)
	}
	return nil
}
