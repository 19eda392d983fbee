package status

import (
	"runtime"
	"time"
)

// Surface is a visible progress indicator. Its Logger methods behave like the
// façade's: the bool results carry the user's continue/cancel decision.
//
// A surface is not safe for concurrent use. Whoever constructs it is the only
// goroutine allowed to call it.
type Surface interface {
	Logger
	// Show makes the surface visible
	Show()
	// Close hides the surface and stops its rendering
	Close()
	// Release frees whatever Close left behind. The surface is unusable afterwards.
	Release()
}

// SurfaceOptions are handed to a SurfaceFactory
type SurfaceOptions struct {
	Title string
	// ThreadOwned is set when the surface lives on a dedicated worker goroutine
	ThreadOwned bool
	// Owner is nil for worker-owned surfaces
	Owner Owner
}

// SurfaceFactory constructs a surface. It is called lazily, at most once per façade.
type SurfaceFactory func(opts SurfaceOptions) Surface

// Owner is the application window (or terminal) that a synchronous surface
// temporarily takes focus from.
type Owner interface {
	// PushActivationRedirect makes s the target that receives focus and
	// output while it is on top.
	PushActivationRedirect(s Surface)
	PopActivationRedirect()
	SetInputBlocked(blocked bool)
	// Activate brings the owner back to the foreground
	Activate()
}

// Pump runs one step of the host's event processing
type Pump interface {
	PumpOnce()
}

// PumpFunc adapts a function to Pump
type PumpFunc func()

func (f PumpFunc) PumpOnce() { f() }

// SleepPump yields the worker for d. Surfaces that render on their own
// goroutines (mpb, bubbletea) need nothing more than that.
func SleepPump(d time.Duration) Pump {
	if d <= 0 {
		return PumpFunc(runtime.Gosched)
	}
	return PumpFunc(func() { time.Sleep(d) })
}

type discardSurface struct{ discard }

func (discardSurface) Show()    {}
func (discardSurface) Close()   {}
func (discardSurface) Release() {}
