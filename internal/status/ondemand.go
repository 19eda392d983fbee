package status

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how long the worker goroutine sleeps between two
// looks at the shared state when no Pump is given
const DefaultPollInterval = 20 * time.Millisecond

// Options configures an OnDemand façade
type Options struct {
	// Threaded runs the surface on a dedicated worker goroutine. Otherwise the
	// surface lives on the goroutine calling the Logger methods.
	Threaded bool
	// Owner is optional. It is only used for hooks, never owned.
	Owner Owner
	// NewSurface builds the surface the first time there is something to show
	NewSurface SurfaceFactory
	// Pump is called once per worker iteration (threaded mode only)
	Pump   Pump
	Logger *zap.SugaredLogger
}

// worker is the handle of a running poll loop. EndLogging drops it without
// joining; Wait joins through the WaitGroup instead.
type worker struct {
	id int
}

// OnDemand is a Logger that shows a progress surface only once the operation
// starts emitting informational text.
//
// In threaded mode every method may be called from any goroutine. In
// synchronous mode all calls must come from the same goroutine, which is the
// one the surface is bound to.
type OnDemand struct {
	threaded   bool
	owner      Owner
	newSurface SurfaceFactory
	pump       Pump
	log        *zap.SugaredLogger

	// written once by StartLogging before the worker can exist
	title string

	mu         sync.Mutex
	terminated bool
	progress   uint32
	text       string
	proceed    bool
	worker     *worker
	// spawned counts workers ever started; read by tests only
	spawned    int

	wg sync.WaitGroup

	// synchronous mode only, caller goroutine only
	surface Surface
}

var _ Logger = (*OnDemand)(nil)

// NewOnDemand creates a façade for a single operation
func NewOnDemand(opts Options) *OnDemand {
	d := &OnDemand{
		threaded:   opts.Threaded,
		owner:      opts.Owner,
		newSurface: opts.NewSurface,
		pump:       opts.Pump,
		log:        opts.Logger,
		proceed:    true,
	}
	if d.pump == nil {
		d.pump = SleepPump(DefaultPollInterval)
	}
	if d.newSurface == nil {
		d.newSurface = func(SurfaceOptions) Surface { return discardSurface{} }
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	return d
}

// StartLogging records the title used once a surface is created
func (d *OnDemand) StartLogging(title string, writeToLog bool) {
	d.title = title
}

// EndLogging stops the worker (without waiting for it) and destroys a
// synchronous surface.
func (d *OnDemand) EndLogging() {
	d.mu.Lock()
	d.terminated = true
	d.worker = nil
	d.mu.Unlock()

	if d.surface != nil {
		d.destroySurface(d.surface)
		d.surface = nil
	}
}

// Wait blocks until the worker goroutine, if one was started, has torn down
// its surface and returned.
func (d *OnDemand) Wait() {
	d.wg.Wait()
}

func (d *OnDemand) SetProgress(percent uint32) bool {
	d.mu.Lock()
	d.progress = percent
	proceed := d.proceed
	d.mu.Unlock()

	if d.surface != nil {
		return d.surface.SetProgress(percent)
	}
	return proceed
}

func (d *OnDemand) SetText(text string, severity Severity) bool {
	if text == "" || severity != Info {
		return true
	}

	if d.threaded {
		d.mu.Lock()
		if !d.terminated {
			if d.worker == nil {
				d.startWorker()
			}
			d.text = text
		}
		proceed := d.proceed
		d.mu.Unlock()
		return proceed
	}

	d.mu.Lock()
	terminated := d.terminated
	progress := d.progress
	if !terminated {
		d.text = text
	}
	d.mu.Unlock()
	if terminated {
		return true
	}

	if d.surface == nil {
		d.surface = d.constructSurface(progress)
	}
	return d.surface.SetText(text, severity)
}

func (d *OnDemand) ContinueWork() bool {
	if d.surface != nil {
		return d.surface.ContinueWork()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proceed
}

// startWorker must be called with d.mu held
func (d *OnDemand) startWorker() {
	d.spawned++
	w := &worker{id: d.spawned}
	d.worker = w
	d.wg.Add(1)
	go d.run(w)
}

func (d *OnDemand) run(w *worker) {
	defer d.wg.Done()
	d.log.Debugw("status worker started", "title", d.title, "worker", w.id)

	var (
		lastProgress uint32
		lastText     string
		surface      Surface
	)
	for {
		d.mu.Lock()
		if d.terminated {
			d.mu.Unlock()
			break
		}
		progress, text := d.progress, d.text
		d.mu.Unlock()

		proceed := true
		if progress != lastProgress {
			lastProgress = progress
			if surface != nil {
				proceed = surface.SetProgress(progress) && proceed
			}
		}
		if text != lastText {
			lastText = text
			if surface == nil {
				surface = d.constructSurface(progress)
			}
			proceed = surface.SetText(text, Info) && proceed
		}
		if surface != nil {
			proceed = surface.ContinueWork() && proceed

			d.mu.Lock()
			d.proceed = proceed
			d.mu.Unlock()
		}

		d.pump.PumpOnce()
	}

	if surface != nil {
		d.destroySurface(surface)
	}
}

func (d *OnDemand) constructSurface(progress uint32) Surface {
	opts := SurfaceOptions{
		Title:       d.title,
		ThreadOwned: d.threaded,
	}
	if !d.threaded {
		opts.Owner = d.owner
	}

	s := d.newSurface(opts)
	s.Show()
	s.StartLogging("", false)
	s.SetProgress(progress)

	if !d.threaded && d.owner != nil {
		d.owner.PushActivationRedirect(s)
		d.owner.SetInputBlocked(true)
	}

	d.log.Debugw("status surface created", "title", d.title, "threaded", d.threaded)
	return s
}

func (d *OnDemand) destroySurface(s Surface) {
	if !d.threaded && d.owner != nil {
		d.owner.PopActivationRedirect()
		d.owner.SetInputBlocked(false)
	}

	s.EndLogging()
	s.Close()
	s.Release()

	// closing the surface can leave nothing focused
	if d.owner != nil {
		d.owner.Activate()
	}
	d.log.Debugw("status surface destroyed", "title", d.title, "threaded", d.threaded)
}
