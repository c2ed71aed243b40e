// Package cancel provides the two-stage stop signal shared by the CLI
// signal handler, the download scheduler and the progress display.
//
// The first RequestStop is graceful: no new work is started, running work
// finishes its current unit, caches are saved. The second is forced and
// exits the process immediately.
package cancel

import (
	"context"
	"errors"
	"os"
	"sync"
)

// ErrStopRequested is returned by operations that observed the stop
// signal. It is not a failure and should not be logged as one.
var ErrStopRequested = errors.New("stop requested")

// Stage is the result of a RequestStop call.
type Stage int

const (
	StageNone Stage = iota
	StageGraceful
	StageForced
)

func (s Stage) String() string {
	switch s {
	case StageGraceful:
		return "graceful"
	case StageForced:
		return "forced"
	default:
		return "none"
	}
}

// Stopper is implemented by components that must react to a graceful stop
// (the running scheduler, the progress display).
type Stopper interface {
	Stop()
}

// StopperFunc adapts a function to Stopper.
type StopperFunc func()

func (f StopperFunc) Stop() { f() }

// Controller is the shared stop signal. The zero value is not usable;
// create one with New.
type Controller struct {
	mu       sync.Mutex
	requests int
	done     chan struct{}
	stopped  chan struct{}
	nextID   int
	stoppers map[int]Stopper

	markOnce sync.Once
	exitFn   func(code int)
}

// Option configures a Controller.
type Option func(*Controller)

// WithExitFunc replaces os.Exit for the forced stage.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Controller) { c.exitFn = fn }
}

// New creates a controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		stoppers: make(map[int]Stopper),
		exitFn:   os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestStop advances the stop stage. The first call closes Done and
// notifies every registered Stopper; the second calls the exit function
// with status 1. Further calls behave like the second.
func (c *Controller) RequestStop() Stage {
	c.mu.Lock()
	c.requests++
	if c.requests > 1 {
		c.mu.Unlock()
		c.exitFn(1)
		return StageForced
	}
	close(c.done)
	stoppers := make([]Stopper, 0, len(c.stoppers))
	for _, s := range c.stoppers {
		stoppers = append(stoppers, s)
	}
	c.mu.Unlock()

	for _, s := range stoppers {
		s.Stop()
	}
	return StageGraceful
}

// IsStopRequested reports whether a stop has been requested.
func (c *Controller) IsStopRequested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed on the first RequestStop.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Register adds s to the set notified on a graceful stop and returns the
// function removing it. Registering after a stop was requested notifies s
// immediately.
func (c *Controller) Register(s Stopper) (deregister func()) {
	c.mu.Lock()
	if c.requests > 0 {
		c.mu.Unlock()
		s.Stop()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.stoppers[id] = s
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stoppers, id)
		c.mu.Unlock()
	}
}

// MarkStopped records that all work has unwound. Safe to call repeatedly.
func (c *Controller) MarkStopped() {
	c.markOnce.Do(func() { close(c.stopped) })
}

// AwaitStopped blocks until MarkStopped is called or ctx is done.
func (c *Controller) AwaitStopped(ctx context.Context) error {
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
