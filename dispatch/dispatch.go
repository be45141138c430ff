// Package dispatch implements the dispatcher host (spec.md §4.9): a
// process- or user-constructed owner of a single maintenance goroutine and
// a single-threaded dispatch context, used whenever a subscriber has no
// ambient synchronization context of its own.
//
// The worker lifecycle is modeled on hivekit's hive/tx.Manager /
// hive/dirty.Tracker discipline of context-cancellable operations with a
// bounded drain on shutdown, generalized here from a single I/O flush
// deadline to a long-lived worker drain deadline.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/datatree/logging"
)

// DefaultCheckInterval is the default periodic-cleanup cadence (spec.md
// §4.9: default 10s, adjustable, never <= 0).
const DefaultCheckInterval = 10 * time.Second

// DefaultShutdownTimeout bounds how long Shutdown waits for the worker to
// drain queued callbacks before giving up and joining unbounded (spec.md
// §4.9: "joins within 2s or logs and joins unbounded").
const DefaultShutdownTimeout = 2 * time.Second

// Checkable is satisfied by a tree manager: periodic cleanup sweeps every
// registered Checkable, dropping it from the host's set when it reports the
// tree's root is gone.
type Checkable interface {
	// CheckPeriodically runs one cleanup pass and returns false when the
	// tree's root has been collected, signaling the host to stop tracking
	// it.
	CheckPeriodically(ctx context.Context) bool
}

// Options configures a Host.
type Options struct {
	// CheckInterval is the periodic-cleanup cadence. Non-positive values
	// are replaced by DefaultCheckInterval (spec.md: "never <= 0").
	CheckInterval time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for a graceful drain.
	ShutdownTimeout time.Duration
}

func (o Options) normalized() Options {
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	return o
}

// job is a queued callback awaiting the worker's single FIFO thread.
type job struct {
	fn   func()
	done chan struct{} // non-nil if the caller wants to wait for completion
}

// Host owns one maintenance goroutine: it drains a FIFO job queue and, on
// every tick, runs CheckPeriodically against every registered Checkable.
type Host struct {
	opts Options

	jobs chan job

	mu    chan struct{} // 1-buffered mutex guarding checkables
	items map[*registration]struct{}

	stop    chan struct{}
	stopped chan struct{}
}

type registration struct {
	get func() (Checkable, bool)
}

// NewHost starts the maintenance goroutine and returns the Host.
func NewHost(opts Options) *Host {
	opts = opts.normalized()
	h := &Host{
		opts:    opts,
		jobs:    make(chan job, 256),
		mu:      make(chan struct{}, 1),
		items:   make(map[*registration]struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	h.mu <- struct{}{}
	go h.run()
	return h
}

// Register adds a weakly-observed Checkable to the host's periodic sweep.
// get is called on every tick; when it returns ok == false the registration
// is dropped, following the spec's "weak references to tree managers"
// contract (spec.md §4.9) without this package needing to import the
// treemgr package: the caller supplies the weak-pointer lookup.
func (h *Host) Register(get func() (Checkable, bool)) {
	r := &registration{get: get}
	<-h.mu
	h.items[r] = struct{}{}
	h.mu <- struct{}{}
}

// Schedule queues fn for invocation on the worker, FIFO, non-blocking for
// the caller once the queue accepts it.
func (h *Host) Schedule(fn func()) {
	select {
	case h.jobs <- job{fn: fn}:
	case <-h.stop:
	}
}

// ScheduleAndWait queues fn and blocks until it has run.
func (h *Host) ScheduleAndWait(fn func()) {
	done := make(chan struct{})
	select {
	case h.jobs <- job{fn: fn, done: done}:
	case <-h.stop:
		return
	}
	select {
	case <-done:
	case <-h.stop:
	}
}

// EnqueueEvent schedules each handler for invocation with sender and args,
// isolating a panicking or erroring handler so it logs and does not block
// sibling handlers (spec.md §4.9, §7 transient-error handling).
func EnqueueEvent[A any](h *Host, handlers []func(sender any, args A), sender any, args A) {
	for _, handler := range handlers {
		handler := handler
		h.Schedule(func() {
			invokeSafely(func() { handler(sender, args) })
		})
	}
}

// EnqueueMethod schedules fn for invocation, isolating panics the same way
// as EnqueueEvent.
func (h *Host) EnqueueMethod(fn func()) {
	h.Schedule(func() {
		invokeSafely(fn)
	})
}

func invokeSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get().Error("dispatch: handler panicked", "panic", r)
		}
	}()
	fn()
}

func (h *Host) run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case j := <-h.jobs:
			invokeSafely(j.fn)
			if j.done != nil {
				close(j.done)
			}
		case <-ticker.C:
			h.checkAll()
		case <-h.stop:
			h.drain()
			return
		}
	}
}

func (h *Host) drain() {
	for {
		select {
		case j := <-h.jobs:
			invokeSafely(j.fn)
			if j.done != nil {
				close(j.done)
			}
		default:
			return
		}
	}
}

func (h *Host) checkAll() {
	<-h.mu
	var dead []*registration
	for r := range h.items {
		c, ok := r.get()
		if !ok {
			dead = append(dead, r)
			continue
		}
		if !c.CheckPeriodically(context.Background()) {
			dead = append(dead, r)
		}
	}
	for _, r := range dead {
		delete(h.items, r)
	}
	h.mu <- struct{}{}
}

// Shutdown stops the worker, draining queued callbacks. It waits up to
// opts.ShutdownTimeout for a graceful drain; past that it logs and returns
// once the worker eventually exits, joining unbounded (spec.md §4.9).
func (h *Host) Shutdown(ctx context.Context) error {
	close(h.stop)

	deadline, cancel := context.WithTimeout(ctx, h.opts.ShutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(deadline)
	g.Go(func() error {
		select {
		case <-h.stopped:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		logging.Get().Warn("dispatch: shutdown exceeded timeout, joining unbounded", "err", err)
		<-h.stopped
		return nil
	}
	return nil
}
