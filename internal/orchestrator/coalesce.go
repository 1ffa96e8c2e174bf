package orchestrator

import (
	"sync"
	"time"

	"photobooth/internal/rendernet"
)

// coalescer bounds how often high-frequency events reach the reconciler.
// Updates for the same job and category collapse into the most recent one
// pending during the delay window; lifecycle transitions use their own,
// shorter window so a saturated progress channel cannot starve them.
// Events matching flushNow bypass the window entirely, so a terminal
// 100% update is never delayed or dropped.
type coalescer struct {
	mu              sync.Mutex
	progressWindow  time.Duration
	lifecycleWindow time.Duration
	flushNow        func(rendernet.Event) bool
	// onSchedule runs when a flush is scheduled, not when it executes, so a
	// throttled burst still counts as project activity for the watchdog.
	onSchedule func()
	flush      func(rendernet.Event)

	pending map[string]*pendingFlush
	stopped bool
}

type pendingFlush struct {
	timer *time.Timer
	ev    rendernet.Event
}

func newCoalescer(progressWindow, lifecycleWindow time.Duration, flushNow func(rendernet.Event) bool, onSchedule func(), flush func(rendernet.Event)) *coalescer {
	return &coalescer{
		progressWindow:  progressWindow,
		lifecycleWindow: lifecycleWindow,
		flushNow:        flushNow,
		onSchedule:      onSchedule,
		flush:           flush,
		pending:         make(map[string]*pendingFlush),
	}
}

// offer enqueues an event for coalesced delivery.
func (c *coalescer) offer(ev rendernet.Event) {
	if c.onSchedule != nil {
		c.onSchedule()
	}

	key := ev.JobID + "|progress"
	window := c.progressWindow
	if ev.Kind.Lifecycle() {
		key = ev.JobID + "|lifecycle"
		window = c.lifecycleWindow
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if c.flushNow != nil && c.flushNow(ev) {
		if p, ok := c.pending[key]; ok {
			p.timer.Stop()
			delete(c.pending, key)
		}
		c.mu.Unlock()
		c.flush(ev)
		return
	}

	if p, ok := c.pending[key]; ok {
		// Only the most recent update survives the window.
		p.ev = ev
		c.mu.Unlock()
		return
	}

	p := &pendingFlush{ev: ev}
	p.timer = time.AfterFunc(window, func() { c.fire(key) })
	c.pending[key] = p
	c.mu.Unlock()
}

func (c *coalescer) fire(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	ev := p.ev
	c.mu.Unlock()
	c.flush(ev)
}

// stop cancels all pending flushes. Offered events are dropped afterwards.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
}
