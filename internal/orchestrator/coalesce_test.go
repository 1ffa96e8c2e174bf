package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photobooth/internal/rendernet"
)

type flushRecorder struct {
	mu        sync.Mutex
	events    []rendernet.Event
	scheduled int
}

func (f *flushRecorder) flush(ev rendernet.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *flushRecorder) onSchedule() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
}

func (f *flushRecorder) flushed() []rendernet.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rendernet.Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *flushRecorder) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled
}

func TestCoalescerLatestUpdateSurvives(t *testing.T) {
	rec := &flushRecorder{}
	c := newCoalescer(30*time.Millisecond, 5*time.Millisecond, nil, rec.onSchedule, rec.flush)
	defer c.stop()

	for _, p := range []float64{0.1, 0.2, 0.3} {
		c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: p})
	}

	require.Eventually(t, func() bool { return len(rec.flushed()) == 1 }, time.Second, time.Millisecond,
		"burst should collapse into one flush")
	assert.InDelta(t, 0.3, rec.flushed()[0].Progress, 1e-9)
	assert.Equal(t, 3, rec.scheduledCount(), "every offer counts as activity")
}

func TestCoalescerFlushNowBypassesWindow(t *testing.T) {
	rec := &flushRecorder{}
	c := newCoalescer(time.Hour, time.Hour,
		func(ev rendernet.Event) bool { return ev.Progress >= 1 },
		nil, rec.flush)
	defer c.stop()

	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 0.5})
	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 1.0})

	// The terminal update is delivered synchronously; the pending partial
	// update for the same key is superseded and dropped.
	flushed := rec.flushed()
	require.Len(t, flushed, 1)
	assert.InDelta(t, 1.0, flushed[0].Progress, 1e-9)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.flushed(), 1)
}

func TestCoalescerSeparatesCategories(t *testing.T) {
	rec := &flushRecorder{}
	c := newCoalescer(time.Hour, 5*time.Millisecond, nil, nil, rec.flush)
	defer c.stop()

	// A saturated progress window must not starve lifecycle transitions.
	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 0.4})
	c.offer(rendernet.Event{Kind: rendernet.EventJobStarted, JobID: "ja"})

	require.Eventually(t, func() bool { return len(rec.flushed()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, rendernet.EventJobStarted, rec.flushed()[0].Kind)
}

func TestCoalescerPerJobKeys(t *testing.T) {
	rec := &flushRecorder{}
	c := newCoalescer(10*time.Millisecond, 5*time.Millisecond, nil, nil, rec.flush)
	defer c.stop()

	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 0.2})
	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "jb", Progress: 0.6})

	require.Eventually(t, func() bool { return len(rec.flushed()) == 2 }, time.Second, time.Millisecond,
		"different jobs coalesce independently")
}

func TestCoalescerStopDropsPending(t *testing.T) {
	rec := &flushRecorder{}
	c := newCoalescer(10*time.Millisecond, 5*time.Millisecond, nil, nil, rec.flush)

	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 0.2})
	c.stop()
	c.offer(rendernet.Event{Kind: rendernet.EventJobProgress, JobID: "ja", Progress: 0.9})

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.flushed(), "stopped coalescers deliver nothing")
}
