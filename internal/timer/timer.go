// Package timer emits a monotonically increasing sequence of snapshot-tick
// events aligned to global wall-clock boundaries (every cycle seconds,
// default 10s), regardless of when the timer itself was started.
package timer

import (
	"sync"
	"time"
)

// Tick is a single "next snapshot boundary" event. Unix is always
// divisible by the timer's configured cycle.
type Tick struct {
	Unix int64
}

// Timer holds a synchronized list of sinks and drives at most one
// background goroutine, started lazily on the first AddSink call and
// exited on its own next wakeup once the last sink is removed. There is
// no pre-emptive stop operation: dropping the last sink is cancellation.
type Timer struct {
	cycle time.Duration

	mu      sync.Mutex
	sinks   map[int]chan<- Tick
	nextID  int
	running bool
}

// New returns a Timer that ticks every cycle, aligned to the UTC epoch.
// cycle must be positive; callers typically pass 10 * time.Second.
func New(cycle time.Duration) *Timer {
	return &Timer{cycle: cycle, sinks: make(map[int]chan<- Tick)}
}

// AddSink registers ch to receive every tick while registered. It starts
// the background loop if this is the first sink. The returned id is used
// with RemoveSink.
func (t *Timer) AddSink(ch chan<- Tick) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.sinks[id] = ch

	if !t.running {
		t.running = true
		go t.loop()
	}
	return id
}

// RemoveSink unregisters the sink with the given id. If it was the last
// registered sink, the background loop exits on its next wakeup; missed
// ticks between removal and that wakeup are not retried or buffered.
func (t *Timer) RemoveSink(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sinks, id)
}

func (t *Timer) sinkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

func (t *Timer) broadcast(tick Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.sinks {
		select {
		case ch <- tick:
		default:
			// A sink that isn't ready to receive misses this tick; the
			// contract does not retry.
		}
	}
}

// loop runs the platform wait primitive in a cycle: align to the next
// epoch boundary, wait, broadcast, repeat. It exits once no sinks remain.
func (t *Timer) loop() {
	next := nextBoundary(time.Now(), t.cycle)
	for {
		waitUntil(next)

		if t.sinkCount() == 0 {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return
		}

		t.broadcast(Tick{Unix: next.Unix()})

		// Advance to the boundary after this one. Using addition (not
		// re-deriving from time.Now()) keeps the sequence exactly
		// cycle-spaced even if broadcast or scheduling briefly overran;
		// waitUntil still re-syncs to the wall clock on every iteration.
		next = next.Add(t.cycle)
	}
}

// nextBoundary returns the smallest multiple of cycle (in unix seconds)
// that is >= from.
func nextBoundary(from time.Time, cycle time.Duration) time.Time {
	sec := int64(cycle / time.Second)
	if sec <= 0 {
		sec = 1
	}
	u := from.Unix()
	rem := u % sec
	if rem == 0 && from.Nanosecond() == 0 {
		return time.Unix(u, 0).UTC()
	}
	return time.Unix(u-rem+sec, 0).UTC()
}

// nextStrictBoundary returns prev advanced by one cycle: the next
// boundary after prev when prev itself lies on a boundary.
func nextStrictBoundary(prev time.Time, cycle time.Duration) time.Time {
	return prev.Add(cycle)
}
