// Package buffer implements the count-weighted stack trace histogram that
// sits between a sampling backend and a snapshot.
package buffer

import (
	"sync"

	"github.com/wingprofile/agent/internal/stacktrace"
)

// Entry pairs a Trace with its accumulated count. Traces are not
// comparable (Frames and Metadata both hold slices), so maps keyed by
// stacktrace.Trace.Key() carry the full Trace alongside its count rather
// than using Trace itself as the key.
type Entry struct {
	Trace stacktrace.Trace
	Count uint64
}

// Report pairs a set of (trace, count) entries with the single Metadata
// fingerprint they all share.
type Report struct {
	Metadata stacktrace.Metadata
	Counts   map[string]Entry
}

// Buffer is a histogram of Trace -> count. Exactly one goroutine (the
// backend's sampler) performs many small increments; exactly one goroutine
// (the orchestrator, at snapshot time) drains it. The whole buffer sits
// behind a single exclusive lock since contention between a single writer
// and a once-per-cycle reader is expected to be negligible.
type Buffer struct {
	mu     sync.Mutex
	counts map[string]Entry
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{counts: make(map[string]Entry)}
}

// Record increments trace's count by 1.
func (b *Buffer) Record(trace stacktrace.Trace) {
	b.RecordWithCount(trace, 1)
}

// RecordWithCount increments trace's count by n.
func (b *Buffer) RecordWithCount(trace stacktrace.Trace, n uint64) {
	b.mu.Lock()
	add(b.counts, trace, n)
	b.mu.Unlock()
}

// TryRecord attempts to increment trace's count without blocking. It
// reports false if the buffer is currently locked by a concurrent drain,
// in which case the sample is dropped. This is the only entry point safe
// to call from within a profiling signal handler: try-lock semantics mean
// a missed sample under contention rather than a handler that blocks.
func (b *Buffer) TryRecord(trace stacktrace.Trace) bool {
	if !b.mu.TryLock() {
		return false
	}
	add(b.counts, trace, 1)
	b.mu.Unlock()
	return true
}

func add(counts map[string]Entry, trace stacktrace.Trace, n uint64) {
	key := trace.Key()
	e := counts[key]
	e.Trace = trace
	e.Count += n
	counts[key] = e
}

// Drain empties the buffer and partitions its contents into one Report per
// distinct Metadata fingerprint. Empty reports are never produced. Merge
// order (trace iteration) does not affect the result.
func (b *Buffer) Drain() []Report {
	b.mu.Lock()
	counts := b.counts
	b.counts = make(map[string]Entry)
	b.mu.Unlock()

	byFingerprint := make(map[uint64]*Report)
	var order []uint64
	for _, e := range counts {
		fp := e.Trace.Metadata.Fingerprint()
		r, ok := byFingerprint[fp]
		if !ok {
			r = &Report{Metadata: e.Trace.Metadata, Counts: make(map[string]Entry)}
			byFingerprint[fp] = r
			order = append(order, fp)
		}
		add(r.Counts, e.Trace, e.Count)
	}

	out := make([]Report, 0, len(order))
	for _, fp := range order {
		out = append(out, *byFingerprint[fp])
	}
	return out
}

// Len reports the number of distinct traces currently buffered. Intended
// for tests and diagnostics only.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.counts)
}
