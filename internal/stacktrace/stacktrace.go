// Package stacktrace defines the immutable value types shared by every
// sampling backend: frames, traces, and the label overlay attached to them.
package stacktrace

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Frame is a single entry in a call stack. All fields are optional except
// that a frame should carry at least a function name to be meaningful.
// Two frames are equal iff every field matches.
type Frame struct {
	Module       string
	Name         string
	FileName     string
	RelativePath string
	AbsolutePath string
	Line         int // 1-based; 0 means unknown
}

// String renders a frame as "{filename}:{line} - {name}". An empty
// filename or an unknown (0) line is left out, and when both are absent
// the result is just the name.
func (f Frame) String() string {
	var b strings.Builder
	if f.FileName != "" {
		b.WriteString(f.FileName)
	}
	if f.Line > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Line))
	}
	if b.Len() > 0 {
		b.WriteString(" - ")
	}
	b.WriteString(f.Name)
	return b.String()
}

// Tag is an ordered (key, value) pair. It is comparable so it can be used
// directly as a map key.
type Tag struct {
	Key   string
	Value string
}

// Metadata is the set of label pairs, one value per key and sorted by key,
// that a ruleset overlays on a Trace. It does not include the trace's
// intrinsic attributes (pid, thread id, thread name) unless a rule adds
// them as tags. Its Fingerprint identifies a distinct report split at the
// ingestion endpoint.
type Metadata struct {
	tags []Tag
}

// NewMetadata builds a Metadata from a set of tags, deduplicating by key
// (last write wins) and sorting for deterministic fingerprinting.
func NewMetadata(tags ...Tag) Metadata {
	byKey := make(map[string]string, len(tags))
	for _, t := range tags {
		byKey[t.Key] = t.Value
	}
	out := make([]Tag, 0, len(byKey))
	for k, v := range byKey {
		out = append(out, Tag{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return Metadata{tags: out}
}

// Tags returns the metadata's tags in sorted-by-key order. The returned
// slice must not be mutated by the caller.
func (m Metadata) Tags() []Tag { return m.tags }

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, t := range m.tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Fingerprint is a deterministic integer derived from the sorted tag set,
// used as a report split key. It is an FNV-1a hash over "key=value\x00"
// segments in sorted order so that metadata with the same tag set always
// produces the same fingerprint regardless of insertion order.
func (m Metadata) Fingerprint() uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, t := range m.tags {
		s := t.Key + "=" + t.Value + "\x00"
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime64
		}
	}
	return h
}

// Equal reports whether two Metadata values carry the same tag set.
func (m Metadata) Equal(other Metadata) bool {
	return m.Fingerprint() == other.Fingerprint() && len(m.tags) == len(other.tags)
}

// Trace is an ordered sequence of frames (innermost last) plus the process
// and thread identity it was captured from and any overlay metadata.
type Trace struct {
	Frames     []Frame
	PID        int // 0 means unset
	ThreadID   int64
	ThreadName string
	HasPID     bool
	HasThread  bool
	Metadata   Metadata
}

// WithMetadata returns a copy of the trace with its metadata replaced.
// The original trace is left untouched, matching the value semantics a
// ruleset overlay needs: each rule application produces a new trace.
func (t Trace) WithMetadata(m Metadata) Trace {
	t.Metadata = m
	return t
}

// String renders frames outermost-first, joined by ";", matching the
// folded-format convention.
func (t Trace) String() string {
	parts := make([]string, len(t.Frames))
	for i, f := range t.Frames {
		// Frames are stored innermost-last; reverse on render.
		parts[len(t.Frames)-1-i] = f.String()
	}
	return strings.Join(parts, ";")
}

// Key returns a value usable as a comparable map key, since Trace itself
// is not comparable (Frames and Metadata both hold slices). It captures
// frame identity, the owning thread, and the Metadata fingerprint: two
// traces with identical frames but a different tag overlay (e.g. one
// sampled before and one after a tag mutation) must key separately so
// they land in distinct Reports at drain time (see internal/buffer).
func (t Trace) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%d|", t.PID, t.ThreadID, t.Metadata.Fingerprint())
	for _, f := range t.Frames {
		b.WriteString(f.FileName)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Line))
		b.WriteString(" - ")
		b.WriteString(f.Name)
		b.WriteByte(';')
	}
	return b.String()
}
