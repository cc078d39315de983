package encode

import (
	"sort"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/stacktrace"
	"google.golang.org/protobuf/encoding/protowire"
)

// encodePprof serializes report as a minimal pprof-compatible protocol
// buffer by hand, using protowire directly rather than a generated
// pprof.pb.go: the agent only ever emits a handful of the message's
// fields (one sample_type, locations with a single synthetic line each,
// no mappings), so a generated client is more machinery than the encoder
// needs. Field numbers below follow the public perftools/pprof profile.proto.
func encodePprof(report buffer.Report) ([]byte, error) {
	b := newProfileBuilder()
	sampleTypeIdx := b.valueType("samples", "count")

	type sampleEntry struct {
		locIDs []uint64
		count  uint64
	}
	traces := make([]stacktrace.Trace, 0, len(report.Counts))
	for _, e := range report.Counts {
		traces = append(traces, e.Trace)
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].String() < traces[j].String() })

	entries := make([]sampleEntry, 0, len(traces))
	for _, trace := range traces {
		locIDs := make([]uint64, 0, len(trace.Frames))
		// location_id is conventionally leaf-first; Frames is stored
		// innermost (leaf) last, so walk it in reverse.
		for i := len(trace.Frames) - 1; i >= 0; i-- {
			locIDs = append(locIDs, b.location(trace.Frames[i].String()))
		}
		entries = append(entries, sampleEntry{locIDs: locIDs, count: report.Counts[trace.Key()].Count})
	}

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType) // sample_type
	body = protowire.AppendBytes(body, sampleTypeIdx)

	for _, e := range entries {
		sample := encodeSample(e.locIDs, e.count)
		body = protowire.AppendTag(body, 2, protowire.BytesType) // sample
		body = protowire.AppendBytes(body, sample)
	}

	for _, loc := range b.locationsInOrder() {
		body = protowire.AppendTag(body, 4, protowire.BytesType) // location
		body = protowire.AppendBytes(body, loc)
	}
	for _, fn := range b.functionsInOrder() {
		body = protowire.AppendTag(body, 5, protowire.BytesType) // function
		body = protowire.AppendBytes(body, fn)
	}
	for _, s := range b.strings {
		body = protowire.AppendTag(body, 6, protowire.BytesType) // string_table
		body = protowire.AppendString(body, s)
	}

	return body, nil
}

func encodeSample(locIDs []uint64, count uint64) []byte {
	var b []byte
	for _, id := range locIDs {
		b = protowire.AppendTag(b, 1, protowire.VarintType) // location_id
		b = protowire.AppendVarint(b, id)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType) // value
	b = protowire.AppendVarint(b, count)
	return b
}

// profileBuilder accumulates the interned string table plus the
// Function/Location messages referenced by samples, assigning ids in
// first-seen order starting at 1 (0 is reserved in the pprof format).
type profileBuilder struct {
	strings    []string
	stringIdx  map[string]int64
	functionID map[string]uint64 // frame string -> function id
	locationID map[string]uint64 // frame string -> location id
	nextFnID   uint64
	nextLocID  uint64
	fnOrder    []string
	locOrder   []string
}

func newProfileBuilder() *profileBuilder {
	b := &profileBuilder{
		stringIdx:  make(map[string]int64),
		functionID: make(map[string]uint64),
		locationID: make(map[string]uint64),
		nextFnID:   1,
		nextLocID:  1,
	}
	b.intern("") // entry 0 is always the empty string
	return b
}

func (b *profileBuilder) intern(s string) int64 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := int64(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = idx
	return idx
}

// valueType returns an encoded ValueType{type, unit} submessage.
func (b *profileBuilder) valueType(typ, unit string) []byte {
	typeIdx := b.intern(typ)
	unitIdx := b.intern(unit)
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(typeIdx))
	m = protowire.AppendTag(m, 2, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(unitIdx))
	return m
}

// location returns the Location id for the given formatted frame string,
// interning a matching Function and Location the first time it is seen.
func (b *profileBuilder) location(frame string) uint64 {
	if id, ok := b.locationID[frame]; ok {
		return id
	}

	fnID, ok := b.functionID[frame]
	if !ok {
		fnID = b.nextFnID
		b.nextFnID++
		b.functionID[frame] = fnID
		b.fnOrder = append(b.fnOrder, frame)
	}

	locID := b.nextLocID
	b.nextLocID++
	b.locationID[frame] = locID
	b.locOrder = append(b.locOrder, frame)
	return locID
}

func (b *profileBuilder) locationsInOrder() [][]byte {
	out := make([][]byte, 0, len(b.locOrder))
	for _, frame := range b.locOrder {
		locID := b.locationID[frame]
		fnID := b.functionID[frame]

		var line []byte
		line = protowire.AppendTag(line, 1, protowire.VarintType) // function_id
		line = protowire.AppendVarint(line, fnID)
		line = protowire.AppendTag(line, 2, protowire.VarintType) // line
		line = protowire.AppendVarint(line, 0)

		var loc []byte
		loc = protowire.AppendTag(loc, 1, protowire.VarintType) // id
		loc = protowire.AppendVarint(loc, locID)
		// mapping_id (2) and address (3) are omitted: both default to 0.
		loc = protowire.AppendTag(loc, 4, protowire.BytesType) // line
		loc = protowire.AppendBytes(loc, line)

		out = append(out, loc)
	}
	return out
}

func (b *profileBuilder) functionsInOrder() [][]byte {
	out := make([][]byte, 0, len(b.fnOrder))
	for _, frame := range b.fnOrder {
		fnID := b.functionID[frame]
		nameIdx := b.intern(frame)

		var fn []byte
		fn = protowire.AppendTag(fn, 1, protowire.VarintType) // id
		fn = protowire.AppendVarint(fn, fnID)
		fn = protowire.AppendTag(fn, 2, protowire.VarintType) // name
		fn = protowire.AppendVarint(fn, uint64(nameIdx))

		out = append(out, fn)
	}
	return out
}
