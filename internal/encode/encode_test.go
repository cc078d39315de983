package encode

import (
	"strings"
	"testing"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/stacktrace"
)

func frame(name string) stacktrace.Frame { return stacktrace.Frame{Name: name} }

// sample is a (trace, count) pair fed to reportOf. Trace itself is not
// comparable (Frames and Metadata both hold slices), so samples are
// passed as a slice rather than a map keyed by Trace.
type sample struct {
	trace stacktrace.Trace
	count uint64
}

// reportOf builds a buffer.Report by pushing samples through
// RecordWithCount, the same path a backend uses, so tests exercise the
// real keying logic instead of poking Report.Counts directly.
func reportOf(samples ...sample) buffer.Report {
	buf := buffer.New()
	for _, s := range samples {
		buf.RecordWithCount(s.trace, s.count)
	}
	reports := buf.Drain()
	if len(reports) == 0 {
		return buffer.Report{Counts: map[string]buffer.Entry{}}
	}
	return reports[0]
}

// TestFoldedRoundtrip exercises S1: two traces A;B;C and A;B;D, each
// recorded twice, encode to exactly two folded lines totalling 16 bytes
// including newlines ("A;B;C 2\n" + "A;B;D 2\n").
func TestFoldedRoundtrip(t *testing.T) {
	abc := stacktrace.Trace{Frames: []stacktrace.Frame{frame("A"), frame("B"), frame("C")}}
	abd := stacktrace.Trace{Frames: []stacktrace.Frame{frame("A"), frame("B"), frame("D")}}

	report := reportOf(sample{abc, 2}, sample{abd, 2})

	enc, err := Encode(report, Folded, None)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Body) != 16 {
		t.Fatalf("body length = %d, want 16: %q", len(enc.Body), enc.Body)
	}
	lines := strings.Split(strings.TrimRight(string(enc.Body), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), enc.Body)
	}
	want := map[string]bool{"A;B;C 2": true, "A;B;D 2": true}
	for _, l := range lines {
		if !want[l] {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestFoldedEmptyReportProducesNoLines(t *testing.T) {
	enc, err := Encode(buffer.Report{Counts: map[string]buffer.Entry{}}, Folded, None)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Body) != 0 {
		t.Errorf("expected empty body, got %q", enc.Body)
	}
}

func TestPprofEncodesWithoutError(t *testing.T) {
	trace := stacktrace.Trace{Frames: []stacktrace.Frame{frame("main"), frame("work")}}
	report := reportOf(sample{trace, 3})

	enc, err := Encode(report, Pprof, None)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Body) == 0 {
		t.Fatal("expected non-empty pprof body")
	}
	if enc.ContentType != "binary/octet-stream" {
		t.Errorf("ContentType = %q", enc.ContentType)
	}
}

func TestGzipCompressionSetsContentEncoding(t *testing.T) {
	trace := stacktrace.Trace{Frames: []stacktrace.Frame{frame("main")}}
	report := reportOf(sample{trace, 1})

	enc, err := Encode(report, Folded, Gzip)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc.ContentEncoding != Gzip {
		t.Errorf("ContentEncoding = %q, want gzip", enc.ContentEncoding)
	}
	// gzip magic bytes
	if len(enc.Body) < 2 || enc.Body[0] != 0x1f || enc.Body[1] != 0x8b {
		t.Errorf("body does not look gzipped: %x", enc.Body[:minInt(2, len(enc.Body))])
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
