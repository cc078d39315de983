package pyspy

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wingprofile/agent/internal/backend"
	"github.com/wingprofile/agent/internal/probe"
)

// buildSyntheticFrameChain lays out two pseudo frame objects in a single
// anonymous page using the {FrameBack: 0, CodeName: 8} offset convention,
// to exercise walk() over real memory via the probe without depending on
// an actual CPython process being mapped into the test binary.
//
//	frameA (current, offset 0):  FrameBack -> frameB, CodeName -> "inner"
//	frameB (caller,  offset 64): FrameBack -> 0,       CodeName -> "outer"
func buildSyntheticFrameChain(t *testing.T) (page []byte, frameA uintptr) {
	t.Helper()
	pageSize := unix.Getpagesize()
	page, err := unix.Mmap(-1, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	t.Cleanup(func() { unix.Munmap(page) })

	base := uintptr(unsafe.Pointer(&page[0]))
	const frameBOffset = 64
	const innerNameOffset = 256
	const outerNameOffset = 300

	copy(page[innerNameOffset:], "inner\x00")
	copy(page[outerNameOffset:], "outer\x00")

	binary.LittleEndian.PutUint64(page[0:8], uint64(base+frameBOffset)) // frameA.FrameBack -> frameB
	binary.LittleEndian.PutUint64(page[8:16], uint64(base+innerNameOffset))

	binary.LittleEndian.PutUint64(page[frameBOffset:frameBOffset+8], 0) // frameB.FrameBack -> nil
	binary.LittleEndian.PutUint64(page[frameBOffset+8:frameBOffset+16], uint64(base+outerNameOffset))

	return page, base
}

func newReadyPySpy(t *testing.T) *PySpy {
	t.Helper()
	if err := probe.Init(); err != nil {
		t.Fatalf("probe.Init: %v", err)
	}
	t.Cleanup(func() { probe.Destroy() })

	p := New(Config{MaxDepth: 10})
	p.state = backend.StateReady
	p.offsets = OffsetTable{FrameBack: 0, CodeName: 8}
	return p
}

func TestWalkFollowsFrameChain(t *testing.T) {
	_, frameA := buildSyntheticFrameChain(t)
	p := newReadyPySpy(t)
	p.RegisterThread(7, frameA)

	trace, ok := p.walk(7)
	if !ok {
		t.Fatal("walk() returned ok=false")
	}
	if len(trace.Frames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(trace.Frames), trace.Frames)
	}
	if trace.Frames[0].Name != "outer" || trace.Frames[1].Name != "inner" {
		t.Errorf("frames = [%q, %q], want [outer, inner]", trace.Frames[0].Name, trace.Frames[1].Name)
	}
	if !trace.HasThread || trace.ThreadID != 7 {
		t.Errorf("trace thread id = %d (has=%v), want 7", trace.ThreadID, trace.HasThread)
	}
}

func TestWalkUnregisteredThreadReturnsFalse(t *testing.T) {
	p := newReadyPySpy(t)
	if _, ok := p.walk(99); ok {
		t.Error("expected ok=false for an unregistered thread")
	}
}

func TestSampleAllRecordsIntoBuffer(t *testing.T) {
	_, frameA := buildSyntheticFrameChain(t)
	p := newReadyPySpy(t)
	p.RegisterThread(7, frameA)

	p.sampleAll()

	reports, err := p.Report()
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	total := uint64(0)
	for _, e := range reports[0].Counts {
		total += e.Count
	}
	if total != 1 {
		t.Errorf("total sample count = %d, want 1", total)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	p := newReadyPySpy(t)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != backend.StateRunning {
		t.Errorf("state = %s, want running", p.State())
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.State() != backend.StateReady {
		t.Errorf("state = %s, want ready", p.State())
	}
}

func TestReportBeforeInitializeFails(t *testing.T) {
	p := New(Config{})
	if _, err := p.Report(); err == nil {
		t.Error("expected error calling Report before Initialize")
	}
}
