// Package pyspy is the illustrative Python-style sampling backend from
// the design's §4.I: it discovers a Python interpreter mapped into the
// current process via internal/procmaps, resolves a per-version offset
// table, and walks a registered thread's interpreter frame chain
// through internal/probe on a periodic sampling tick.
//
// Real CPython frame-object layouts are build- and version-specific and
// ordinarily discovered via a TSS key read out of the interpreter's
// runtime-state struct (§4.I step 3). That lookup depends on interpreter
// internals no safe Go code can introspect without cgo, so this package
// takes the frame pointer as given via RegisterThread — a production
// integration would supply it from the real TSS lookup; this one is
// honest about not performing it itself.
package pyspy

import (
	"bytes"
	"sync"
	"time"

	"github.com/wingprofile/agent/internal/backend"
	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/logger"
	"github.com/wingprofile/agent/internal/probe"
	"github.com/wingprofile/agent/internal/procmaps"
	"github.com/wingprofile/agent/internal/stacktrace"
	"github.com/wingprofile/agent/internal/tags"
)

const (
	defaultMaxDepth = 128
	maxNameLen      = 256
)

// Config configures a PySpy backend.
type Config struct {
	SampleRateHz int
	MaxDepth     int
	// Needle is the substring searched for among the process's
	// executable mappings when locating the interpreter. Defaults to
	// "python3".
	Needle string
}

// PySpy is the illustrative Python-style sampling Backend.
type PySpy struct {
	cfg Config

	mu         sync.Mutex
	state      backend.State
	version    string
	offsets    OffsetTable
	threadBase map[int64]uintptr

	ruleset *tags.Ruleset
	buf     *buffer.Buffer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a PySpy backend in the uninitialized state.
func New(cfg Config) *PySpy {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Needle == "" {
		cfg.Needle = "python3"
	}
	return &PySpy{
		cfg:        cfg,
		state:      backend.StateUninitialized,
		threadBase: make(map[int64]uintptr),
		ruleset:    tags.New(),
		buf:        buffer.New(),
	}
}

func (p *PySpy) SpyName() string        { return "pyspy" }
func (p *PySpy) SpyExtension() string   { return "cpu" }
func (p *PySpy) SampleRate() int        { return p.cfg.SampleRateHz }
func (p *PySpy) Ruleset() *tags.Ruleset { return p.ruleset }

func (p *PySpy) State() backend.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Initialize enumerates the process's executable mappings, locates the
// interpreter, detects its version, validates the offset table for that
// version, and ensures the memory probe is installed.
func (p *PySpy) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == backend.StateReady || p.state == backend.StateRunning {
		return nil
	}
	if p.state != backend.StateUninitialized {
		return &backend.StateError{Op: "initialize", State: p.state}
	}

	maps, err := procmaps.Self()
	if err != nil {
		return err
	}
	mapping, ok := procmaps.FindExecutable(maps, p.cfg.Needle)
	if !ok {
		return &backend.StateError{Op: "initialize (no interpreter mapping found)", State: p.state}
	}

	version, err := detectVersion(mapping.Path)
	if err != nil {
		return err
	}
	offsets, err := lookupOffsets(version)
	if err != nil {
		return err
	}

	if !probe.Initialized() {
		if err := probe.Init(); err != nil {
			return err
		}
	}

	p.version = version
	p.offsets = offsets
	p.state = backend.StateReady
	return nil
}

// RegisterThread records the interpreter frame-object address currently
// active on threadID, standing in for the TSS lookup a production build
// would perform inside the profiling signal handler itself.
func (p *PySpy) RegisterThread(threadID int64, framePtr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threadBase[threadID] = framePtr
}

// UnregisterThread drops a previously registered thread; its next
// sampling tick skips it.
func (p *PySpy) UnregisterThread(threadID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threadBase, threadID)
}

// Start spawns the periodic sampling goroutine, the Go-idiomatic stand-in
// for arming a kernel interval timer and installing a profiling signal
// handler (neither of which safe Go code does for its own process).
func (p *PySpy) Start() error {
	p.mu.Lock()
	if p.state == backend.StateRunning {
		p.mu.Unlock()
		return nil
	}
	if p.state != backend.StateReady {
		state := p.state
		p.mu.Unlock()
		return &backend.StateError{Op: "start", State: state}
	}
	p.stopCh = make(chan struct{})
	p.state = backend.StateRunning
	p.mu.Unlock()

	p.wg.Add(1)
	go p.sampleLoop()
	return nil
}

func (p *PySpy) sampleLoop() {
	defer p.wg.Done()
	interval := time.Second / time.Duration(p.cfg.SampleRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sampleAll()
		}
	}
}

func (p *PySpy) sampleAll() {
	p.mu.Lock()
	threadIDs := make([]int64, 0, len(p.threadBase))
	for id := range p.threadBase {
		threadIDs = append(threadIDs, id)
	}
	p.mu.Unlock()

	for _, id := range threadIDs {
		trace, ok := p.walk(id)
		if !ok {
			continue
		}
		applied := p.ruleset.Apply(trace)
		if !p.buf.TryRecord(applied) {
			logger.Log.Warn("pyspy: sample dropped, buffer busy")
		}
	}
}

// walk follows the frame chain registered for threadID up to MaxDepth
// frames, reading every pointer through the signal-safe probe. A fault
// at any step aborts the walk and keeps whatever frames were already
// collected, per §4.I.4.c.
func (p *PySpy) walk(threadID int64) (stacktrace.Trace, bool) {
	p.mu.Lock()
	addr, ok := p.threadBase[threadID]
	offsets := p.offsets
	maxDepth := p.cfg.MaxDepth
	p.mu.Unlock()
	if !ok || addr == 0 {
		return stacktrace.Trace{}, false
	}

	frames := make([]stacktrace.Frame, 0, maxDepth)
	for depth := 0; depth < maxDepth && addr != 0; depth++ {
		nameAddr, err := probe.ReadWord(addr + offsets.CodeName)
		if err != nil {
			break
		}
		frames = append(frames, stacktrace.Frame{Name: readCString(uintptr(nameAddr))})

		next, err := probe.ReadWord(addr + offsets.FrameBack)
		if err != nil {
			break
		}
		addr = uintptr(next)
	}
	if len(frames) == 0 {
		return stacktrace.Trace{}, false
	}

	// Walked innermost-first (current frame outward); StackTrace wants
	// innermost last.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return stacktrace.Trace{Frames: frames, ThreadID: threadID, HasThread: true}, true
}

// readCString reads up to maxNameLen bytes starting at addr and returns
// the portion before the first NUL byte (or fault boundary, which the
// probe zero-pads).
func readCString(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	buf := make([]byte, maxNameLen)
	_ = probe.ReadBytes(addr, buf) // on fault, buf is zero-padded from the fault point
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

func (p *PySpy) Stop() error {
	p.mu.Lock()
	if p.state == backend.StateReady {
		p.mu.Unlock()
		return nil
	}
	if p.state != backend.StateRunning {
		state := p.state
		p.mu.Unlock()
		return &backend.StateError{Op: "stop", State: state}
	}
	close(p.stopCh)
	p.state = backend.StateReady
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Report drains the aggregation buffer. Allowed in ready or running.
func (p *PySpy) Report() ([]buffer.Report, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != backend.StateReady && state != backend.StateRunning {
		return nil, &backend.StateError{Op: "report", State: state}
	}
	return p.buf.Drain(), nil
}

// Shutdown disarms sampling (if still running, implicitly) and marks the
// backend terminal. It does not restore the probe's prior signal
// disposition process-wide, since other backends in the same process may
// still depend on it.
func (p *PySpy) Shutdown() error {
	p.mu.Lock()
	if p.state == backend.StateShutdown {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.state == backend.StateRunning
	if wasRunning {
		close(p.stopCh)
	}
	p.state = backend.StateShutdown
	p.mu.Unlock()

	if wasRunning {
		p.wg.Wait()
	}
	return nil
}
