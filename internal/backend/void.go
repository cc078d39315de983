package backend

import (
	"sync"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/stacktrace"
	"github.com/wingprofile/agent/internal/tags"
)

// Void is a no-op backend used for wiring and lifecycle tests: it accepts
// samples pushed via Push but never produces any on its own, and its
// Report simply drains whatever was pushed. Grounded on the reference
// implementation's backend-void, the minimal concrete Backend used to
// exercise the Agent's plumbing without a real sampler attached.
type Void struct {
	mu         sync.Mutex
	state      State
	sampleRate int
	ruleset    *tags.Ruleset
	buf        *buffer.Buffer
}

// NewVoid returns a Void backend in the bare-then-uninitialized state.
func NewVoid(sampleRate int) *Void {
	if sampleRate <= 0 {
		sampleRate = 100
	}
	return &Void{
		state:      StateUninitialized,
		sampleRate: sampleRate,
		ruleset:    tags.New(),
		buf:        buffer.New(),
	}
}

func (v *Void) SpyName() string      { return "void" }
func (v *Void) SpyExtension() string { return "" }
func (v *Void) SampleRate() int      { return v.sampleRate }
func (v *Void) Ruleset() *tags.Ruleset { return v.ruleset }

func (v *Void) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Void) Initialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateReady || v.state == StateRunning {
		return nil // idempotent
	}
	if v.state != StateUninitialized {
		return &StateError{Op: "initialize", State: v.state}
	}
	v.state = StateReady
	return nil
}

func (v *Void) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateRunning {
		return nil // idempotent
	}
	if v.state != StateReady {
		return &StateError{Op: "start", State: v.state}
	}
	v.state = StateRunning
	return nil
}

func (v *Void) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateReady {
		return nil // idempotent
	}
	if v.state != StateRunning {
		return &StateError{Op: "stop", State: v.state}
	}
	v.state = StateReady
	return nil
}

// Push records a sample directly into the backend's buffer, as a
// stand-in for whatever real sampler would otherwise be writing.
func (v *Void) Push(trace stacktrace.Trace, n uint64) {
	applied := v.ruleset.Apply(trace)
	v.buf.RecordWithCount(applied, n)
}

func (v *Void) Report() ([]buffer.Report, error) {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()
	if state != StateReady && state != StateRunning {
		return nil, &StateError{Op: "report", State: state}
	}
	return v.buf.Drain(), nil
}

func (v *Void) Shutdown() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateShutdown {
		return nil
	}
	v.state = StateShutdown
	return nil
}
