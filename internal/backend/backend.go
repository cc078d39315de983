// Package backend defines the polymorphic sampling backend contract and
// its bare -> uninitialized -> ready -> running -> ready -> shutdown
// state machine.
package backend

import (
	"errors"
	"fmt"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/tags"
)

// State is one point in the backend lifecycle.
type State int

const (
	StateBare State = iota
	StateUninitialized
	StateReady
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateBare:
		return "bare"
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// StateError reports an operation attempted from a state that does not
// permit it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("backend: %s not permitted in state %s", e.Op, e.State)
}

var (
	// ErrNotInitialized mirrors the FFI-surfaced error family from §7;
	// the typed API below prevents most of these from ever being hit.
	ErrNotInitialized   = errors.New("backend: not initialized")
	ErrAlreadyInit      = errors.New("backend: already initialized")
	ErrAlreadyRunning   = errors.New("backend: already running")
	ErrNotRunning       = errors.New("backend: not running")
	ErrUnsupportedInput = errors.New("backend: unsupported interpreter")
)

// Backend is the capability set every concrete sampling backend
// implements. Mutating methods (Initialize, Report, Shutdown) require the
// caller to hold it uniquely, mirroring the "&mut" discipline of the
// reference design; Go has no borrow checker so this is enforced by
// convention plus the Agent's own type-state wrapper (internal/agent).
type Backend interface {
	// SpyName is a stable identifier sent as the spyName query parameter
	// on upload.
	SpyName() string

	// SpyExtension is an optional short label (e.g. "cpu") folded into
	// the uploaded name before the tag braces. Empty means none.
	SpyExtension() string

	// SampleRate is the configured sampling frequency in Hz.
	SampleRate() int

	// Initialize performs the idempotent uninitialized -> ready
	// transition, acquiring whatever OS resources the backend needs.
	Initialize() error

	// Start performs the ready -> running transition. Only the Agent
	// orchestrator calls this, at the moment the snapshot loop begins.
	Start() error

	// Stop performs the running -> ready transition, the reverse of
	// Start. Accumulated samples survive the transition; only the next
	// Report call drains them.
	Stop() error

	// Report drains accumulated samples into one Report per distinct
	// label set. Only valid in the ready or running state. Must not
	// block longer than the snapshot cycle.
	Report() ([]buffer.Report, error)

	// Ruleset returns the backend's shared tag overlay, mutated by the
	// orchestrator's control plane and consulted by the sampler on every
	// sample.
	Ruleset() *tags.Ruleset

	// Shutdown releases resources. Terminal: no further calls are valid.
	Shutdown() error

	// State reports the backend's current lifecycle state.
	State() State
}
