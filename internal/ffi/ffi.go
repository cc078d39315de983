// Package ffi implements the pure-Go side of the foreign-function bridge
// from §6: a single process-wide registry holding at most one running
// agent, guarded by a mutex that refuses a second initialization until
// the first agent is dropped, plus a stable
// mapping from foreign thread identifiers into the int64 keyspace the
// control plane's ThreadTag rules use. The actual C-ABI surface (the
// //export shim a host language links against) lives in
// cmd/profileagent-ffi, which calls into this package.
package ffi

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/wingprofile/agent/internal/agent"
	"github.com/wingprofile/agent/internal/backend"
	"github.com/wingprofile/agent/internal/logger"
)

var (
	ErrAlreadyInitialized = errors.New("ffi: agent already initialized")
	ErrNotInitialized     = errors.New("ffi: agent not initialized")
)

// Registry is the single process-wide control surface. The design notes
// (§9) call out that a host with multiple isolated runtimes could lift
// this to a map keyed by an opaque handle without changing the Agent
// contract itself; this implementation takes the simpler single-instance
// reading the base spec describes.
type Registry struct {
	mu        sync.Mutex
	running   *agent.Running
	instance  string
	threadIDs map[string]int64
	nextID    int64
}

var global = &Registry{threadIDs: make(map[string]int64)}

// Global returns the process-wide registry the FFI shim drives.
func Global() *Registry { return global }

// InitializeAgent builds a Void-backed agent against url and starts it.
// Idempotent init is deliberately NOT supported here — a second call
// while one agent is already running is the AlreadyInitialized error
// family from §7, surfaced all the way to the foreign caller since nothing
// downstream of the FFI boundary can enforce the type-state discipline
// the native API gets for free.
func (r *Registry) InitializeAgent(applicationName, url string, globalTags map[string]string, sampleRateHz int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running != nil {
		return ErrAlreadyInitialized
	}

	b := agent.NewBuilder(url, applicationName)
	for k, v := range globalTags {
		b.WithGlobalTag(k, v)
	}

	ready, err := b.Build(backend.NewVoid(sampleRateHz))
	if err != nil {
		return err
	}
	running, err := ready.Start()
	if err != nil {
		return err
	}

	r.running = running
	r.instance = uuid.NewString()
	r.threadIDs = make(map[string]int64)
	r.nextID = 0
	logger.Log.Info("ffi: agent initialized", "instance", r.instance, "application", applicationName)
	return nil
}

// DropAgent stops and shuts down the running agent, releasing the
// registry for a subsequent InitializeAgent call.
func (r *Registry) DropAgent() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running == nil {
		return ErrNotInitialized
	}

	ready, err := r.running.Stop()
	if err != nil {
		return err
	}
	if err := ready.Shutdown(); err != nil {
		return err
	}

	logger.Log.Info("ffi: agent dropped", "instance", r.instance)
	r.running = nil
	r.instance = ""
	return nil
}

func (r *Registry) AddGlobalTag(key, value string) error {
	running, err := r.runningAgent()
	if err != nil {
		return err
	}
	running.AddGlobalTag(key, value)
	return nil
}

func (r *Registry) RemoveGlobalTag(key, value string) error {
	running, err := r.runningAgent()
	if err != nil {
		return err
	}
	running.RemoveGlobalTag(key, value)
	return nil
}

func (r *Registry) AddThreadTag(foreignThreadID, key, value string) error {
	r.mu.Lock()
	running := r.running
	tid := r.threadID(foreignThreadID)
	r.mu.Unlock()
	if running == nil {
		return ErrNotInitialized
	}
	running.AddThreadTag(tid, key, value)
	return nil
}

func (r *Registry) RemoveThreadTag(foreignThreadID, key, value string) error {
	r.mu.Lock()
	running := r.running
	tid := r.threadID(foreignThreadID)
	r.mu.Unlock()
	if running == nil {
		return ErrNotInitialized
	}
	running.RemoveThreadTag(tid, key, value)
	return nil
}

func (r *Registry) runningAgent() (*agent.Running, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running == nil {
		return nil, ErrNotInitialized
	}
	return r.running, nil
}

// threadID maps an arbitrary foreign thread identifier into a stable,
// process-local int64 keyspace, assigning the next free id on first
// sight. Call with r.mu held.
func (r *Registry) threadID(foreign string) int64 {
	if id, ok := r.threadIDs[foreign]; ok {
		return id
	}
	r.nextID++
	r.threadIDs[foreign] = r.nextID
	return r.nextID
}
