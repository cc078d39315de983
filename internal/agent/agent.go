package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wingprofile/agent/internal/backend"
	"github.com/wingprofile/agent/internal/encode"
	"github.com/wingprofile/agent/internal/logger"
	"github.com/wingprofile/agent/internal/stacktrace"
	"github.com/wingprofile/agent/internal/tags"
	"github.com/wingprofile/agent/internal/timer"
	"github.com/wingprofile/agent/internal/upload"
)

// agentCore holds everything shared between the Ready and Running
// handles. Only one of the two handles is reachable from user code at a
// time, so the type-state split is what actually prevents, say, Start
// being called twice — agentCore itself has no state machine of its own
// beyond what's needed to serialize Start/Stop against concurrent
// control-plane calls.
type agentCore struct {
	cfg Config
	be  backend.Backend
	tmr *timer.Timer

	signals chan Signal

	mu           sync.Mutex
	uploader     *upload.Uploader
	uploadCancel context.CancelFunc
	sinkID       int
	stopCh       chan chan struct{}
	loopDone     chan struct{}
}

// Ready is an agent that has been built (and whose backend has been
// initialized) but whose snapshot loop is not running.
type Ready struct{ a *agentCore }

// Running is an agent whose snapshot loop is active.
type Running struct{ a *agentCore }

// Build validates cfg and constructs a Ready agent around be, calling
// be.Initialize(). The backend must be in the uninitialized state.
func (b *Builder) Build(be backend.Backend) (*Ready, error) {
	if b.cfg.ServerURL == "" {
		return nil, &NotConfigured{Reason: "server url is required"}
	}
	if b.cfg.ApplicationName == "" {
		return nil, &NotConfigured{Reason: "application name is required"}
	}
	if be == nil {
		return nil, &NotConfigured{Reason: "backend is required"}
	}
	if b.cfg.Auth.Bearer != "" {
		if err := checkBearerNotExpired(b.cfg.Auth.Bearer); err != nil {
			return nil, err
		}
	}

	cfg := b.cfg
	if cfg.Cycle <= 0 {
		cfg.Cycle = 10 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = encode.Folded
	}

	if err := be.Initialize(); err != nil {
		return nil, fmt.Errorf("agent: initialize backend: %w", err)
	}

	a := &agentCore{
		cfg:     cfg,
		be:      be,
		tmr:     timer.New(cfg.Cycle),
		signals: make(chan Signal, 256),
	}
	return &Ready{a: a}, nil
}

// Start transitions the backend and snapshot loop into the running state
// and returns the Running handle. The Ready value must not be used again.
func (r *Ready) Start() (*Running, error) {
	a := r.a

	if err := a.be.Start(); err != nil {
		return nil, fmt.Errorf("agent: start backend: %w", err)
	}

	upCfg := upload.Config{
		URL:             a.cfg.ServerURL,
		ApplicationName: a.cfg.ApplicationName,
		TenantID:        a.cfg.TenantID,
		Auth:            a.cfg.Auth,
		Headers:         copyMap(a.cfg.Headers),
		GlobalTags:      copyMap(a.cfg.GlobalTags),
		SampleRate:      a.be.SampleRate(),
		SpyName:         a.be.SpyName(),
		SpyExtension:    a.be.SpyExtension(),
		Format:          string(a.cfg.Format),
		RequestTimeout:  a.cfg.RequestTimeout,
		QueueCapacity:   a.cfg.QueueCapacity,
	}
	up := upload.New(upCfg, a.cfg.Cycle)
	ctx, cancel := context.WithCancel(context.Background())
	go up.Run(ctx)

	tickCh := make(chan timer.Tick, 4)
	sinkID := a.tmr.AddSink(tickCh)
	stopCh := make(chan chan struct{})
	done := make(chan struct{})

	a.mu.Lock()
	a.uploader = up
	a.uploadCancel = cancel
	a.sinkID = sinkID
	a.stopCh = stopCh
	a.loopDone = done
	a.mu.Unlock()

	go a.loop(tickCh, stopCh, done)

	return &Running{a: a}, nil
}

// Stop flushes the current window as a terminal session, tears down the
// loop and uploader, and returns the agent to Ready. The Running value
// must not be used again.
func (run *Running) Stop() (*Ready, error) {
	a := run.a

	reply := make(chan struct{})
	a.stopCh <- reply
	<-reply
	<-a.loopDone

	a.tmr.RemoveSink(a.sinkID)

	a.mu.Lock()
	up := a.uploader
	cancel := a.uploadCancel
	a.mu.Unlock()

	if up != nil {
		up.Kill()
		<-up.Done()
	}
	if cancel != nil {
		cancel()
	}

	if err := a.be.Stop(); err != nil {
		return nil, fmt.Errorf("agent: stop backend: %w", err)
	}
	return &Ready{a: a}, nil
}

// Shutdown releases the backend's resources. Terminal: the Ready value
// must not be used again after this call.
func (r *Ready) Shutdown() error {
	return r.a.be.Shutdown()
}

// AddGlobalTag queues a global tag addition, applied to the config's
// global-tag map and the backend's ruleset once the loop next drains the
// control channel (at the next tick or stop, if currently running).
func (r *Ready) AddGlobalTag(key, value string) { addGlobalTag(r.a, key, value) }
func (run *Running) AddGlobalTag(key, value string) { addGlobalTag(run.a, key, value) }

func (r *Ready) RemoveGlobalTag(key, value string) { removeGlobalTag(r.a, key, value) }
func (run *Running) RemoveGlobalTag(key, value string) { removeGlobalTag(run.a, key, value) }

func (r *Ready) AddThreadTag(threadID int64, key, value string) {
	addThreadTag(r.a, threadID, key, value)
}
func (run *Running) AddThreadTag(threadID int64, key, value string) {
	addThreadTag(run.a, threadID, key, value)
}

func (r *Ready) RemoveThreadTag(threadID int64, key, value string) {
	removeThreadTag(r.a, threadID, key, value)
}
func (run *Running) RemoveThreadTag(threadID int64, key, value string) {
	removeThreadTag(run.a, threadID, key, value)
}

func addGlobalTag(a *agentCore, key, value string) {
	a.enqueueSignal(Signal{kind: sigAddGlobal, tag: stacktrace.Tag{Key: key, Value: value}})
}

func removeGlobalTag(a *agentCore, key, value string) {
	a.enqueueSignal(Signal{kind: sigRemoveGlobal, tag: stacktrace.Tag{Key: key, Value: value}})
}

func addThreadTag(a *agentCore, threadID int64, key, value string) {
	a.enqueueSignal(Signal{kind: sigAddThread, threadID: threadID, tag: stacktrace.Tag{Key: key, Value: value}})
}

func removeThreadTag(a *agentCore, threadID int64, key, value string) {
	a.enqueueSignal(Signal{kind: sigRemoveThread, threadID: threadID, tag: stacktrace.Tag{Key: key, Value: value}})
}

func (a *agentCore) enqueueSignal(s Signal) {
	select {
	case a.signals <- s:
	default:
		logger.Log.Warn("agent: control signal queue full, dropping signal")
	}
}

func (a *agentCore) drainSignals() {
	for {
		select {
		case sig := <-a.signals:
			a.apply(sig)
		default:
			return
		}
	}
}

func (a *agentCore) apply(sig Signal) {
	switch sig.kind {
	case sigAddGlobal:
		a.mu.Lock()
		if a.cfg.GlobalTags == nil {
			a.cfg.GlobalTags = make(map[string]string)
		}
		a.cfg.GlobalTags[sig.tag.Key] = sig.tag.Value
		a.mu.Unlock()
		a.be.Ruleset().Add(tags.GlobalTag(sig.tag))
	case sigRemoveGlobal:
		a.mu.Lock()
		delete(a.cfg.GlobalTags, sig.tag.Key)
		a.mu.Unlock()
		a.be.Ruleset().Remove(tags.GlobalTag(sig.tag))
	case sigAddThread:
		a.be.Ruleset().Add(tags.ThreadTag(sig.threadID, sig.tag))
	case sigRemoveThread:
		a.be.Ruleset().Remove(tags.ThreadTag(sig.threadID, sig.tag))
	}
}

// loop is the snapshot pipeline: on every tick it drains pending control
// signals first, then captures, encodes, and uploads one window. On
// receiving a stop request it does the same one final time with until
// rounded up to the next boundary from the stop instant, then exits.
func (a *agentCore) loop(tickCh <-chan timer.Tick, stopCh <-chan chan struct{}, done chan<- struct{}) {
	defer close(done)

	// Signals queued while the agent was Ready are applied as soon as the
	// loop starts.
	a.drainSignals()

	var lastUntil int64
	for {
		select {
		case tick := <-tickCh:
			a.drainSignals()
			a.snapshot(windowStart(lastUntil, tick.Unix, a.cfg.Cycle), tick.Unix)
			lastUntil = tick.Unix

		case reply := <-stopCh:
			a.drainSignals()
			until := alignUp(time.Now(), a.cfg.Cycle)
			a.snapshot(windowStart(lastUntil, until, a.cfg.Cycle), until)
			close(reply)
			return
		}
	}
}

func (a *agentCore) snapshot(from, until int64) {
	reports, err := a.be.Report()
	if err != nil {
		logger.Log.Error("agent: backend report failed", "error", err)
		return
	}
	if a.cfg.Transform != nil {
		reports = a.cfg.Transform(reports)
	}
	if len(reports) == 0 {
		return
	}

	encoded := make([]encode.Encoded, 0, len(reports))
	for _, report := range reports {
		enc, err := encode.Encode(report, a.cfg.Format, a.cfg.Compression)
		if err != nil {
			logger.Log.Error("agent: encode failed", "error", err)
			continue
		}
		encoded = append(encoded, enc)
	}
	if len(encoded) == 0 {
		return
	}

	a.mu.Lock()
	up := a.uploader
	a.mu.Unlock()
	if up == nil {
		return
	}
	up.Enqueue(upload.Session{From: from, Until: until, Reports: encoded})
}

// windowStart returns the From of a session ending at until: lastUntil if
// a previous window exists, else one cycle before until.
func windowStart(lastUntil, until int64, cycle time.Duration) int64 {
	if lastUntil != 0 {
		return lastUntil
	}
	return until - int64(cycle/time.Second)
}

// alignUp returns the smallest multiple of cycle (in unix seconds) >= t.
func alignUp(t time.Time, cycle time.Duration) int64 {
	sec := int64(cycle / time.Second)
	if sec <= 0 {
		sec = 1
	}
	u := t.Unix()
	if rem := u % sec; rem != 0 {
		return u - rem + sec
	}
	return u
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
