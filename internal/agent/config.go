// Package agent implements the central coordinator: it owns a Timer, a
// Backend, an Uploader, and a control channel, and exposes the public
// build -> ready -> running -> ready -> shutdown lifecycle as a pair of
// type-state handles (Ready, Running) so that operations invalid in a
// given state are compile errors rather than runtime checks.
package agent

import (
	"time"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/encode"
	"github.com/wingprofile/agent/internal/upload"
)

// Config is the set of values a Builder assembles before Build. Most
// fields mirror upload.Config directly; the agent package owns the
// pipeline cycle and the optional post-capture transform that upload
// itself has no business knowing about.
type Config struct {
	ServerURL       string
	ApplicationName string
	TenantID        string
	Auth            upload.Auth
	Headers         map[string]string
	GlobalTags      map[string]string
	Format          encode.Format
	Compression     encode.Compression

	// Cycle is the wall-clock snapshot period. Defaults to 10s.
	Cycle time.Duration

	RequestTimeout time.Duration
	QueueCapacity  int

	// Transform, if set, runs on every snapshot's reports after the
	// backend produces them and before they're encoded. It can be used
	// to redact, merge, or drop reports; a nil return drops the batch.
	Transform func([]buffer.Report) []buffer.Report
}

// NotConfigured reports a Builder precondition that was never satisfied.
type NotConfigured struct {
	Reason string
}

func (e *NotConfigured) Error() string { return "agent: not configured: " + e.Reason }

// Builder assembles an AgentConfig and, given a backend, produces a Ready
// agent. Grounded on the teacher's prompt Builder (internal/orchestrator):
// a plain struct with chained setters, validated once at Build.
type Builder struct {
	cfg Config
}

// NewBuilder starts a Builder for an agent that will upload to serverURL
// under applicationName.
func NewBuilder(serverURL, applicationName string) *Builder {
	return &Builder{cfg: Config{
		ServerURL:       serverURL,
		ApplicationName: applicationName,
		Headers:         make(map[string]string),
		GlobalTags:      make(map[string]string),
	}}
}

func (b *Builder) WithTenantID(id string) *Builder {
	b.cfg.TenantID = id
	return b
}

func (b *Builder) WithBearerAuth(token string) *Builder {
	b.cfg.Auth.Bearer = token
	return b
}

func (b *Builder) WithBasicAuth(user, pass string) *Builder {
	b.cfg.Auth.User = user
	b.cfg.Auth.Pass = pass
	return b
}

func (b *Builder) WithHeader(key, value string) *Builder {
	b.cfg.Headers[key] = value
	return b
}

func (b *Builder) WithGlobalTag(key, value string) *Builder {
	b.cfg.GlobalTags[key] = value
	return b
}

func (b *Builder) WithFormat(f encode.Format) *Builder {
	b.cfg.Format = f
	return b
}

func (b *Builder) WithCompression(c encode.Compression) *Builder {
	b.cfg.Compression = c
	return b
}

func (b *Builder) WithCycle(d time.Duration) *Builder {
	b.cfg.Cycle = d
	return b
}

func (b *Builder) WithRequestTimeout(d time.Duration) *Builder {
	b.cfg.RequestTimeout = d
	return b
}

func (b *Builder) WithQueueCapacity(n int) *Builder {
	b.cfg.QueueCapacity = n
	return b
}

func (b *Builder) WithTransform(fn func([]buffer.Report) []buffer.Report) *Builder {
	b.cfg.Transform = fn
	return b
}
