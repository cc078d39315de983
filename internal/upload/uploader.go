package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/wingprofile/agent/internal/encode"
	"github.com/wingprofile/agent/internal/logger"
	"github.com/wingprofile/agent/internal/stacktrace"
)

// Auth carries the optional bearer-or-basic authentication for upload
// requests. Exactly one of Bearer or (User set) should be populated; both
// empty means unauthenticated.
type Auth struct {
	Bearer string
	User   string
	Pass   string
}

// Config is the subset of AgentConfig the uploader needs to build
// requests. It is a plain copy, not a shared pointer, so the uploader
// never races with concurrent tag mutation on the live AgentConfig.
type Config struct {
	URL             string
	ApplicationName string
	TenantID        string
	Auth            Auth
	Headers         map[string]string
	GlobalTags      map[string]string
	SampleRate      int
	SpyName         string
	SpyExtension    string
	Format          string
	RequestTimeout  time.Duration
	QueueCapacity   int
}

// Uploader receives Signals over a channel and issues one HTTP POST per
// encoded report inside each queued Session. It never blocks the
// snapshot pipeline: Enqueue is non-blocking and drops the oldest queued
// session if the channel is full, counting the drop.
type Uploader struct {
	cfg    Config
	client *http.Client
	ch     chan Signal
	limit  *rate.Limiter

	mu           sync.Mutex
	dropped      uint64
	drainTimeout time.Duration

	done chan struct{}
}

// New constructs an Uploader. It does not start the background loop;
// call Run in its own goroutine to do that.
func New(cfg Config, drainTimeout time.Duration) *Uploader {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 32
	}
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &Uploader{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		ch:           make(chan Signal, cfg.QueueCapacity),
		limit:        rate.NewLimiter(rate.Every(50*time.Millisecond), 4),
		drainTimeout: drainTimeout,
		done:         make(chan struct{}),
	}
}

// Enqueue queues a session for upload without blocking. If the queue is
// full, the oldest queued session is dropped to make room and the drop
// counter is incremented.
func (u *Uploader) Enqueue(s Session) {
	sig := SessionSignal(s)
	select {
	case u.ch <- sig:
		return
	default:
	}

	select {
	case <-u.ch:
		u.mu.Lock()
		u.dropped++
		u.mu.Unlock()
		logger.Log.Warn("upload: queue full, dropped oldest session")
	default:
	}

	select {
	case u.ch <- sig:
	default:
		u.mu.Lock()
		u.dropped++
		u.mu.Unlock()
	}
}

// Dropped returns the number of sessions dropped for backpressure so far.
func (u *Uploader) Dropped() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

// Kill requests the uploader drain and exit. It blocks only while the
// queue is full; callers wait on Done() for the drain to finish.
func (u *Uploader) Kill() {
	u.ch <- Kill()
}

// Done returns a channel closed once Run has exited.
func (u *Uploader) Done() <-chan struct{} { return u.done }

// Run processes signals until a Kill is received, then best-effort drains
// whatever remains queued within drainTimeout before exiting. Run is
// meant to be the body of the uploader's dedicated goroutine.
func (u *Uploader) Run(ctx context.Context) {
	defer close(u.done)
	for sig := range u.ch {
		switch sig.kind {
		case signalSession:
			u.upload(ctx, sig.session)
		case signalKill:
			u.drain(ctx)
			return
		}
	}
}

func (u *Uploader) drain(ctx context.Context) {
	deadline := time.Now().Add(u.drainTimeout)
	for {
		select {
		case sig, ok := <-u.ch:
			if !ok {
				return
			}
			if sig.kind == signalSession {
				if time.Now().After(deadline) {
					continue // best-effort: stop trying once the drain window elapses
				}
				u.upload(ctx, sig.session)
			}
		default:
			return
		}
	}
}

func (u *Uploader) upload(ctx context.Context, s Session) {
	for _, report := range s.Reports {
		if err := u.limit.Wait(ctx); err != nil {
			return
		}
		if err := u.uploadOne(ctx, s, report); err != nil {
			logger.Log.Error("upload: request failed", "error", err)
			// Per the failure-handling policy, errors are logged and the
			// failed report is not retried; the session's remaining
			// reports are still sent, and the next session carries the
			// next window.
		}
	}
}

func (u *Uploader) uploadOne(ctx context.Context, s Session, report encode.Encoded) error {
	reqURL, err := u.buildURL(s, report)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(report.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", report.ContentType)
	if report.ContentEncoding != "" {
		req.Header.Set("Content-Encoding", string(report.ContentEncoding))
	}
	if u.cfg.Auth.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.Auth.Bearer)
	} else if u.cfg.Auth.User != "" {
		req.SetBasicAuth(u.cfg.Auth.User, u.cfg.Auth.Pass)
	}
	if u.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", u.cfg.TenantID)
	}
	for k, v := range u.cfg.Headers {
		req.Header.Set(k, v)
	}

	logger.Log.Debug("upload: sending session",
		"url", reqURL, "bytes", humanize.Bytes(uint64(len(report.Body))))

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ingest returned status %d", resp.StatusCode)
	}
	return nil
}

func (u *Uploader) buildURL(s Session, report encode.Encoded) (string, error) {
	base, err := url.Parse(u.cfg.URL)
	if err != nil {
		return "", err
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/ingest"

	q := base.Query()
	q.Set("name", mergeName(u.cfg.ApplicationName, u.cfg.SpyExtension, u.cfg.GlobalTags, report.Metadata))
	q.Set("from", strconv.FormatInt(s.From, 10))
	q.Set("until", strconv.FormatInt(s.Until, 10))
	q.Set("sampleRate", strconv.Itoa(u.cfg.SampleRate))
	q.Set("spyName", u.cfg.SpyName)
	q.Set("format", u.cfg.Format)
	base.RawQuery = q.Encode()

	return base.String(), nil
}

// mergeName implements the name-merging algorithm (property 7): the
// application name, an optional ".{ext}" spy suffix, and a sorted
// "{k=v,...}" rendering of global config tags plus report metadata tags,
// excluding any tag keyed "__name__".
func mergeName(appName, spyExt string, globalTags map[string]string, md stacktrace.Metadata) string {
	merged := make(map[string]string, len(globalTags))
	for k, v := range globalTags {
		if k == "__name__" {
			continue
		}
		merged[k] = v
	}
	for _, t := range md.Tags() {
		if t.Key == "__name__" {
			continue
		}
		merged[t.Key] = t.Value
	}

	name := appName
	if spyExt != "" {
		name += "." + spyExt
	}
	if len(merged) == 0 {
		return name
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(merged[k])
	}
	b.WriteByte('}')
	return b.String()
}
