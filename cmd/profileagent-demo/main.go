// Command profileagent-demo is a minimal host embedding the agent
// library end to end: build, start, run a synthetic workload, handle a
// termination signal, stop, shut down. Grounded on the teacher's
// daemon.Run — context.WithCancel plus a signal channel and an error
// channel raced in a select. A CLI front end (flag parsing,
// sub-commands) is explicitly out of scope (§1); this binary reads its
// handful of settings from the environment the way a sidecar would.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wingprofile/agent/internal/agent"
	"github.com/wingprofile/agent/internal/backend"
	"github.com/wingprofile/agent/internal/logger"
	"github.com/wingprofile/agent/internal/stacktrace"
)

func main() {
	if err := run(); err != nil {
		logger.Log.Error("profileagent-demo: exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := envOr("PROFILEAGENT_SERVER_URL", "http://localhost:4040")
	appName := envOr("PROFILEAGENT_APP_NAME", "profileagent-demo")

	be := backend.NewVoid(100)
	builder := agent.NewBuilder(serverURL, appName).
		WithCycle(10 * time.Second).
		WithGlobalTag("env", envOr("PROFILEAGENT_ENV", "dev"))

	if token := os.Getenv("PROFILEAGENT_BEARER_TOKEN"); token != "" {
		builder = builder.WithBearerAuth(token)
	}

	ready, err := builder.Build(be)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	running, err := ready.Start()
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	logger.Log.Info("profileagent-demo: agent running", "server", serverURL, "application", appName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- simulateWork(ctx, be)
	}()

	select {
	case sig := <-sigCh:
		logger.Log.Info("profileagent-demo: received signal, shutting down", "signal", sig.String())
		cancel()
		time.Sleep(time.Second) // grace period for the in-flight sample window
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			cancel()
			logger.Log.Error("profileagent-demo: workload error", "error", err)
		}
	}

	settled, err := running.Stop()
	if err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	if err := settled.Shutdown(); err != nil {
		return fmt.Errorf("shutdown agent: %w", err)
	}
	logger.Log.Info("profileagent-demo: shut down cleanly")
	return nil
}

// simulateWork feeds the Void backend a synthetic trace every tick so the
// demo produces non-empty sessions without attaching to a real
// interpreter. A real embedding would call pyspy.New/RegisterThread
// instead of touching a backend's Push directly.
func simulateWork(ctx context.Context, be *backend.Void) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	frames := []string{"handle_request", "render_template", "query_database"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			name := frames[rand.Intn(len(frames))]
			be.Push(stacktrace.Trace{Frames: []stacktrace.Frame{{Name: name}}}, 1)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
