package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/wingprofile/agent/internal/encode"
	"github.com/wingprofile/agent/internal/stacktrace"
)

// TestUploaderName exercises S6: application name "bench", spy name
// "pyspy", spy extension "cpu", no tags -> the ingest query carries
// name=bench.cpu, spyName=pyspy, format=folded, sampleRate=100, and
// from/until with until % 10 == 0.
func TestUploaderName(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{
		URL:             srv.URL,
		ApplicationName: "bench",
		SampleRate:      100,
		SpyName:         "pyspy",
		SpyExtension:    "cpu",
		Format:          "folded",
	}
	u := New(cfg, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx)

	u.Enqueue(Session{
		From:  1000,
		Until: 1010,
		Reports: []encode.Encoded{{
			ContentType: "binary/octet-stream",
			Body:        []byte("a;b 1\n"),
			Metadata:    stacktrace.NewMetadata(),
		}},
	})

	u.Kill()
	select {
	case <-u.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("uploader did not finish draining")
	}

	if gotQuery == nil {
		t.Fatal("server received no request")
	}
	if got := gotQuery.Get("name"); got != "bench.cpu" {
		t.Errorf("name = %q, want bench.cpu", got)
	}
	if got := gotQuery.Get("spyName"); got != "pyspy" {
		t.Errorf("spyName = %q, want pyspy", got)
	}
	if got := gotQuery.Get("format"); got != "folded" {
		t.Errorf("format = %q, want folded", got)
	}
	if got := gotQuery.Get("sampleRate"); got != "100" {
		t.Errorf("sampleRate = %q, want 100", got)
	}
	if got := gotQuery.Get("until"); got != "1010" {
		t.Errorf("until = %q, want 1010", got)
	}
}

func TestMergeNameWithTagsSorted(t *testing.T) {
	md := stacktrace.NewMetadata(stacktrace.Tag{Key: "thread_id", Value: "7"})
	got := mergeName("svc", "cpu", map[string]string{"env": "prod", "host": "a"}, md)
	want := "svc.cpu{env=prod,host=a,thread_id=7}"
	if got != want {
		t.Errorf("mergeName() = %q, want %q", got, want)
	}
}

func TestMergeNameExcludesDunderName(t *testing.T) {
	md := stacktrace.NewMetadata(stacktrace.Tag{Key: "__name__", Value: "ignored"})
	got := mergeName("svc", "", nil, md)
	if got != "svc" {
		t.Errorf("mergeName() = %q, want svc", got)
	}
}

func TestMergeNameNoTagsNoBraces(t *testing.T) {
	got := mergeName("app", "", nil, stacktrace.NewMetadata())
	if got != "app" {
		t.Errorf("mergeName() = %q, want app", got)
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	cfg := Config{URL: "http://127.0.0.1:0", QueueCapacity: 1}
	u := New(cfg, time.Second)

	// Fill the queue without a consumer running.
	u.Enqueue(Session{Until: 10})
	u.Enqueue(Session{Until: 20})

	if u.Dropped() == 0 {
		t.Error("expected at least one dropped session when queue is full")
	}
}
