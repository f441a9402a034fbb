package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Stemt/hexcaster/internal/events"
	"github.com/Stemt/hexcaster/internal/supervisor"
)

// syncBuffer lets the test read what watch writes from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatEvent(t *testing.T) {
	ev := supervisor.Event{
		Kind:     supervisor.EventLoadFailed,
		State:    supervisor.Terminated,
		Artifact: "./preview.so",
		Err:      "load ./preview.so: missing entry point",
		Loads:    1,
		Unloads:  1,
		Time:     time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
	}
	got := formatEvent(ev)
	for _, want := range []string{"12:30:00.000", "load_failed", "terminated", "./preview.so", "loads 1, unloads 1", ": load ./preview.so"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEvent() = %q, missing %q", got, want)
		}
	}
}

func TestWatchPrintsEvents(t *testing.T) {
	b := events.NewBroadcaster(8, 0)
	b.Notify(supervisor.Event{Kind: supervisor.EventLoaded, State: supervisor.Loaded, Artifact: "app.so", Loads: 1})
	mux := http.NewServeMux()
	events.NewServer(b).SetupRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan struct{})
	go func() {
		watch(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", out)
		close(done)
	}()

	waitFor(t, func() bool { return strings.Contains(out.String(), "loaded") })
	b.Notify(supervisor.Event{Kind: supervisor.EventReloaded, State: supervisor.Loaded, Artifact: "app.so", Loads: 2, Unloads: 1})
	waitFor(t, func() bool { return strings.Contains(out.String(), "reloaded") })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestWatchStopsWhileRetrying(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		watch(ctx, "ws://127.0.0.1:1/ws", &syncBuffer{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not give up after the context expired")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met within 2s")
	}
}
