package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/switchboard/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBackoff returns a fast backoff config for tests.
func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffDefaults(t *testing.T) {
	t.Parallel()
	got := BackoffConfig{MaxRetries: 3}.withDefaults()
	want := DefaultBackoffConfig()
	want.MaxRetries = 3
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts, readyCalled atomic.Int32
	m := NewManager(testLogger(), nil)
	w := m.Watch(ctx, WatcherConfig{
		Name: "crm",
		Probe: func(ctx context.Context) error {
			if attempts.Add(1) <= 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		Backoff: testBackoff(),
		OnReady: func() { readyCalled.Add(1) },
	})

	eventually(t, "crm ready", w.IsReady)
	eventually(t, "OnReady", func() bool { return readyCalled.Load() == 1 })
	if n := attempts.Load(); n < 4 {
		t.Errorf("probe attempts = %d, want at least 4", n)
	}
	if w.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", w.LastError())
	}

	// Further successful polls do not re-fire OnReady.
	time.Sleep(30 * time.Millisecond)
	if n := readyCalled.Load(); n != 1 {
		t.Errorf("OnReady called %d times, want exactly 1", n)
	}
}

func TestWatcher_TransitionsPublishEvents(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var failing atomic.Bool
	var downCalled atomic.Int32
	m := NewManager(testLogger(), bus)
	w := m.Watch(ctx, WatcherConfig{
		Name: "llm",
		Probe: func(ctx context.Context) error {
			if failing.Load() {
				return errors.New("model server down")
			}
			return nil
		},
		Backoff: testBackoff(),
		OnDown:  func(error) { downCalled.Add(1) },
	})

	eventually(t, "llm ready", w.IsReady)
	failing.Store(true)
	eventually(t, "llm down", func() bool { return !w.IsReady() })
	eventually(t, "OnDown", func() bool { return downCalled.Load() >= 1 })
	failing.Store(false)
	eventually(t, "llm recovered", w.IsReady)

	var kinds []string
	for len(kinds) < 3 {
		select {
		case e := <-ch:
			if e.Source != events.SourceConnwatch || e.Data["service"] != "llm" {
				t.Fatalf("unexpected event %+v", e)
			}
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatalf("events = %v, want 3 transitions", kinds)
		}
	}
	want := []string{events.KindServiceUp, events.KindServiceDown, events.KindServiceUp}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bcfg := testBackoff()
	bcfg.ProbeTimeout = 5 * time.Millisecond
	bcfg.MaxRetries = 1

	m := NewManager(testLogger(), nil)
	w := m.Watch(ctx, WatcherConfig{
		Name: "mqtt",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: bcfg,
	})

	eventually(t, "probe error", func() bool { return w.LastError() != nil })
	if w.IsReady() {
		t.Error("IsReady() = true for a probe that always times out")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	m := NewManager(testLogger(), nil)
	w := m.Watch(ctx, WatcherConfig{
		Name:    "crm",
		Probe:   func(ctx context.Context) error { return errors.New("down") },
		Backoff: testBackoff(),
	})
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestManager_StatusAndHealthy(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(testLogger(), nil)
	down := testBackoff()
	down.MaxRetries = 1

	m.Watch(ctx, WatcherConfig{
		Name:    "llm",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
	})
	crm := m.Watch(ctx, WatcherConfig{
		Name:     "crm",
		Probe:    func(ctx context.Context) error { return errors.New("unreachable") },
		Backoff:  down,
		Optional: true,
	})

	eventually(t, "crm probed", func() bool { return crm.LastError() != nil })
	eventually(t, "healthy", m.Healthy)

	status := m.Status()
	if len(status) != 2 || status[0].Name != "crm" || status[1].Name != "llm" {
		t.Fatalf("Status() = %+v, want crm then llm", status)
	}
	if status[0].Ready || status[0].LastError == "" || !status[0].Optional {
		t.Errorf("crm status = %+v", status[0])
	}
	if !status[1].Ready || status[1].LastError != "" {
		t.Errorf("llm status = %+v", status[1])
	}

	// A required backend that is down makes the process unhealthy.
	m.Watch(ctx, WatcherConfig{
		Name:    "mqtt",
		Probe:   func(ctx context.Context) error { return errors.New("no broker") },
		Backoff: down,
	})
	if m.Healthy() {
		t.Error("Healthy() = true with required mqtt down")
	}

	var nilManager *Manager
	if !nilManager.Healthy() {
		t.Error("nil Manager should be healthy")
	}
}

func TestManager_WatchReplacesSameName(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger(), nil)
	first := m.Watch(context.Background(), WatcherConfig{
		Name:    "crm",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
	})
	m.Watch(context.Background(), WatcherConfig{
		Name:    "crm",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
	})

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher still running")
	}
	if n := len(m.Status()); n != 1 {
		t.Errorf("Status() has %d entries, want 1", n)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Manager.Stop did not return within timeout")
	}
}

func TestWatch_PanicsOnMissingProbe(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("Watch without Probe did not panic")
		}
	}()
	NewManager(testLogger(), nil).Watch(context.Background(), WatcherConfig{Name: "crm"})
}
