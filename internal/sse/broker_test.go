package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	b := NewBroker(opts...)
	t.Cleanup(b.Close)
	return b
}

func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func drain(ch chan []byte) (relations, tasks []string) {
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "relations.updated") {
				relations = append(relations, s)
			} else {
				tasks = append(tasks, s)
			}
		default:
			return relations, tasks
		}
	}
}

func TestClientGauge(t *testing.T) {
	var clients atomic.Int64
	b := newTestBroker(t, WithClientGauge(func(n int) { clients.Store(int64(n)) }))

	ch := b.Subscribe(0)
	if b.ClientCount() != 1 || clients.Load() != 1 {
		t.Fatalf("count = %d, gauge = %d, want 1", b.ClientCount(), clients.Load())
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 || clients.Load() != 0 {
		t.Fatalf("count = %d, gauge = %d after unsubscribe, want 0", b.ClientCount(), clients.Load())
	}
}

func TestFramesCarryIncreasingIDs(t *testing.T) {
	b := newTestBroker(t)
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "tracker.started", Data: map[string]string{"path": "a.md"}})
	b.Publish(Event{Type: "tracker.stopped", Data: map[string]string{"path": "a.md"}})

	first := recv(t, ch)
	if !strings.HasPrefix(first, "id: 1\nevent: tracker.started\n") || !strings.Contains(first, `"path":"a.md"`) {
		t.Errorf("first frame = %q", first)
	}
	if second := recv(t, ch); !strings.HasPrefix(second, "id: 2\n") {
		t.Errorf("second frame = %q", second)
	}
}

func TestSubscribeReplaysMissedFrames(t *testing.T) {
	b := newTestBroker(t, WithReplay(2))
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		b.PublishTaskChange(TaskChange{Kind: "modified", Path: p})
	}
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)
	_, tasks := drain(ch)
	if len(tasks) != 2 {
		t.Fatalf("replayed %d frames, want 2: %v", len(tasks), tasks)
	}
	if !strings.Contains(tasks[0], "id: 2") || !strings.Contains(tasks[1], `"path":"c.md"`) {
		t.Errorf("replayed = %v", tasks)
	}

	fresh := b.Subscribe(0)
	defer b.Unsubscribe(fresh)
	if _, tasks := drain(fresh); len(tasks) != 0 {
		t.Errorf("a new client should not get history, got %v", tasks)
	}
}

func TestPublishTaskChange_RelationsThrottle(t *testing.T) {
	b := newTestBroker(t, WithThrottle(300*time.Millisecond))
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	// First change emits relations.updated right away.
	b.PublishTaskChange(TaskChange{Kind: "created", Path: "a.md", Related: []string{"a.md"}})
	// The next ones inside the interval are held back and merged.
	b.PublishTaskChange(TaskChange{Kind: "modified", Path: "b.md", Related: []string{"b.md"}})
	b.PublishTaskChange(TaskChange{Kind: "deleted", Path: "c.md", Related: []string{"c.md", "b.md"}})

	time.Sleep(50 * time.Millisecond)
	relations, tasks := drain(ch)
	if len(tasks) != 3 {
		t.Errorf("task events = %d, want 3", len(tasks))
	}
	if len(relations) != 1 {
		t.Fatalf("relations events = %d, want 1 (throttled)", len(relations))
	}
	if !strings.Contains(tasks[1], "event: task.updated") {
		t.Errorf("modified should map to task.updated, got %q", tasks[1])
	}

	time.Sleep(400 * time.Millisecond)
	relations, _ = drain(ch)
	if len(relations) != 1 {
		t.Fatalf("trailing relations events = %d, want 1", len(relations))
	}
	if !strings.Contains(relations[0], `"paths":["b.md","c.md"]`) {
		t.Errorf("trailing flush should merge paths, got %q", relations[0])
	}
}

func TestPublishTaskChange_RenameCarriesOldPath(t *testing.T) {
	b := newTestBroker(t)
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.PublishTaskChange(TaskChange{Kind: "renamed", Path: "done/a.md", OldPath: "a.md"})
	msg := recv(t, ch)
	if !strings.Contains(msg, "event: task.renamed") || !strings.Contains(msg, `"old_path":"a.md"`) {
		t.Errorf("frame = %q", msg)
	}
}

func TestPublishTaskChange_UnknownKindIgnored(t *testing.T) {
	b := newTestBroker(t)
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.PublishTaskChange(TaskChange{Kind: "archived", Path: "a.md", Related: []string{"a.md"}})
	time.Sleep(50 * time.Millisecond)
	relations, tasks := drain(ch)
	if len(relations)+len(tasks) != 0 {
		t.Errorf("expected no events, got %v %v", relations, tasks)
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := newTestBroker(t, WithReplay(0))
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	for range 2 * cap(ch) {
		b.Publish(Event{Type: "task.updated", Data: map[string]string{"path": "x.md"}})
	}
	if b.ClientCount() != 1 {
		t.Error("broker loop stalled on a full client")
	}
}

func TestServeHTTP(t *testing.T) {
	b := newTestBroker(t, WithHeartbeat(20*time.Millisecond))
	b.Publish(Event{Type: "task.created", Data: map[string]string{"path": "old.md"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "0")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}
	b.Publish(Event{Type: "task.updated", Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "event: task.updated") {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "old.md") {
		t.Errorf("Last-Event-ID 0 should not replay history: %q", body)
	}
	if !strings.Contains(body, ": keepalive") {
		t.Errorf("no heartbeat in %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(0)
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// No-ops once closed.
	b.Publish(Event{Type: "task.updated", Data: map[string]string{"path": "x.md"}})
	b.PublishTaskChange(TaskChange{Kind: "modified", Path: "x.md"})
	if _, ok := <-b.Subscribe(0); ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
