// Package sse streams task, relation and tracker changes to browser clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"
)

var taskEventTypes = map[string]string{
	"created":  "task.created",
	"modified": "task.updated",
	"renamed":  "task.renamed",
	"deleted":  "task.deleted",
}

// Event is one message for every connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TaskChange describes one applied task event. Related lists the tasks whose
// relations changed with it.
type TaskChange struct {
	Kind    string   `json:"-"`
	Path    string   `json:"path"`
	OldPath string   `json:"old_path,omitempty"`
	Related []string `json:"related,omitempty"`
}

type frame struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch    chan []byte
	after uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithThrottle sets the minimum spacing of relations.updated events. Changes
// arriving in between are flushed together at the end of the interval.
func WithThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.throttle = d
		}
	}
}

// WithHeartbeat sets how often idle streams get a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithReplay keeps the last n frames so a client reconnecting with
// Last-Event-ID receives what it missed.
func WithReplay(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// WithClientGauge reports the client count whenever it changes.
func WithClientGauge(fn func(int)) Option {
	return func(b *Broker) { b.gauge = fn }
}

// Broker fans events out to subscribers. One goroutine owns the client set,
// the replay history and the relations throttle; the exported methods talk to
// it over channels.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration
	replay    int
	gauge     func(int)

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	taskCh        chan TaskChange
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		throttle:      2 * time.Second,
		heartbeat:     30 * time.Second,
		replay:        64,
		gauge:         func(int) {},
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		taskCh:        make(chan TaskChange, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		nextID        uint64
		history       []frame
		lastRelations time.Time
		flush         <-chan time.Time
	)
	pending := map[string]struct{}{}

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; it loses this frame rather than stalling the loop.
		}
	}

	broadcast := func(ev Event) {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return
		}
		nextID++
		f := frame{id: nextID, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", nextID, ev.Type, payload)}
		if b.replay > 0 {
			history = append(history, f)
			if len(history) > b.replay {
				history = slices.Delete(history, 0, len(history)-b.replay)
			}
		}
		for ch := range clients {
			send(ch, f.raw)
		}
	}

	emitRelations := func(now time.Time) {
		lastRelations = now
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		slices.Sort(paths)
		clear(pending)
		broadcast(Event{Type: "relations.updated", Data: map[string][]string{"paths": paths}})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			b.gauge(0)
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.after > 0 {
				for _, f := range history {
					if f.id > sub.after {
						send(sub.ch, f.raw)
					}
				}
			}
			b.gauge(len(clients))

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				b.gauge(len(clients))
			}

		case ev := <-b.publishCh:
			broadcast(ev)

		case change := <-b.taskCh:
			typ, ok := taskEventTypes[change.Kind]
			if !ok {
				continue
			}
			broadcast(Event{Type: typ, Data: change})
			if len(change.Related) == 0 {
				continue
			}
			for _, p := range change.Related {
				pending[p] = struct{}{}
			}
			now := time.Now()
			if since := now.Sub(lastRelations); since >= b.throttle {
				emitRelations(now)
			} else if flush == nil {
				flush = time.After(b.throttle - since)
			}

		case now := <-flush:
			flush = nil
			if len(pending) > 0 {
				emitRelations(now)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. Frames newer than after are replayed first when
// they are still in the history.
func (b *Broker) Subscribe(after uint64) chan []byte {
	ch := make(chan []byte, max(64, b.replay))
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{ch: ch, after: after}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// PublishTaskChange publishes a task.* event and, when relations changed, a
// throttled relations.updated event.
func (b *Broker) PublishTaskChange(ch TaskChange) {
	if b.closed.Load() {
		return
	}
	select {
	case b.taskCh <- ch:
	case <-b.stopped:
	}
}

// ServeHTTP streams events until the client goes away. A Last-Event-ID
// header resumes from the replay history.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(after)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
