// Package sse implements a Server-Sent Events broker for content and quota updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/helmsman/internal/ratelimit"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types published by the broker.
const (
	TypeContentFetched = "content.fetched"
	TypeContentIndexed = "content.indexed"
	TypeContentRemoved = "content.removed"
	TypeDeckSynced     = "deck.synced"
	TypeQuotaLimited   = "quota.limited"
	TypeQuotaRestored  = "quota.restored"
	TypeIndexUpdated   = "index.updated"
)

const (
	clientBuffer     = 64
	defaultHeartbeat = 25 * time.Second
	// reconnectDelay is sent as the stream's retry field, in milliseconds.
	reconnectDelay = 3000
)

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often ServeHTTP writes a keep-alive comment.
// Zero or negative disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

type contentEventReq struct {
	kind string
	path string
}

// subscriber is one connected stream. An empty filter receives every event;
// otherwise an event is delivered when its type equals a filter entry or
// starts with "<entry>.".
type subscriber struct {
	ch     chan []byte
	filter []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, f := range s.filter {
		if typ == f || strings.HasPrefix(typ, f+".") {
			return true
		}
	}
	return false
}

// Broker fans events out to SSE clients.
//
// A single event loop goroutine owns the subscriber set, the event id
// counter and the index.updated throttle timestamp. Public methods talk to
// it over channels.
type Broker struct {
	indexMin  time.Duration
	heartbeat time.Duration

	subscribeCh    chan *subscriber
	unsubscribeCh  chan chan []byte
	publishCh      chan Event
	contentEventCh chan contentEventReq
	countReqCh     chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits index.updated at most once per indexThrottle.
func NewBroker(indexThrottle time.Duration, opts ...Option) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}

	b := &Broker{
		indexMin:       indexThrottle,
		heartbeat:      defaultHeartbeat,
		subscribeCh:    make(chan *subscriber),
		unsubscribeCh:  make(chan chan []byte),
		publishCh:      make(chan Event, 256),
		contentEventCh: make(chan contentEventReq, 256),
		countReqCh:     make(chan chan int),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// encode renders one event in wire format.
func encode(id uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan []byte]*subscriber)
	var (
		lastIndex time.Time
		nextID    uint64
	)

	broadcast := func(event Event) {
		nextID++
		raw, err := encode(nextID, event)
		if err != nil {
			return
		}
		for _, s := range subs {
			if !s.wants(event.Type) {
				continue
			}
			select {
			case s.ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s.ch] = s

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.contentEventCh:
			data := map[string]string{"path": req.path}
			switch req.kind {
			case "indexed":
				broadcast(Event{Type: TypeContentIndexed, Data: data})
			case "removed":
				broadcast(Event{Type: TypeContentRemoved, Data: data})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastIndex) >= b.indexMin {
				lastIndex = now
				broadcast(Event{Type: TypeIndexUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel. With types given, only
// events of those types (or type families such as "quota") are delivered.
func (b *Broker) Subscribe(types ...string) chan []byte {
	s := &subscriber{ch: make(chan []byte, clientBuffer), filter: types}
	if b.closed.Load() {
		close(s.ch)
		return s.ch
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(s.ch)
	}

	return s.ch
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
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishContentEvent publishes an index change ("indexed" or "removed") and
// a throttled index.updated event. Its signature matches index.EventCallback.
func (b *Broker) PublishContentEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.contentEventCh <- contentEventReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// QuotaHook returns a ratelimit.Tracker change hook that publishes
// quota.limited and quota.restored on transitions only.
func (b *Broker) QuotaHook() func(ratelimit.Status) {
	var limited atomic.Bool
	return func(st ratelimit.Status) {
		now := st.Limited()
		if limited.Swap(now) == now {
			return
		}
		typ := TypeQuotaRestored
		if now {
			typ = TypeQuotaLimited
		}
		b.Publish(Event{Type: typ, Data: st})
	}
}

// typeFilter reads the comma-separated "types" query parameter.
func typeFilter(r *http.Request) []string {
	var out []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// types query parameter narrows the stream, e.g. ?types=deck,quota.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", reconnectDelay)
	flusher.Flush()

	ch := b.Subscribe(typeFilter(r)...)
	defer b.Unsubscribe(ch)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
