package streaming

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// terminalGrace is how long Broadcast waits to enqueue a complete or
	// error event before giving up. Non-terminal events are dropped
	// immediately when the queue is full.
	terminalGrace = 100 * time.Millisecond

	// clientGrace is the per-client delivery budget for terminal events.
	clientGrace = 50 * time.Millisecond

	// drainWindow is how long a broadcaster keeps running after a
	// terminal event so slow clients can read it before channels close.
	drainWindow = 100 * time.Millisecond
)

// terminal reports whether an event type ends the session stream.
func terminal(t EventType) bool {
	return t == EventTypeComplete || t == EventTypeError
}

// Client represents a connected SSE client
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		Events: make(chan SSEEvent, 10),
	}
}

// SessionBroadcaster fans events out to the clients watching a single
// import session.
type SessionBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewSessionBroadcaster creates a new session broadcaster
func NewSessionBroadcaster(ctx context.Context) *SessionBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionBroadcaster{
		clients: make(map[*Client]struct{}),
		events:  make(chan SSEEvent, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a client to the broadcaster
func (b *SessionBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = struct{}{}
	log.Printf("INFO: SSE client joined, %d watching", len(b.clients))
}

// Unregister removes a client from the broadcaster
func (b *SessionBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	// Stop() closes every client channel itself
	if !b.stopped {
		close(client.Events)
	}
	log.Printf("INFO: SSE client left, %d watching", len(b.clients))
}

// ClientCount returns the number of connected clients
func (b *SessionBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for delivery. Complete and error events get
// a grace timeout because a client that misses one would hang waiting
// for the end of the import; anything else is dropped when the queue is
// full.
func (b *SessionBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return
	}

	if terminal(event.Type) {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(terminalGrace):
			log.Printf("ERROR: Dropped terminal %s event, session clients may hang", event.Type)
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		log.Printf("WARN: Event queue full, dropping %s event", event.Type)
	}
}

// Stop stops the broadcaster and cleans up resources
func (b *SessionBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
		close(b.events)
	})
}

// Start runs the fan-out loop. The loop exits on context cancellation
// or shortly after a terminal event has been delivered.
func (b *SessionBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.fanOut(event)
				if terminal(event.Type) {
					time.Sleep(drainWindow)
					return
				}
			}
		}
	}()
}

func (b *SessionBroadcaster) fanOut(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if deliver(client.Events, event) {
			continue
		}
		if terminal(event.Type) {
			log.Printf("ERROR: Client missed terminal %s event and may hang", event.Type)
		} else {
			log.Printf("WARN: Client channel full, skipping %s event", event.Type)
		}
	}
}

// deliver sends the event to one client channel. Terminal events wait up
// to clientGrace; the rest are best-effort.
func deliver(ch chan<- SSEEvent, event SSEEvent) bool {
	if !terminal(event.Type) {
		select {
		case ch <- event:
			return true
		default:
			return false
		}
	}
	select {
	case ch <- event:
		return true
	case <-time.After(clientGrace):
		return false
	}
}

// StreamHub manages broadcasters for multiple import sessions
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*SessionBroadcaster
}

// NewStreamHub creates a new stream hub
func NewStreamHub() *StreamHub {
	return &StreamHub{
		broadcasters: make(map[string]*SessionBroadcaster),
	}
}

// Register attaches a new client to the session's broadcaster, creating
// and starting the broadcaster on first use.
func (h *StreamHub) Register(ctx context.Context, sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, ok := h.broadcasters[sessionID]
	if !ok {
		broadcaster = NewSessionBroadcaster(ctx)
		broadcaster.Start()
		h.broadcasters[sessionID] = broadcaster
		log.Printf("INFO: Started broadcaster for session %s", sessionID)
	}

	client := NewClient()
	broadcaster.Register(client)
	return client
}

// Unregister removes a client from a session
func (h *StreamHub) Unregister(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, ok := h.broadcasters[sessionID]
	if !ok {
		return
	}

	broadcaster.Unregister(client)
	if broadcaster.ClientCount() == 0 {
		broadcaster.Stop()
		delete(h.broadcasters, sessionID)
		log.Printf("INFO: Stopped idle broadcaster for session %s", sessionID)
	}
}

// Broadcast sends an event to all clients of a session. Sessions with
// no connected clients are silently skipped so a headless commit does
// not pay for event delivery.
func (h *StreamHub) Broadcast(sessionID string, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if broadcaster, ok := h.broadcasters[sessionID]; ok {
		broadcaster.Broadcast(event)
	}
}

// IsRunning checks if a session broadcaster exists
func (h *StreamHub) IsRunning(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.broadcasters[sessionID]
	return ok
}
