package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSendBuffer  = 64
	defaultMirrorQueue = 1024
	mirrorTimeout      = 2 * time.Second
)

// Mirror receives a copy of every published envelope. Implementations live in
// internal/relay.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, room, event string, payload []byte) error
}

type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	MessageBroadcast(event string, recipients int)
	MessageDropped()
	MirrorFailed(sink string)
	EventReceived(event string)
}

// Envelope is the wire format for both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub owns room membership: which clients sit in which room, and which rooms
// each client has joined.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	mirrors    []Mirror
	metrics    Metrics
	log        *slog.Logger
	sendBuffer int

	// Mirrors are fed from a bounded queue by a single worker, so a slow sink
	// never holds up room delivery.
	mirrorMu     sync.RWMutex
	mirrorQueue  chan mirrorJob
	mirrorSize   int
	mirrorClosed bool
	mirrorDone   sync.WaitGroup
}

type mirrorJob struct {
	room, event string
	payload     []byte
}

type Client struct {
	ID   string
	Send chan []byte

	// name is the chat display name; only the connection's read loop touches it.
	name   string
	rooms  map[string]struct{}
	closed bool
}

type HubOption func(*Hub)

func WithMirrors(mirrors ...Mirror) HubOption {
	return func(h *Hub) { h.mirrors = append(h.mirrors, mirrors...) }
}

func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithMirrorQueue bounds how many envelopes may wait for the mirrors. Publish
// drops the mirror copy when the queue is full.
func WithMirrorQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.mirrorSize = n
		}
	}
}

func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      map[string]map[*Client]struct{}{},
		clients:    map[*Client]struct{}{},
		log:        slog.Default(),
		sendBuffer: defaultSendBuffer,
		mirrorSize: defaultMirrorQueue,
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.mirrors) > 0 {
		h.mirrorQueue = make(chan mirrorJob, h.mirrorSize)
		h.mirrorDone.Add(1)
		go h.runMirrors()
	}
	return h
}

// Close stops accepting mirror traffic and waits until the queued envelopes
// have been handed to every mirror.
func (h *Hub) Close() {
	h.mirrorMu.Lock()
	if h.mirrorQueue == nil || h.mirrorClosed {
		h.mirrorMu.Unlock()
		return
	}
	h.mirrorClosed = true
	close(h.mirrorQueue)
	h.mirrorMu.Unlock()
	h.mirrorDone.Wait()
}

func (h *Hub) Register() *Client {
	client := &Client{
		ID:    uuid.NewString(),
		Send:  make(chan []byte, h.sendBuffer),
		rooms: map[string]struct{}{},
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ClientConnected()
	}
	return client
}

// Unregister drops the client from every room and closes its send queue.
// Calling it twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if client.closed {
		h.mu.Unlock()
		return
	}
	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
	delete(h.clients, client)
	client.closed = true
	close(client.Send)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ClientDisconnected()
	}
}

func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]struct{}{}
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Rooms lists the rooms a client has joined, sorted.
func (h *Hub) Rooms(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues payload for every client in room and returns how many
// accepted it. A full queue drops the message for that client only.
func (h *Hub) Broadcast(room string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[room] {
		if h.offer(client, payload) {
			delivered++
		}
	}
	return delivered
}

// Publish encodes an envelope, broadcasts it to the room and queues it for the
// mirrors.
func (h *Hub) Publish(room, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", "event", event, "error", err)
		return
	}

	delivered := h.Broadcast(room, payload)
	if h.metrics != nil {
		h.metrics.MessageBroadcast(event, delivered)
	}

	h.enqueueMirror(mirrorJob{room: room, event: event, payload: payload})
}

func (h *Hub) enqueueMirror(job mirrorJob) {
	h.mirrorMu.RLock()
	defer h.mirrorMu.RUnlock()
	if h.mirrorQueue == nil || h.mirrorClosed {
		return
	}
	select {
	case h.mirrorQueue <- job:
	default:
		h.log.Warn("mirror queue full", "room", job.room, "event", job.event)
		if h.metrics != nil {
			for _, m := range h.mirrors {
				h.metrics.MirrorFailed(m.Name())
			}
		}
	}
}

func (h *Hub) runMirrors() {
	defer h.mirrorDone.Done()
	for job := range h.mirrorQueue {
		for _, m := range h.mirrors {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			err := m.Mirror(ctx, job.room, job.event, job.payload)
			cancel()
			if err != nil {
				h.log.Warn("mirror publish", "sink", m.Name(), "room", job.room, "event", job.event, "error", err)
				if h.metrics != nil {
					h.metrics.MirrorFailed(m.Name())
				}
			}
		}
	}
}

// Send queues an event for a single client.
func (h *Hub) Send(client *Client, event string, data any) bool {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", "event", event, "error", err)
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.offer(client, payload)
}

// offer must run under h.mu so Unregister cannot close the queue mid-send.
func (h *Hub) offer(client *Client, payload []byte) bool {
	if client.closed {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		if h.metrics != nil {
			h.metrics.MessageDropped()
		}
		return false
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}
