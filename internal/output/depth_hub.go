package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	hubQueueSize = 64
)

// Hello is the first message sent to every websocket client.
type Hello struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id"`
	Streams []string  `json:"streams"`
	Latest  []Message `json:"latest,omitempty"`
}

// DepthHub pushes float and landmark packets to websocket clients as JSON.
type DepthHub struct {
	runID    string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	latest  map[string]Message
	streams map[string]struct{}
	running bool
	cancel  context.CancelFunc
	queue   chan Message
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewDepthHub creates a hub that tags its hello message with runID.
func NewDepthHub(runID string) *DepthHub {
	return &DepthHub{
		runID: runID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		latest:  make(map[string]Message),
		streams: make(map[string]struct{}),
	}
}

// Start launches the broadcast loop.
func (h *DepthHub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("depth hub already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.queue = make(chan Message, hubQueueSize)
	h.done = make(chan struct{})
	h.running = true
	go h.broadcast(ctx, h.queue, h.done)

	logger.WithComponent("depth-hub").Info().Str("run_id", h.runID).Msg("Depth hub started")
	return nil
}

// Stop ends the broadcast loop and disconnects every client.
func (h *DepthHub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	done := h.done
	h.mu.Unlock()

	<-done

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	logger.WithComponent("depth-hub").Info().
		Uint64("sent", h.sent.Load()).
		Uint64("dropped", h.dropped.Load()).
		Msg("Depth hub stopped")
	return nil
}

func (h *DepthHub) Name() string { return "Depth websocket hub" }

func (h *DepthHub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Consume queues p for broadcast. Packets are dropped when the queue is
// full so a slow client never stalls the graph.
func (h *DepthHub) Consume(stream string, p graph.Packet) error {
	msg, err := NewMessage(stream, p)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return fmt.Errorf("depth hub not running")
	}
	h.latest[stream] = msg
	h.streams[stream] = struct{}{}
	select {
	case h.queue <- msg:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Latest returns the most recent message per stream, sorted by stream.
func (h *DepthHub) Latest() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latestLocked()
}

func (h *DepthHub) latestLocked() []Message {
	out := make([]Message, 0, len(h.latest))
	for _, m := range h.latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// ClientCount returns the number of connected websocket clients.
func (h *DepthHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *DepthHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.IsRunning() {
		http.Error(w, "depth hub not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("depth-hub").Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// writeMu is held from registration until the hello is written, so a
	// broadcast to the new client always comes after it.
	writeMu := &sync.Mutex{}
	writeMu.Lock()
	h.mu.Lock()
	h.clients[conn] = writeMu
	hello := Hello{Type: "hello", RunID: h.runID, Latest: h.latestLocked()}
	for s := range h.streams {
		hello.Streams = append(hello.Streams, s)
	}
	count := len(h.clients)
	h.mu.Unlock()
	sort.Strings(hello.Streams)

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(hello)
	writeMu.Unlock()
	if err != nil {
		h.removeClient(conn)
		return
	}

	logger.WithComponent("depth-hub").Info().
		Str("remote", r.RemoteAddr).
		Int("clients", count).
		Msg("Client connected")

	go h.readLoop(conn, writeMu)
}

// readLoop keeps the connection alive and discards client messages.
func (h *DepthHub) readLoop(conn *websocket.Conn, writeMu *sync.Mutex) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *DepthHub) broadcast(ctx context.Context, queue <-chan Message, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			payload, err := json.Marshal(msg)
			if err != nil {
				h.dropped.Add(1)
				logger.WithComponent("depth-hub").Warn().
					Err(err).
					Str("stream", msg.Stream).
					Msg("Failed to encode message")
				continue
			}
			// Writes happen outside h.mu so Consume never waits on a client.
			h.mu.Lock()
			clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
			for conn, writeMu := range h.clients {
				clients[conn] = writeMu
			}
			h.mu.Unlock()

			var stale []*websocket.Conn
			for conn, writeMu := range clients {
				if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
					continue
				}
				h.sent.Add(1)
			}
			for _, conn := range stale {
				h.removeClient(conn)
			}
		}
	}
}

func (h *DepthHub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	if ok {
		logger.WithComponent("depth-hub").Debug().Int("clients", count).Msg("Client removed")
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
