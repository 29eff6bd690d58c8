package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// WSHub fans station events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan wsMessage

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	radio string // only events of this radio; empty for all
}

type wsMessage struct {
	radio string
	body  any
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan wsMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "radio", c.radio, "clients", n)
}

// drop closes the send channel of a registered client. Caller holds mu.
func (h *WSHub) drop(c *wsClient) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	h.drop(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client disconnected", "clients", n)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.drop(c)
	}
}

// wants reports whether c follows events of radio.
func (c *wsClient) wants(radio string) bool {
	return c.radio == "" || radio == "" || c.radio == radio
}

// fanout encodes msg once and queues it for every interested client.
// Clients whose queue is full are evicted.
func (h *WSHub) fanout(msg wsMessage) {
	data, err := json.Marshal(msg.body)
	if err != nil {
		h.logger.Error("ws marshal", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(msg.radio) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.drop(c)
			h.logger.Warn("ws client evicted, send queue full", "radio", c.radio)
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues msg for every client following radio, or for every
// client when radio is empty. It never blocks the caller.
func (h *WSHub) Broadcast(radio string, msg any) {
	select {
	case h.broadcast <- wsMessage{radio: radio, body: msg}:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// handleWS streams events as JSON text messages. ?radio=<name> limits the
// stream to one radio.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	radio := r.URL.Query().Get("radio")
	if radio != "" {
		if _, err := s.station.Snapshot(radio); err != nil {
			s.writeError(w, http.StatusNotFound, "radio not found")
			return
		}
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{conn: conn, send: make(chan []byte, 64), radio: radio}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump drains client frames until the connection or the hub closes.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
