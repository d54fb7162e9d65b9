package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elijahnyp/strip_controller/animation"
	"github.com/elijahnyp/strip_controller/strip"
	. "github.com/elijahnyp/strip_controller/util"
)

const (
	MSG_STRIP  = "strip"
	MSG_STATUS = "status"

	maxCommandBody = 1 << 16
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the monitor is served to the local network only
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub maintains the set of active clients and broadcasts messages
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient
	stopped    chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stopped:    make(chan struct{}),
	}
}

// Run serves the hub until ctx ends, then disconnects every client.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate sends an update to all connected clients
func (h *WSHub) BroadcastUpdate(messageType string, data interface{}) {
	select {
	case h.broadcast <- WebSocketMessage{Type: messageType, Data: data}:
	default:
		// Channel is full, skip this update
	}
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return
		}
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket handles websocket requests from the peer. The first message
// is always the current strip state.
func (h *WSHub) ServeWebSocket(w http.ResponseWriter, r *http.Request, first ...WebSocketMessage) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WebSocketMessage, 256),
		hub:  h,
	}
	for _, m := range first {
		client.send <- m
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		_ = conn.Close() //nolint:errcheck // hub is gone
		return
	}

	go client.writePump()
	go client.readPump()
}

// StripMonitor remembers the last strip state the device accepted and fans
// it out to websocket clients. Its Observe method is the engine observer.
type StripMonitor struct {
	last atomic.Pointer[strip.Snapshot]
	hub  *WSHub
}

func NewStripMonitor(hub *WSHub, n int) *StripMonitor {
	m := &StripMonitor{hub: hub}
	m.Reset(n)
	return m
}

// Reset forgets the last state and assumes a dark strip of n pixels.
func (m *StripMonitor) Reset(n int) {
	dark, err := strip.Render(strip.Dark(), n)
	if err != nil {
		dark = strip.Snapshot{}
	}
	m.last.Store(&dark)
}

func (m *StripMonitor) Observe(s strip.Snapshot) {
	m.last.Store(&s)
	if m.hub != nil {
		m.hub.BroadcastUpdate(MSG_STRIP, s)
	}
}

func (m *StripMonitor) Last() strip.Snapshot {
	if s := m.last.Load(); s != nil {
		return *s
	}
	return strip.Snapshot{}
}

// webAPI holds what the HTTP handlers need.
type webAPI struct {
	ctrl    *Controller
	monitor *StripMonitor
	hub     *WSHub
}

func (a *webAPI) register(s *MonitorServer) {
	s.AddHandler("/api/status", a.APIStatus)
	s.AddHandler("/api/strip", a.APIStrip)
	s.AddHandler("/api/command", a.APICommand)
	s.AddHandler("/api/presets", a.APIPresets)
	s.AddHandler("/preview.png", a.HttpPreview)
	s.AddHandler("/ws", a.ServeWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Error encoding response")
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (a *webAPI) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeWebSocket(w, r,
		WebSocketMessage{Type: MSG_STATUS, Data: a.ctrl.Status()},
		WebSocketMessage{Type: MSG_STRIP, Data: a.monitor.Last()},
	)
}

// APIStatus returns the controller status as JSON
func (a *webAPI) APIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

// APIStrip returns the last transmitted strip state
func (a *webAPI) APIStrip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Last())
}

func (a *webAPI) APIPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"presets": a.ctrl.Presets()})
}

// APICommand accepts the same command JSON as the MQTT set topic.
func (a *webAPI) APICommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, apiError{"POST required"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{err.Error()})
		return
	}
	cmd, err := ParseCommand(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{err.Error()})
		return
	}
	if err := a.ctrl.Submit(cmd); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, animation.ErrBusy) {
			status = http.StatusConflict
		}
		writeJSON(w, status, apiError{err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, a.ctrl.Status())
}
