package websocket

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liveclass/internal/router"
	"liveclass/internal/session"
)

// Options tunes the websocket transport.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultOptions matches the classroom defaults: 30s ping, 60s read deadline.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBuffer:     256,
		MaxMessageSize: 1 << 20,
	}
}

// Handler upgrades HTTP requests and runs one read loop per connection
// ARCHITECTURAL DISCOVERY: Authentication happens in-band (join-session carries
// the token), so the upgrade itself only checks the origin
type Handler struct {
	router   *router.Router
	registry *Registry
	opts     Options
	upgrader websocket.Upgrader

	loops sync.WaitGroup
}

func NewHandler(r *router.Router, registry *Registry, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{router: r, registry: registry, opts: opts}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin when none are configured (development).
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and serves the connection until it closes
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(uuid.New().String(), conn, h.opts.SendBuffer, h.opts.WriteTimeout)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	log.Printf("Connection opened: connection=%s remote=%s", wsConn.ID(), r.RemoteAddr)
	h.loops.Add(1)
	go func() {
		defer h.loops.Done()
		h.handleConnection(wsConn)
	}()
}

// Wait blocks until every read loop has finished its disconnect cleanup.
func (h *Handler) Wait() {
	h.loops.Wait()
}

// handleConnection runs the read loop. Frames are dispatched in arrival order,
// which preserves per-connection ordering into the room.
func (h *Handler) handleConnection(conn *Connection) {
	participant := session.NewParticipant(conn.ID(), conn)

	defer func() {
		h.router.Disconnect(participant)
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Connection closed: connection=%s user=%s", conn.ID(), participant.UserID())
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: connection=%s: %v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.router.HandleFrame(conn.Context(), participant, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Context().Done():
			return
		}
	}
}
