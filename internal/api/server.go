package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// ConnectionStats is the slice of the websocket registry the API reports.
type ConnectionStats interface {
	GetStats() map[string]int64
}

// Deps are the collaborators behind the HTTP surface. Store may be nil when
// persistence is disabled.
type Deps struct {
	Sessions       *session.Registry
	Connections    ConnectionStats
	Store          interfaces.WorkspaceStore
	Archive        interfaces.ChatArchive
	Verifier       interfaces.TokenVerifier
	WebSocket      http.HandlerFunc
	AllowedOrigins []string
	StoreTimeout   time.Duration
	MaxBodyBytes   int64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No business logic: rooms are read from the session registry, workspaces from the store
type Server struct {
	deps    Deps
	engine  *gin.Engine
	started time.Time
}

func NewServer(deps Deps) *Server {
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 5 * time.Second
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Logger(), gin.Recovery())
	s.engine.Use(OriginFilter(s.deps.AllowedOrigins))

	s.engine.GET("/health", s.healthCheck)

	// Authentication for the socket happens in its join-session message
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.WebSocket))
	}

	apiGroup := s.engine.Group("/api", JWTAuth(s.deps.Verifier))
	{
		apiGroup.GET("/rooms", s.listRooms)
		apiGroup.GET("/rooms/:code", s.getRoom)
		apiGroup.GET("/rooms/:code/chat", s.chatHistory)
		apiGroup.GET("/workspaces/:code", s.loadWorkspace)
		apiGroup.PUT("/workspaces/:code", s.saveWorkspace)
	}
}

// ServeHTTP lets the server be mounted on a plain http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type RoomSummary struct {
	Code             string    `json:"code"`
	TeacherUserID    string    `json:"teacherUserId"`
	CreatedAt        time.Time `json:"createdAt"`
	ParticipantCount int       `json:"participantCount"`
	CallMemberCount  int       `json:"callMemberCount"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Uptime      string           `json:"uptime"`
	Storage     string           `json:"storage"`
	Connections map[string]int64 `json:"connections,omitempty"`
	Sessions    session.Stats    `json:"sessions"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the store is unreachable
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.StoreTimeout)
	defer cancel()

	status := "healthy"
	storage := "disabled"
	if s.deps.Store != nil {
		storage = "healthy"
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			storage = "error: " + err.Error()
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Storage:   storage,
		Sessions:  s.deps.Sessions.GetStats(),
	}
	if s.deps.Connections != nil {
		response.Connections = s.deps.Connections.GetStats()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// GET /api/rooms - teachers see the rooms they created
func (s *Server) listRooms(c *gin.Context) {
	identity := identityFrom(c)
	if !identity.IsTeacher() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only teachers can list rooms"})
		return
	}

	rooms := []RoomSummary{}
	for _, room := range s.deps.Sessions.Rooms() {
		if room.TeacherUserID() != identity.UserID {
			continue
		}
		info := room.Snapshot()
		rooms = append(rooms, RoomSummary{
			Code:             info.Code,
			TeacherUserID:    info.TeacherUserID,
			CreatedAt:        info.CreatedAt,
			ParticipantCount: len(info.Participants),
			CallMemberCount:  len(info.CallMembers),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GET /api/rooms/:code - visible to the room teacher and current members
func (s *Server) getRoom(c *gin.Context) {
	identity := identityFrom(c)
	room, ok := s.deps.Sessions.Room(c.Param("code"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if room.TeacherUserID() != identity.UserID && !room.HasUser(identity.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
		return
	}
	c.JSON(http.StatusOK, room.Snapshot())
}

// GET /api/rooms/:code/chat?limit= - archived chat beyond the in-room window
func (s *Server) chatHistory(c *gin.Context) {
	if s.deps.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chat archive disabled"})
		return
	}
	identity := identityFrom(c)
	room, ok := s.deps.Sessions.Room(c.Param("code"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if room.TeacherUserID() != identity.UserID && !room.HasUser(identity.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.StoreTimeout)
	defer cancel()
	messages, err := s.deps.Archive.GetChatHistory(ctx, room.Code(), room.RoomID(), limit)
	if err != nil {
		log.Printf("Chat history failed: room=%s: %v", room.Code(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chat history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GET /api/workspaces/:code?userId= - own workspace, or another user's when the
// live room's access rule allows it
func (s *Server) loadWorkspace(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Workspace storage disabled"})
		return
	}
	identity := identityFrom(c)
	code := types.NormalizeSessionCode(c.Param("code"))
	if !types.IsValidSessionCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": types.ErrInvalidSessionCode.Error()})
		return
	}

	target := c.Query("userId")
	if target == "" {
		target = identity.UserID
	}
	if target != identity.UserID {
		room, ok := s.deps.Sessions.Room(code)
		if !ok || !room.CanLoadWorkspace(identity.UserID, target) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to read this workspace"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.StoreTimeout)
	defer cancel()
	ws, err := s.deps.Store.LoadWorkspace(ctx, code, target)
	if errors.Is(err, interfaces.ErrWorkspaceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if err != nil {
		log.Printf("Workspace load failed: room=%s user=%s: %v", code, target, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load workspace"})
		return
	}
	c.JSON(http.StatusOK, ws)
}

// PUT /api/workspaces/:code - body is the opaque workspace JSON
func (s *Server) saveWorkspace(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Workspace storage disabled"})
		return
	}
	identity := identityFrom(c)
	code := types.NormalizeSessionCode(c.Param("code"))
	if !types.IsValidSessionCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": types.ErrInvalidSessionCode.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Workspace too large"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.StoreTimeout)
	defer cancel()
	if err := s.deps.Store.SaveWorkspace(ctx, code, identity.UserID, json.RawMessage(body)); err != nil {
		log.Printf("Workspace save failed: room=%s user=%s: %v", code, identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionCode": code, "savedAt": time.Now()})
}
