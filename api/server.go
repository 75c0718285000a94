package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/lidardrive/game/config"
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
	"github.com/wricardo/mcp-training/lidardrive/transport/websocket"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStaticDir serves files from dir for every path the API does not own.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// Server represents the REST API server
type Server struct {
	service   service.GameService
	hub       *websocket.Hub
	router    *mux.Router
	logger    zerolog.Logger
	staticDir string
}

// NewServer creates a new API server
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "api").Logger()

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	// Unified sessions for multi-session view (must be before {id} pattern)
	api.HandleFunc("/sessions/unified", s.handleUnifiedSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Simulation
	api.HandleFunc("/sessions/{id}/frame", s.handleGetFrame).Methods("GET")
	api.HandleFunc("/sessions/{id}/step", s.handleStep).Methods("POST")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/probe", s.handleProbe).Methods("GET")

	// Real-time play
	api.HandleFunc("/sessions/{id}/input", s.handleSetInput).Methods("PUT", "POST")
	api.HandleFunc("/sessions/{id}/realtime/start", s.handleStartRealtime).Methods("POST")
	api.HandleFunc("/sessions/{id}/realtime/stop", s.handleStopRealtime).Methods("POST")

	// Tracks
	api.HandleFunc("/tracks", s.handleListTracks).Methods("GET")
	api.HandleFunc("/tracks", s.handleCreateTrack).Methods("POST")
	api.HandleFunc("/tracks/{name}", s.handleGetTrack).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade needs the original writer to hijack.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors to status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrTrackNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidTrack), errors.Is(err, config.ErrInvalidName):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) broadcast(sessionID string, f *engine.Frame) {
	if s.hub != nil && f != nil {
		s.hub.BroadcastFrame(sessionID, f)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID string `json:"track_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.service.CreateSession(r.Context(), req.TrackID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	total := len(sessions)

	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "accessed" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		}

		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Simulation Handlers

func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.service.GetFrame(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, frame)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req struct {
		Input physics.Input `json:"input"`
		Ticks int           `json:"ticks"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ticks < 0 {
		respondError(w, http.StatusBadRequest, "ticks must not be negative")
		return
	}

	result, err := s.service.Step(r.Context(), sessionID, req.Input, req.Ticks)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	s.broadcast(sessionID, result.Frame)

	s.logger.Info().
		Str("session", sessionID).
		Int("ticks", result.TicksExecuted).
		Int("requested", result.RequestedTicks).
		Str("stop", result.StopReasonCode).
		Float64("x", result.EndPose.X).
		Float64("y", result.EndPose.Y).
		Int("collisions", result.Collisions).
		Msg("step")

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	frame, err := s.service.Reset(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	s.broadcast(sessionID, frame)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Run reset successfully",
		"frame":   frame,
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	x, errX := strconv.Atoi(query.Get("x"))
	y, errY := strconv.Atoi(query.Get("y"))
	if errX != nil || errY != nil {
		respondError(w, http.StatusBadRequest, "x and y must be integers")
		return
	}

	result, err := s.service.Probe(r.Context(), mux.Vars(r)["id"], x, y)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Real-time Handlers

func (s *Server) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input physics.Input `json:"input"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.SetInput(r.Context(), mux.Vars(r)["id"], req.Input); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"input": req.Input})
}

func (s *Server) handleStartRealtime(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := s.service.StartRealtime(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"realtime":   true,
	})
}

func (s *Server) handleStopRealtime(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := s.service.StopRealtime(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"realtime":   false,
	})
}

// Track Handlers

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.service.ListTracks(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".json")

	track, err := s.service.LoadTrack(r.Context(), name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, track)
}

func (s *Server) handleCreateTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID string              `json:"track_id"`
		Track   *engine.TrackConfig `json:"track"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Track == nil {
		respondError(w, http.StatusBadRequest, "track is required")
		return
	}
	if req.TrackID == "" {
		req.TrackID = req.Track.Name
	}

	if err := s.service.SaveTrack(r.Context(), req.TrackID, req.Track); err != nil {
		respondServiceError(w, err)
		return
	}

	s.logger.Info().Str("track", req.TrackID).Msg("track created")
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Track saved successfully",
		"track_id": req.TrackID,
		"track":    req.Track,
	})
}

// handleUnifiedSessions returns several sessions at once for a multi-car
// view, selected by ?sessionIds=a,b or ?trackId=classic.
func (s *Server) handleUnifiedSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var sessions []*service.SessionInfo

	if ids := query.Get("sessionIds"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if session, err := s.service.GetSession(r.Context(), id); err == nil {
				sessions = append(sessions, session)
			}
		}
	} else {
		all, err := s.service.ListSessions(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		trackID := query.Get("trackId")
		for _, session := range all {
			if trackID == "" || session.TrackID == trackID {
				sessions = append(sessions, session)
			}
		}
	}

	trackID := ""
	if len(sessions) > 0 {
		trackID = sessions[0].TrackID
	}

	entries := make([]map[string]interface{}, 0, len(sessions))
	for _, session := range sessions {
		entries = append(entries, map[string]interface{}{
			"session_id":    session.ID,
			"track_id":      session.TrackID,
			"frame":         session.Frame,
			"realtime":      session.Realtime,
			"created_at":    session.CreatedAt,
			"last_accessed": session.LastAccessedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"track_id": trackID,
		"sessions": entries,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	// The session must exist before anyone can watch it.
	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	// Register under the canonical ID the real-time loop broadcasts with
	s.hub.ServeWS(w, r, info.ID)
}
