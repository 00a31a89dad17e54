package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const heartbeatInterval = 15 * time.Second

// Server exposes the HTTP API for managing crawl sessions.
type Server struct {
	manager *SessionManager
	mux     *http.ServeMux
	logger  *slog.Logger
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(manager *SessionManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager: manager,
		mux:     http.NewServeMux(),
		logger:  logger.With("component", "api"),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /openapi.yaml", s.handleOpenAPI)
	s.mux.HandleFunc("GET /docs", s.handleDocs)

	s.mux.HandleFunc("GET /api/crawls", s.listCrawls)
	s.mux.HandleFunc("POST /api/crawls", s.createCrawl)
	s.mux.HandleFunc("GET /api/crawls/{id}", s.getCrawl)
	s.mux.HandleFunc("POST /api/crawls/{id}/cancel", s.cancelCrawl)
	s.mux.HandleFunc("GET /api/crawls/{id}/events", s.streamEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListSessions())
}

func (s *Server) createCrawl(w http.ResponseWriter, r *http.Request) {
	var req CreateCrawlRequest
	if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json payload: %v", err), http.StatusBadRequest)
		return
	}

	session, err := s.manager.StartSession(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, session.Snapshot())
	case errors.Is(err, ErrSessionRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrMaxConcurrency):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.manager.GetSessionDetail(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	err := s.manager.CancelSession(r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrSessionNotFound):
		http.NotFound(w, r)
	default:
		http.Error(w, err.Error(), http.StatusConflict)
	}
}

// streamEvents relays session events as Server-Sent Events until the session
// finishes or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.manager.GetSession(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := jsonAPI.Marshal(evt)
			if err != nil {
				s.logger.Debug("encode event failed", "session_id", id, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonAPI.NewEncoder(w).Encode(payload)
}
