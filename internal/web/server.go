// Package web serves the REST API and the event WebSocket of the station.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"civ-go-home/internal/automation"
	"civ-go-home/internal/station"
	"civ-go-home/internal/store"
)

// requestTimeout bounds one station request made on behalf of an HTTP client.
const requestTimeout = 5 * time.Second

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket and CORS origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithStore enables the trace archive endpoints.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) {
		s.store = st
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the API.
type Server struct {
	station        *station.Station
	store          store.Store
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the web server and starts forwarding station events to
// WebSocket clients.
func NewServer(st *station.Station, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		station: st,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = st.Events().OnAll(func(event station.Event) {
		s.wsHub.Broadcast(event.Radio, event)
	})

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Radios
	s.mux.HandleFunc("GET /api/radios", s.handleAPIListRadios)
	s.mux.HandleFunc("GET /api/radios/{name}", s.handleAPIGetRadio)
	s.mux.HandleFunc("POST /api/radios/{name}/power", s.handleAPISetPower)
	s.mux.HandleFunc("POST /api/radios/{name}/mode", s.handleAPISetMode)
	s.mux.HandleFunc("POST /api/radios/{name}/clock", s.handleAPISyncClock)

	// Bus trace and archive
	s.mux.HandleFunc("GET /api/trace", s.handleAPIGetTrace)
	s.mux.HandleFunc("DELETE /api/trace", s.handleAPIClearTrace)
	s.mux.HandleFunc("POST /api/traces", s.handleAPIArchiveTrace)
	s.mux.HandleFunc("GET /api/traces", s.handleAPIListTraces)
	s.mux.HandleFunc("GET /api/traces/{id}", s.handleAPIGetArchivedTrace)
	s.mux.HandleFunc("DELETE /api/traces/{id}", s.handleAPIDeleteArchivedTrace)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)
	s.mux.HandleFunc("POST /api/automations/run", s.handleAPIRunLuaCode)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket stays open: browsers cannot set headers on the upgrade.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		if subtle.ConstantTimeCompare([]byte(requestKey(r)), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// requestKey returns the X-API-Key header or the bearer token.
func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write json response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStationError maps station and store errors to HTTP statuses.
func (s *Server) writeStationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, station.ErrUnknownRadio), errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, station.ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, station.ErrRadioOff):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, station.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "station did not answer in time")
	default:
		s.logger.Error(op, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	return json.NewDecoder(r.Body).Decode(v)
}
