package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/radio"
	"civ-go-home/internal/store"
)

func (s *Server) handleAPIListRadios(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.station.Snapshots())
}

func (s *Server) handleAPIGetRadio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.station.Snapshot(r.PathValue("name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "radio not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type powerRequest struct {
	State string `json:"state"` // on, off, toggle
}

func (s *Server) handleAPISetPower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pr, err := radio.ParsePowerRequest(req.State)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "state must be on, off or toggle")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	name := r.PathValue("name")
	state, err := s.station.SetPower(ctx, name, pr)
	if err != nil {
		s.writeStationError(w, "set power", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "power": state.String()})
}

type modeRequest struct {
	Mode string `json:"mode"` // voice, data
}

func (s *Server) handleAPISetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := civ.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "mode must be voice or data")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.station.SetMode(ctx, r.PathValue("name"), mode); err != nil {
		s.writeStationError(w, "set mode", err)
		return
	}
	// The sequence runs on the following ticks; progress arrives as events.
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": mode.String()})
}

func (s *Server) handleAPISyncClock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.station.SyncClock(ctx, r.PathValue("name")); err != nil {
		s.writeStationError(w, "sync clock", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wantsJSON reports whether the client asked for JSON with ?format=json or
// the Accept header.
func wantsJSON(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "json"
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (s *Server) handleAPIGetTrace(w http.ResponseWriter, r *http.Request) {
	tr := s.station.Trace()
	if tr == nil {
		s.writeError(w, http.StatusNotFound, "bus trace disabled")
		return
	}
	if wantsJSON(r) {
		s.writeJSON(w, http.StatusOK, tr.Entries())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := tr.WriteTo(w); err != nil {
		s.logger.Debug("write trace", "err", err)
	}
}

func (s *Server) handleAPIClearTrace(w http.ResponseWriter, r *http.Request) {
	tr := s.station.Trace()
	if tr == nil {
		s.writeError(w, http.StatusNotFound, "bus trace disabled")
		return
	}
	tr.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type archiveTraceRequest struct {
	Note  string `json:"note"`
	Clear bool   `json:"clear"`
}

func (s *Server) handleAPIArchiveTrace(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "trace archive not configured")
		return
	}
	tr := s.station.Trace()
	if tr == nil {
		s.writeError(w, http.StatusNotFound, "bus trace disabled")
		return
	}

	var req archiveTraceRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rec := &store.TraceRecord{Note: req.Note, Entries: tr.Entries()}
	if err := s.store.SaveTrace(rec); err != nil {
		s.writeStationError(w, "archive trace", err)
		return
	}
	if req.Clear {
		tr.Clear()
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleAPIListTraces(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	traces, err := s.store.ListTraces()
	if err != nil {
		s.writeStationError(w, "list traces", err)
		return
	}
	s.writeJSON(w, http.StatusOK, traces)
}

func (s *Server) handleAPIGetArchivedTrace(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	rec, err := s.store.GetTrace(r.PathValue("id"))
	if err != nil {
		s.writeStationError(w, "get trace", err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, e := range rec.Entries {
			io.WriteString(w, e.String()+"\n")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIDeleteArchivedTrace(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err := s.store.DeleteTrace(r.PathValue("id")); err != nil {
		s.writeStationError(w, "delete trace", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
