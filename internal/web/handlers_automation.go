package web

import (
	"errors"
	"net/http"

	"civ-go-home/internal/automation"
)

// scriptView adds the VM state to a stored script.
type scriptView struct {
	*automation.Script
	Running bool `json:"running"`
}

func (s *Server) view(sc *automation.Script) scriptView {
	running := false
	if s.autoEngine != nil {
		running = s.autoEngine.Running()[sc.ID]
	}
	return scriptView{Script: sc, Running: running}
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]scriptView, 0, len(scripts))
	for _, sc := range scripts {
		views = append(views, s.view(sc))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// getScript loads the script named in the path, writing the error response
// itself when it fails.
func (s *Server) getScript(w http.ResponseWriter, r *http.Request) (*automation.Script, bool) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil, false
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil, false
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return sc, true
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if sc, ok := s.getScript(w, r); ok {
		s.writeJSON(w, http.StatusOK, s.view(sc))
	}
}

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return
	}

	var req saveAutomationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta:    automation.ScriptMeta{Name: req.Name, Description: req.Description, Enabled: req.Enabled},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(saved)
	s.writeJSON(w, http.StatusCreated, s.view(saved))
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.getScript(w, r)
	if !ok {
		return
	}

	var req saveAutomationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		existing.Meta.Name = req.Name
	}
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.logger.Error("update script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(saved)
	s.writeJSON(w, http.StatusOK, s.view(saved))
}

// reload restarts or stops the VM of a saved script.
func (s *Server) reload(sc *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if !sc.Meta.Enabled {
		s.autoEngine.StopScript(sc.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(sc.ID); err != nil {
		s.logger.Error("reload script", "id", sc.ID, "err", err)
	}
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}

	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		if errors.Is(err, automation.ErrScriptNotFound) {
			s.writeError(w, http.StatusNotFound, "script not found")
			return
		}
		s.logger.Error("delete script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.getScript(w, r)
	if !ok {
		return
	}

	sc.Meta.Enabled = !sc.Meta.Enabled
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.logger.Error("toggle script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(saved)
	s.writeJSON(w, http.StatusOK, s.view(saved))
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(r.PathValue("id")))
}

func (s *Server) handleAPIRunLuaCode(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
