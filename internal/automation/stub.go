//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"civ-go-home/internal/station"
)

// ErrScriptNotFound is returned for a script ID with no file behind it.
var ErrScriptNotFound = errors.New("automation: script not found")

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation script.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// Config bounds script execution (stub).
type Config struct {
	CallTimeout time.Duration
	RunTimeout  time.Duration
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

func (m *Manager) List() ([]*Script, error) { return nil, nil }
func (m *Manager) Get(id string) (*Script, error) { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error { return nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *station.Station, _ *Manager, _ *slog.Logger, _ Config) *Engine {
	return &Engine{}
}

func (e *Engine) Start() {}
func (e *Engine) Stop() {}
func (e *Engine) Running() map[string]bool { return nil }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string) {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
