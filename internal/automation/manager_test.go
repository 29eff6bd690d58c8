//go:build !no_automation

package automation

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Data Mode At Night", Description: "FT8 after dark", Enabled: true},
		LuaCode: `civ.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "data_mode_at_night" {
		t.Errorf("id = %q, want data_mode_at_night", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Data Mode At Night" {
		t.Errorf("name = %q", got.Meta.Name)
	}
	if got.Meta.Description != "FT8 after dark" {
		t.Errorf("description = %q", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if strings.TrimSpace(got.LuaCode) != `civ.log("hello")` {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{ID: "my_script", Meta: ScriptMeta{Name: "Mine"}, LuaCode: `civ.log("v1")`})
	if err != nil {
		t.Fatal(err)
	}
	saved.LuaCode = `civ.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `civ.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerListSorted(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}, LuaCode: `civ.log("x")`}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
	if scripts[0].ID != "alpha" || scripts[2].ID != "gamma" {
		t.Errorf("order: %s %s %s", scripts[0].ID, scripts[1].ID, scripts[2].ID)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "ToDelete"}, LuaCode: `civ.log("bye")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestManagerRejectsBadIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"..", "a/b", `a\b`, "x..y"} {
		if _, err := m.Get(id); err == nil || errors.Is(err, ErrScriptNotFound) {
			t.Errorf("get %q: %v", id, err)
		}
		if _, err := m.Save(&Script{ID: id}); err == nil {
			t.Errorf("save %q: expected error", id)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `civ.log("1")`})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `civ.log("2")`})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID == s2.ID {
		t.Errorf("expected unique IDs, got %q for both", s1.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"Clock On Power Up","description":"Set the 7300 clock","enabled":true}

civ.on("power_state", {radio="hf", to="on"}, function(event)
    civ.sync_clock("hf")
end)
`
	path := filepath.Join(dir, "clock.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: testLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "clock" {
		t.Errorf("id = %q, want clock", s.ID)
	}
	if s.Meta.Name != "Clock On Power Up" || !s.Meta.Enabled {
		t.Errorf("meta = %+v", s.Meta)
	}
	if !strings.HasPrefix(s.LuaCode, `civ.on("power_state"`) {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestParseScriptWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.lua")
	if err := os.WriteFile(path, []byte("civ.log(\"x\")\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := &Manager{dir: dir, logger: testLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Enabled || s.Meta.Name != "" {
		t.Errorf("meta = %+v", s.Meta)
	}
	if s.LuaCode != "civ.log(\"x\")\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestSerializeScript(t *testing.T) {
	content := serializeScript(&Script{
		ID:      "test",
		Meta:    ScriptMeta{Name: "Test", Description: "desc", Enabled: true},
		LuaCode: `civ.log("hi")`,
	})
	if !strings.HasPrefix(content, `-- {"name":"Test","description":"desc","enabled":true}`) {
		t.Errorf("metadata line: %q", content)
	}
	if !strings.HasSuffix(content, "civ.log(\"hi\")\n") {
		t.Errorf("lua code: %q", content)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Voice On 2m", "voice_on_2m"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
