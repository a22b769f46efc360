//go:build !no_automation

package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"), testLogger())
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
		Meta:    ScriptMeta{Name: "Cellar Alarm!", Description: "cold cellar", Enabled: true},
		LuaCode: `bax.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "cellar_alarm" {
		t.Errorf("id = %q, want cellar_alarm", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != saved.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, saved.Meta)
	}
	if strings.TrimSpace(got.LuaCode) != `bax.log("hello")` {
		t.Errorf("code = %q", got.LuaCode)
	}

	// Same name again gets a suffix.
	again, err := m.Save(&Script{Meta: ScriptMeta{Name: "Cellar Alarm!"}})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != "cellar_alarm_1" {
		t.Errorf("second id = %q, want cellar_alarm_1", again.ID)
	}
}

func TestManagerPlainLuaFile(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.dir, "plain.lua")
	if err := os.WriteFile(path, []byte("\nbax.log(\"x\")\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 {
		t.Fatalf("list count = %d, want 1", len(scripts))
	}
	s := scripts[0]
	if s.ID != "plain" || s.Meta.Name != "plain" || !s.Meta.Enabled {
		t.Errorf("plain script = %+v", s)
	}
	if s.LuaCode != "bax.log(\"x\")\n" {
		t.Errorf("code = %q", s.LuaCode)
	}
}

func TestManagerSkipsBadMetadata(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(filepath.Join(m.dir, "bad.lua"), []byte("-- {not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerInvalidIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) should fail", id)
		}
	}
	if _, err := m.Save(&Script{ID: "../escape"}); err == nil {
		t.Error("Save with traversal id should fail")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello_world"},
		{"  --Trim--  ", "trim"},
		{"Ünïcode ok", "n_code_ok"},
		{strings.Repeat("a", 50), strings.Repeat("a", 40)},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
