package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/session"
)

func TestPopupEscapes(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	got := r.Popup(&layer.Popup{Title: "Street of Concern", Lines: []string{"Poor Condition", "<script>"}})
	for _, want := range []string{"<strong>Street of Concern</strong>", "<div>Poor Condition</div>", "&lt;script&gt;"} {
		if !strings.Contains(got, want) {
			t.Errorf("popup %q missing %q", got, want)
		}
	}
	if r.Popup(nil) != "" {
		t.Error("nil popup rendered")
	}
}

func TestProgressFragment(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	html, err := r.Render("progress", session.Progress{Stage: session.StageLoadingLayer, Layer: 2, Label: "Loading street (2/3)", Percent: 54.6})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`data-stage="loading-layer-2"`, "width: 55%", "Loading street (2/3)"} {
		if !strings.Contains(html, want) {
			t.Errorf("progress %q missing %q", html, want)
		}
	}
}

func TestTogglesFragment(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	html, err := r.Render("toggles", map[string]any{
		"Session": "street_condition-1",
		"Toggles": []map[string]any{
			{"Name": "streets", "Label": "Streets", "Visible": true},
			{"Name": "priority", "Label": "Streets of Concern", "Visible": false},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "/api/v1/sessions/street_condition-1/layers/priority") {
		t.Errorf("toggle url missing: %s", html)
	}
	if strings.Count(html, "checked") != 1 {
		t.Errorf("expected one checked toggle: %s", html)
	}
}

func TestReload(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "popup.html"), []byte(`{{define "popup"}}[{{.Title}}]{{end}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(dir); err != nil {
		t.Fatal(err)
	}
	if got := r.Popup(&layer.Popup{Title: "x"}); got != "[x]" {
		t.Errorf("reloaded popup = %q", got)
	}
	if _, err := r.Render("progress", session.Progress{Label: "Loading", Percent: 50}); err != nil {
		t.Errorf("built-in progress fragment lost on reload: %v", err)
	}
	if err := r.Reload(filepath.Join(dir, "missing")); err == nil {
		t.Error("reload from empty dir succeeded")
	}
}
