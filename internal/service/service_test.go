package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/session"
)

func TestPanelServiceSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPanelService(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	panels := s.List()
	if len(panels) != 3 {
		t.Fatalf("seeded %d panels, want 3", len(panels))
	}
	p, err := s.Get("street_condition")
	if err != nil {
		t.Fatal(err)
	}
	plan, err := p.Plan(PlanDefaults{BatchCount: 10, Delay: 25 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Toggles["priority"]; len(got) != 1 || got[0] != layer.Concern {
		t.Errorf("priority toggle = %v", got)
	}
	rules := p.Layers[1].Concern.Rules
	if len(rules) != 2 || rules[0].Reason != "Poor Condition" || rules[1].Reason != "Floodplain Intersection" {
		t.Errorf("street rules = %+v", rules)
	}

	if _, err := os.Stat(filepath.Join(dir, "panels", "street_condition.yaml")); err != nil {
		t.Errorf("default not written to disk: %v", err)
	}
}

func TestPanelServiceCRUD(t *testing.T) {
	dir := t.TempDir()
	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	s, err := NewPanelService(dir, bus)
	if err != nil {
		t.Fatal(err)
	}

	created, err := s.Create(PanelConfig{
		Name: "Transit Access",
		Layers: []session.LayerSpec{
			{Layer: layer.Transit, Dataset: "transit_stops", Visible: true},
		},
		Toggles: []Toggle{{Name: "transit", Layers: []layer.Name{layer.Transit}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "transit_access" {
		t.Errorf("ID = %q", created.ID)
	}
	if ev := <-events; ev.Resource != "panels" || ev.Action != "created" || ev.ID != "transit_access" {
		t.Errorf("event = %+v", ev)
	}

	if _, err := s.Create(created); err == nil {
		t.Error("duplicate create accepted")
	}

	created.BatchDelay = "5ms"
	if _, err := s.Update("transit_access", created); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewPanelService(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Get("transit_access")
	if err != nil {
		t.Fatal(err)
	}
	if got.BatchDelay != "5ms" || got.Layers[0].Dataset != "transit_stops" {
		t.Errorf("reloaded = %+v", got)
	}

	if err := s.Delete("transit_access"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("transit_access"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := s.Delete("transit_access"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if _, err := s.Update("nope", created); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("update missing: %v", err)
	}
}

func TestPanelServiceRejectsInvalidPlan(t *testing.T) {
	s, err := NewPanelService(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Create(PanelConfig{
		Name:    "Broken",
		Layers:  []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}},
		Toggles: []Toggle{{Name: "crashes", Layers: []layer.Name{layer.Crash}}},
	})
	if !errors.Is(err, session.ErrInvalidPlan) {
		t.Errorf("got %v, want ErrInvalidPlan", err)
	}

	_, err = s.Create(PanelConfig{
		Name:       "Bad Delay",
		Layers:     []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}},
		BatchDelay: "soon",
	})
	if err == nil {
		t.Error("bad delay accepted")
	}
}

func TestPanelServiceRejectsUnsafeID(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	s, err := NewPanelService(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	layers := []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}}

	for _, id := range []string{"../../escaped", "../escaped", "a/b", "Upper", "dot.yaml", strings.Repeat("x", 101)} {
		if _, err := s.Create(PanelConfig{ID: id, Name: "Escape", Layers: layers}); !errors.Is(err, ErrInvalidPanelID) {
			t.Errorf("Create(%q): got %v, want ErrInvalidPanelID", id, err)
		}
		if _, err := s.Update(id, PanelConfig{Name: "Escape", Layers: layers}); !errors.Is(err, ErrInvalidPanelID) {
			t.Errorf("Update(%q): got %v, want ErrInvalidPanelID", id, err)
		}
	}
	for _, path := range []string{filepath.Join(root, "escaped.yaml"), filepath.Join(dataDir, "escaped.yaml")} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s written outside the panels dir", path)
		}
	}

	// names are sanitised into valid IDs
	p, err := s.Create(PanelConfig{Name: "../Flood Risk!", Layers: layers})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "flood_risk" {
		t.Errorf("ID = %q", p.ID)
	}
}

func TestPanelServiceRejectsUnsafeIDOnDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "panels"), 0755); err != nil {
		t.Fatal(err)
	}
	data := []byte("id: ../../x\nname: X\nlayers:\n  - {layer: street, dataset: streets}\n")
	if err := os.WriteFile(filepath.Join(dir, "panels", "x.yaml"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPanelService(dir, nil); !errors.Is(err, ErrInvalidPanelID) {
		t.Errorf("got %v, want ErrInvalidPanelID", err)
	}
}

func TestPanelServiceRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "panels"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "panels", "x.yaml"), []byte("layers: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPanelService(dir, nil); err == nil {
		t.Error("unparsable panel file accepted")
	}
}

func TestDatasetServiceList(t *testing.T) {
	dir := t.TempDir()
	ds := NewDatasetService(dir)

	files, err := ds.List()
	if err != nil || len(files) != 0 {
		t.Fatalf("empty dir: %v, %v", files, err)
	}

	if err := os.MkdirAll(ds.Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	for name, size := range map[string]int{
		"streets.json":    10,
		"streets.csv":     2048,
		"crashes.csv":     5,
		"notes.txt":       1,
		"parcels.parquet": 3,
	} {
		if err := os.WriteFile(filepath.Join(ds.Dir(), name), make([]byte, size), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err = ds.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Fatalf("listed %d files, want 4: %+v", len(files), files)
	}

	f, err := ds.Find("streets")
	if err != nil {
		t.Fatal(err)
	}
	if f.File != "streets.json" || !f.Loadable {
		t.Errorf("Find(streets) = %+v", f)
	}
	f, err = ds.Find("crashes")
	if err != nil || f.Loadable || f.FileType != "CSV" {
		t.Errorf("Find(crashes) = %+v, %v", f, err)
	}
	if _, err := ds.Find("nope"); err == nil {
		t.Error("missing dataset found")
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		12:              "12 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatSize(in); got != want {
			t.Errorf("formatSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	for i := 0; i < 40; i++ {
		bus.Publish(Event{Resource: "sessions", Action: "ready"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d, want %d", len(ch), cap(ch))
	}
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
}
