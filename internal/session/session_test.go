package session_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/concern"
	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/session"
	"github.com/joeblew999/plat-citymap/internal/surface"
)

type fakeLoader struct {
	mu    sync.Mutex
	data  map[string]*dataset.Dataset
	fail  map[string]bool
	gates map[string]chan struct{}
	calls []string
}

func (f *fakeLoader) Load(ctx context.Context, name string) (*dataset.Dataset, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	gate := f.gates[name]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[name] {
		return nil, &dataset.FetchError{Dataset: name, Source: "fake", Err: errors.New("connection refused")}
	}
	if ds, ok := f.data[name]; ok {
		return ds, nil
	}
	return dataset.Empty(name), nil
}

func points(name string, n int) *dataset.Dataset {
	ds := &dataset.Dataset{Name: name}
	for i := 0; i < n; i++ {
		ds.Records = append(ds.Records, dataset.Record{
			ID:       fmt.Sprintf("%s-%d", name, i),
			Index:    i,
			Geometry: orb.Point{float64(i), 0},
		})
	}
	return ds
}

type recorder struct {
	mu   sync.Mutex
	seen []session.Progress
}

func (r *recorder) observe(p session.Progress) {
	r.mu.Lock()
	r.seen = append(r.seen, p)
	r.mu.Unlock()
}

func (r *recorder) all() []session.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Progress(nil), r.seen...)
}

func newSession(t *testing.T, loader session.Loader, plan session.Plan, onReady func()) (*session.Session, *surface.Memory) {
	t.Helper()
	mem := surface.NewMemory()
	s, err := session.New(session.Config{
		ID:      "test",
		Surface: mem,
		Loader:  loader,
		Plan:    plan,
		Logger:  zerolog.Nop(),
		OnReady: onReady,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, mem
}

func TestProgressMonotonic(t *testing.T) {
	loader := &fakeLoader{data: map[string]*dataset.Dataset{
		"neighborhoods": points("neighborhoods", 3),
		"streets":       points("streets", 25),
		"crashes":       points("crashes", 7),
	}}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Neighborhood, Dataset: "neighborhoods", Role: session.RoleBase, Visible: true},
			{Layer: layer.Street, Dataset: "streets", Visible: true},
			{Layer: layer.Crash, Dataset: "crashes"},
		},
		BatchCount: 5,
		Delay:      -1,
	}
	s, _ := newSession(t, loader, plan, nil)
	rec := &recorder{}
	s.Observe(rec.observe)

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	seen := rec.all()
	if len(seen) == 0 {
		t.Fatal("no progress observed")
	}
	var keys []string
	last := -1.0
	for _, p := range seen {
		if p.Percent < last {
			t.Fatalf("progress went backwards: %v after %v", p.Percent, last)
		}
		last = p.Percent
		if len(keys) == 0 || keys[len(keys)-1] != p.Key() {
			keys = append(keys, p.Key())
		}
	}
	if last != 100 {
		t.Errorf("final progress %v, want 100", last)
	}
	want := []string{"initializing", "loading-base", "loading-layer-1", "loading-layer-2", "complete"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("stages %v, want %v", keys, want)
	}
	if got := s.Progress(); got.Stage != session.StageComplete || got.Percent != 100 {
		t.Errorf("final readout %+v", got)
	}
	if s.Registry().Count(layer.Street) != 25 || s.Registry().Count(layer.Crash) != 7 {
		t.Errorf("counts %v", s.Registry().Counts())
	}
}

func TestFailedPrimaryStillCompletes(t *testing.T) {
	loader := &fakeLoader{
		data: map[string]*dataset.Dataset{"streets": points("streets", 12)},
		fail: map[string]bool{"floodplains": true},
	}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains", Visible: true},
			{Layer: layer.Street, Dataset: "streets", Visible: true},
		},
		Delay: -1,
	}
	var ready atomic.Int32
	s, _ := newSession(t, loader, plan, func() { ready.Add(1) })

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); !errors.Is(err, session.ErrAlreadyStarted) {
		t.Errorf("second Run: got %v, want ErrAlreadyStarted", err)
	}

	select {
	case <-s.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
	if n := ready.Load(); n != 1 {
		t.Errorf("onReady fired %d times, want 1", n)
	}
	if s.Progress().Stage != session.StageComplete {
		t.Errorf("stage %v", s.Progress().Stage)
	}
	if n := s.Registry().Count(layer.Floodplain); n != 0 {
		t.Errorf("failed layer has %d drawables", n)
	}
	if n := s.Registry().Count(layer.Street); n != 12 {
		t.Errorf("street layer has %d drawables", n)
	}
}

func TestCloseMidBatchFreezesRegistry(t *testing.T) {
	loader := &fakeLoader{data: map[string]*dataset.Dataset{"streets": points("streets", 100)}}
	plan := session.Plan{
		Layers:     []session.LayerSpec{{Layer: layer.Street, Dataset: "streets", Visible: true}},
		BatchCount: 10,
		Delay:      15 * time.Millisecond,
	}
	var ready atomic.Int32
	s, mem := newSession(t, loader, plan, func() { ready.Add(1) })

	midway := make(chan struct{})
	var once sync.Once
	s.Observe(func(p session.Progress) {
		if p.Stage == session.StageLoadingLayer && p.Percent >= 37 {
			once.Do(func() { close(midway) })
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run() }()

	select {
	case <-midway:
	case <-time.After(5 * time.Second):
		t.Fatal("load never reached midway")
	}
	s.Close()

	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error %v, want context.Canceled", err)
	}
	s.Wait()

	frozen := s.Registry().Count(layer.Street)
	drawn := len(mem.Drawn(layer.Street))
	time.Sleep(60 * time.Millisecond)

	if got := s.Registry().Count(layer.Street); got != frozen {
		t.Errorf("count changed after close: %d -> %d", frozen, got)
	}
	if got := len(mem.Drawn(layer.Street)); got != drawn {
		t.Errorf("surface changed after close: %d -> %d", drawn, got)
	}
	if frozen >= 100 {
		t.Errorf("layer fully rendered despite close (%d)", frozen)
	}
	if ready.Load() != 0 {
		t.Error("onReady fired for a closed session")
	}
	if err := s.SetVisible("anything", true); !errors.Is(err, session.ErrUnknownToggle) {
		t.Errorf("unknown toggle after close: %v", err)
	}
}

func TestBackgroundLayerDoesNotGate(t *testing.T) {
	gate := make(chan struct{})
	loader := &fakeLoader{
		data: map[string]*dataset.Dataset{
			"streets": points("streets", 4),
			"transit": points("transit", 6),
		},
		gates: map[string]chan struct{}{"transit": gate},
	}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Street, Dataset: "streets", Visible: true},
			{Layer: layer.Transit, Dataset: "transit", Role: session.RoleBackground},
		},
		Toggles: map[string][]layer.Name{"transit": {layer.Transit}},
		Delay:   -1,
	}
	s, mem := newSession(t, loader, plan, nil)
	rec := &recorder{}
	s.Observe(rec.observe)

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if s.Registry().Count(layer.Transit) != 0 {
		t.Fatal("background layer rendered before its fetch completed")
	}

	// shown while still empty; fills in place
	if err := s.SetVisible("transit", true); err != nil {
		t.Fatal(err)
	}
	close(gate)
	s.Wait()

	if n := s.Registry().Count(layer.Transit); n != 6 {
		t.Errorf("transit count %d, want 6", n)
	}
	if !mem.Visible(layer.Transit) || len(mem.Drawn(layer.Transit)) != 6 {
		t.Errorf("transit not shown on surface")
	}
	for _, p := range rec.all() {
		if p.Stage == session.StageComplete {
			continue
		}
		if p.Key() == "loading-layer-2" {
			t.Error("background layer got a stage")
		}
	}
}

func TestVisibilityToggles(t *testing.T) {
	loader := &fakeLoader{}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Street, Dataset: "streets", Visible: true, Concern: &session.ConcernSpec{
				Layer: layer.Concern,
				Rules: []concern.RuleConfig{{Type: "threshold", Attribute: "final_grade", Op: concern.OpEQ, Value: "F", Reason: "Poor Condition"}},
			}},
			{Layer: layer.Building, Dataset: "buildings"},
		},
		Toggles: map[string][]layer.Name{
			"streets":   {layer.Street},
			"priority":  {layer.Concern},
			"buildings": {layer.Building},
		},
	}
	s, mem := newSession(t, loader, plan, nil)

	if !mem.Visible(layer.Street) || mem.Visible(layer.Building) || mem.Visible(layer.Concern) {
		t.Fatal("initial visibility not applied")
	}
	if err := s.SetVisible("buildings", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVisible("buildings", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVisible("streets", false); err != nil {
		t.Fatal(err)
	}
	if mem.Visible(layer.Street) || !mem.Visible(layer.Building) {
		t.Error("toggle did not reach the surface")
	}

	attaches := 0
	for _, op := range mem.Ops() {
		if op.Kind == "attach" && op.Layer == layer.Building {
			attaches++
		}
	}
	if attaches != 1 {
		t.Errorf("building attached %d times, want 1", attaches)
	}

	if err := s.SetVisible("streetsLayer", true); !errors.Is(err, session.ErrUnknownToggle) {
		t.Errorf("got %v, want ErrUnknownToggle", err)
	}
	if v, err := s.Visible("buildings"); err != nil || !v {
		t.Errorf("Visible(buildings) = %v, %v", v, err)
	}

	s.Close()
	if err := s.SetVisible("priority", true); err != nil {
		t.Errorf("toggle after close returned %v", err)
	}
	if mem.Visible(layer.Concern) {
		t.Error("toggle after close reached the surface")
	}
	if n := s.Registry().StaleWrites(); n != 0 {
		t.Errorf("toggle after close counted %d stale writes", n)
	}
}

func TestResizeHookPerSession(t *testing.T) {
	mem := surface.NewMemory()
	plan := session.Plan{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}}}
	open := func(id string) *session.Session {
		s, err := session.New(session.Config{ID: id, Surface: mem, Loader: &fakeLoader{}, Plan: plan, Logger: zerolog.Nop()})
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	a := open("a")
	b := open("b")
	if mem.ResizeHooks() != 2 {
		t.Fatalf("hooks=%d, want 2", mem.ResizeHooks())
	}

	a.Close()
	if mem.ResizeHooks() != 1 {
		t.Fatalf("hooks=%d after closing a, want 1", mem.ResizeHooks())
	}

	mem.Resize()
	invalidations := 0
	for _, op := range mem.Ops() {
		if op.Kind == "invalidate" {
			invalidations++
		}
	}
	if invalidations != 1 {
		t.Errorf("invalidations=%d, want 1", invalidations)
	}

	b.Close()
	b.Close()
	if mem.ResizeHooks() != 0 {
		t.Errorf("hooks=%d, want 0", mem.ResizeHooks())
	}
}

func TestConcernScenario(t *testing.T) {
	street := func(id, grade string, line orb.LineString) dataset.Record {
		return dataset.Record{ID: id, Geometry: orb.MultiLineString{line}, Attributes: map[string]any{"final_grade": grade}}
	}
	loader := &fakeLoader{data: map[string]*dataset.Dataset{
		"floodplains": {Name: "floodplains", Records: []dataset.Record{{
			ID:       "fp",
			Geometry: orb.Polygon{{{4, -1}, {6, -1}, {6, 1}, {4, 1}, {4, -1}}},
		}}},
		"street_condition": {Name: "street_condition", Records: []dataset.Record{
			street("1", "F", orb.LineString{{0, 0}, {2, 0}}),
			street("2", "B", orb.LineString{{3, 0}, {7, 0}}),
			street("3", "C", orb.LineString{{8, 0}, {9, 0}}),
		}},
	}}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains", Role: session.RoleBase, Visible: true},
			{Layer: layer.Street, Dataset: "street_condition", Visible: true, Concern: &session.ConcernSpec{
				Layer:   layer.Concern,
				Title:   "Street of Concern",
				Visible: true,
				Rules: []concern.RuleConfig{
					{Type: "threshold", Attribute: "final_grade", Op: concern.OpEQ, Value: "F", Reason: "Poor Condition"},
					{Type: "intersects", Hazard: "floodplains", Reason: "Floodplain Intersection"},
				},
			}},
		},
		Delay: -1,
	}
	s, mem := newSession(t, loader, plan, nil)
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	got := map[string][]string{}
	for _, d := range s.Registry().Get(layer.Concern).Drawables() {
		got[d.ID] = d.Popup.Lines
	}
	want := map[string][]string{
		"1": {"Poor Condition"},
		"2": {"Floodplain Intersection"},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("concern layer %v, want %v", got, want)
	}
	if len(mem.Drawn(layer.Concern)) != 2 || !mem.Visible(layer.Concern) {
		t.Error("concern layer not on surface")
	}
}

func TestPlanValidate(t *testing.T) {
	rule := []concern.RuleConfig{{Type: "intersects", Hazard: "floodplains", Reason: "Floodplain Intersection"}}
	bad := []session.Plan{
		{Layers: []session.LayerSpec{{Dataset: "streets"}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "../etc/passwd"}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "a"}, {Layer: layer.Street, Dataset: "b"}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "a", Role: "sometimes"}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "a"}}, Toggles: map[string][]layer.Name{"x": {layer.Crash}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}}}},
		{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Street, Rules: rule}}}},
		// hazard loads after the layer that checks against it
		{Layers: []session.LayerSpec{
			{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
			{Layer: layer.Floodplain, Dataset: "floodplains"},
		}},
		// background hazards finish at no fixed point
		{Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains", Role: session.RoleBackground},
			{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
		}},
		// a background consumer can start before any hazard
		{Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains", Role: session.RoleBase},
			{Layer: layer.Street, Dataset: "a", Role: session.RoleBackground, Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
		}},
		// a primary hazard loads after every base layer
		{Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains"},
			{Layer: layer.Street, Dataset: "a", Role: session.RoleBase, Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
		}},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, session.ErrInvalidPlan) {
			t.Errorf("case %d: got %v, want ErrInvalidPlan", i, err)
		}
	}

	good := []session.Plan{
		{
			Layers: []session.LayerSpec{
				{Layer: layer.Floodplain, Dataset: "floodplains", Role: session.RoleBase},
				{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
			},
			Toggles: map[string][]layer.Name{"priority": {layer.Concern}},
		},
		{Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains"},
			{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
		}},
		{Layers: []session.LayerSpec{
			{Layer: layer.Street, Dataset: "a", Concern: &session.ConcernSpec{Layer: layer.Concern, Rules: rule}},
			{Layer: layer.Floodplain, Dataset: "floodplains", Role: session.RoleBase},
		}},
	}
	for i, p := range good {
		if err := p.Validate(); err != nil {
			t.Errorf("good case %d rejected: %v", i, err)
		}
	}
}

func TestConcernAgainstEarlierPrimaryHazard(t *testing.T) {
	loader := &fakeLoader{data: map[string]*dataset.Dataset{
		"floodplains": {Name: "floodplains", Records: []dataset.Record{{
			ID:       "fp",
			Geometry: orb.Polygon{{{4, -1}, {6, -1}, {6, 1}, {4, 1}, {4, -1}}},
		}}},
		"streets": {Name: "streets", Records: []dataset.Record{
			{ID: "crosses", Geometry: orb.LineString{{3, 0}, {7, 0}}},
			{ID: "clear", Geometry: orb.LineString{{8, 0}, {9, 0}}},
		}},
	}}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Floodplain, Dataset: "floodplains"},
			{Layer: layer.Street, Dataset: "streets", Concern: &session.ConcernSpec{
				Layer: layer.Concern,
				Rules: []concern.RuleConfig{{Type: "intersects", Hazard: "floodplains", Reason: "Floodplain Intersection"}},
			}},
		},
		Delay: -1,
	}
	s, _ := newSession(t, loader, plan, nil)
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	ds := s.Registry().Get(layer.Concern).Drawables()
	if len(ds) != 1 || ds[0].ID != "crosses" {
		t.Errorf("concern layer %v, want [crosses]", ds)
	}
}

func TestStartCloseWait(t *testing.T) {
	loader := &fakeLoader{data: map[string]*dataset.Dataset{
		"streets": points("streets", 40),
		"transit": points("transit", 40),
	}}
	plan := session.Plan{
		Layers: []session.LayerSpec{
			{Layer: layer.Transit, Dataset: "transit", Role: session.RoleBackground},
			{Layer: layer.Street, Dataset: "streets", Visible: true},
		},
		BatchCount: 4,
		Delay:      time.Millisecond,
	}
	for i := 0; i < 200; i++ {
		s, err := session.New(session.Config{
			ID:      fmt.Sprintf("run-%d", i),
			Surface: surface.NewMemory(),
			Loader:  loader,
			Plan:    plan,
			Logger:  zerolog.Nop(),
		})
		if err != nil {
			t.Fatal(err)
		}
		var finished atomic.Bool
		if err := s.Start(func(error) { finished.Store(true) }); err != nil {
			t.Fatal(err)
		}
		if i%2 == 0 {
			runtime.Gosched()
		}
		s.Close()
		s.Wait()
		if !finished.Load() {
			t.Fatalf("iteration %d: Wait returned before the pipeline", i)
		}

		before := s.Registry().Count(layer.Street)
		time.Sleep(time.Millisecond)
		if got := s.Registry().Count(layer.Street); got != before {
			t.Fatalf("iteration %d: registry changed after Wait: %d -> %d", i, before, got)
		}
		if err := s.Start(nil); !errors.Is(err, session.ErrAlreadyStarted) {
			t.Fatalf("iteration %d: restart got %v", i, err)
		}
	}
}

func TestStartAfterClose(t *testing.T) {
	plan := session.Plan{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}}}
	s, _ := newSession(t, &fakeLoader{}, plan, nil)
	s.Close()
	if err := s.Start(nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Start after Close: got %v, want context.Canceled", err)
	}
	if err := s.Run(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run after Close: got %v, want context.Canceled", err)
	}
	s.Wait()
}

func TestManager(t *testing.T) {
	m := session.NewManager()
	plan := session.Plan{Layers: []session.LayerSpec{{Layer: layer.Street, Dataset: "streets"}}}
	s, err := session.New(session.Config{ID: m.NextID("streets"), Surface: surface.NewMemory(), Loader: &fakeLoader{}, Plan: plan, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	m.Add("streets", s)

	if _, ok := m.Get(s.ID()); !ok {
		t.Fatal("session not registered")
	}
	if l := m.List(); len(l) != 1 || l[0].Panel != "streets" {
		t.Fatalf("List=%+v", l)
	}

	m.CloseAll()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Get(s.ID()); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("closed session still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
