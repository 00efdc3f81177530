package surface

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-citymap/internal/layer"
)

// Browser event names.
const (
	EventLayer      = "map-layer"
	EventFeatures   = "map-features"
	EventInvalidate = "map-invalidate"
)

// Sink is where a Stream writes. DatastarSink is the production sink.
type Sink interface {
	Event(name string, detail any) error
	Signals(signals map[string]any) error
	Patch(html, selector string) error
}

// DatastarSink sends stream output as Datastar custom events and signal
// patches.
type DatastarSink struct {
	SSE *datastar.ServerSentEventGenerator
}

func (d DatastarSink) Event(name string, detail any) error {
	return d.SSE.DispatchCustomEvent(name, detail)
}

func (d DatastarSink) Signals(signals map[string]any) error {
	return d.SSE.MarshalAndPatchSignals(signals)
}

func (d DatastarSink) Patch(html, selector string) error {
	return d.SSE.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeInner())
}

// LayerEvent is the detail of an EventLayer event.
type LayerEvent struct {
	Layer  layer.Name `json:"layer"`
	Action string     `json:"action"` // create, attach, detach, clear
}

// FeaturesEvent is the detail of an EventFeatures event.
type FeaturesEvent struct {
	Layer    layer.Name                 `json:"layer"`
	Features *geojson.FeatureCollection `json:"features"`
}

// PopupFunc renders a popup to the HTML shown in the browser.
type PopupFunc func(p *layer.Popup) string

type streamGroup struct {
	name layer.Name
}

type streamOp struct {
	kind     string
	layer    layer.Name
	drawable layer.Drawable
	signals  map[string]any
	html     string
	selector string
}

// Stream is a Surface that queues operations and writes them to a Sink from
// a single goroutine (Serve). Surface methods never block on the network:
// the registry calls them under its lock.
type Stream struct {
	popup PopupFunc

	mu       sync.Mutex
	queue    []streamOp
	closed   bool
	wake     chan struct{}
	resizers map[int]func()
	nextID   int
}

// NewStream creates a Stream. popup may be nil, in which case popups are
// sent as plain text.
func NewStream(popup PopupFunc) *Stream {
	if popup == nil {
		popup = func(p *layer.Popup) string { return p.Text() }
	}
	return &Stream{
		popup:    popup,
		wake:     make(chan struct{}, 1),
		resizers: make(map[int]func()),
	}
}

func (s *Stream) push(op streamOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, op)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) CreateLayerGroup(name layer.Name) layer.Handle {
	s.push(streamOp{kind: "create", layer: name})
	return &streamGroup{name: name}
}

func (s *Stream) Attach(h layer.Handle) {
	s.push(streamOp{kind: "attach", layer: h.(*streamGroup).name})
}

func (s *Stream) Detach(h layer.Handle) {
	s.push(streamOp{kind: "detach", layer: h.(*streamGroup).name})
}

func (s *Stream) ClearLayerGroup(h layer.Handle) {
	s.push(streamOp{kind: "clear", layer: h.(*streamGroup).name})
}

func (s *Stream) AddDrawable(h layer.Handle, d layer.Drawable) {
	s.push(streamOp{kind: "add", layer: h.(*streamGroup).name, drawable: d})
}

func (s *Stream) Invalidate() {
	s.push(streamOp{kind: "invalidate"})
}

// Signals queues a signal patch, e.g. progress updates.
func (s *Stream) Signals(signals map[string]any) {
	s.push(streamOp{kind: "signals", signals: signals})
}

// Patch queues an HTML fragment for the element at selector.
func (s *Stream) Patch(html, selector string) {
	s.push(streamOp{kind: "patch", html: html, selector: selector})
}

func (s *Stream) OnResize(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.resizers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.resizers, id)
		s.mu.Unlock()
	}
}

// Resize runs the registered resize callbacks. The browser reports resizes
// through the API.
func (s *Stream) Resize() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.resizers))
	for _, fn := range s.resizers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops accepting operations. Queued operations are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// Serve writes queued operations to sink until ctx is done or a write
// fails. Consecutive drawables for the same layer go out as one
// FeatureCollection.
func (s *Stream) Serve(ctx context.Context, sink Sink) error {
	for {
		if err := s.flush(sink); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *Stream) flush(sink Sink) error {
	s.mu.Lock()
	ops := s.queue
	s.queue = nil
	s.mu.Unlock()

	var pending *FeaturesEvent
	send := func() error {
		if pending == nil {
			return nil
		}
		err := sink.Event(EventFeatures, pending)
		pending = nil
		return err
	}

	for _, op := range ops {
		if op.kind == "add" {
			if pending != nil && pending.Layer != op.layer {
				if err := send(); err != nil {
					return err
				}
			}
			if pending == nil {
				pending = &FeaturesEvent{Layer: op.layer, Features: geojson.NewFeatureCollection()}
			}
			pending.Features.Append(s.feature(op.drawable))
			continue
		}
		if err := send(); err != nil {
			return err
		}
		var err error
		switch op.kind {
		case "invalidate":
			err = sink.Event(EventInvalidate, struct{}{})
		case "signals":
			err = sink.Signals(op.signals)
		case "patch":
			err = sink.Patch(op.html, op.selector)
		default:
			err = sink.Event(EventLayer, LayerEvent{Layer: op.layer, Action: op.kind})
		}
		if err != nil {
			return err
		}
	}
	return send()
}

func (s *Stream) feature(d layer.Drawable) *geojson.Feature {
	f := geojson.NewFeature(d.Geometry)
	f.ID = d.ID
	st := d.Style
	if st.Stroke != "" {
		f.Properties["stroke"] = st.Stroke
	}
	if st.Fill != "" {
		f.Properties["fill"] = st.Fill
	}
	if st.Weight > 0 {
		f.Properties["weight"] = st.Weight
	}
	if st.Opacity > 0 {
		f.Properties["opacity"] = st.Opacity
	}
	if st.FillOpacity > 0 {
		f.Properties["fillOpacity"] = st.FillOpacity
	}
	if st.Radius > 0 {
		f.Properties["radius"] = st.Radius
	}
	if d.Popup != nil {
		f.Properties["popup"] = s.popup(d.Popup)
	}
	return f
}

var _ layer.Surface = (*Stream)(nil)
var _ layer.Clearer = (*Stream)(nil)
