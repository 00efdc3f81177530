// Package surface provides map surface adapters for the layer registry.
//
// Memory keeps everything in process and is used by the headless CLI and by
// tests. SSE streams layer operations to a browser over Datastar.
package surface

import (
	"sync"

	"github.com/joeblew999/plat-citymap/internal/layer"
)

// Op is a recorded surface operation.
type Op struct {
	Kind  string // "create", "attach", "detach", "add", "clear", "invalidate"
	Layer layer.Name
	ID    string
}

// memoryGroup is the handle type Memory hands out.
type memoryGroup struct {
	name      layer.Name
	attached  bool
	drawables []layer.Drawable
}

// Memory is an in-process Surface that records every operation.
type Memory struct {
	mu       sync.Mutex
	groups   map[layer.Name]*memoryGroup
	ops      []Op
	resizers map[int]func()
	nextID   int
}

// NewMemory creates an empty Memory surface.
func NewMemory() *Memory {
	return &Memory{
		groups:   make(map[layer.Name]*memoryGroup),
		resizers: make(map[int]func()),
	}
}

func (m *Memory) CreateLayerGroup(name layer.Name) layer.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &memoryGroup{name: name}
	m.groups[name] = g
	m.ops = append(m.ops, Op{Kind: "create", Layer: name})
	return g
}

func (m *Memory) Attach(h layer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := h.(*memoryGroup)
	g.attached = true
	m.ops = append(m.ops, Op{Kind: "attach", Layer: g.name})
}

func (m *Memory) Detach(h layer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := h.(*memoryGroup)
	g.attached = false
	m.ops = append(m.ops, Op{Kind: "detach", Layer: g.name})
}

func (m *Memory) AddDrawable(h layer.Handle, d layer.Drawable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := h.(*memoryGroup)
	g.drawables = append(g.drawables, d)
	m.ops = append(m.ops, Op{Kind: "add", Layer: g.name, ID: d.ID})
}

func (m *Memory) ClearLayerGroup(h layer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := h.(*memoryGroup)
	g.drawables = nil
	m.ops = append(m.ops, Op{Kind: "clear", Layer: g.name})
}

func (m *Memory) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: "invalidate"})
}

func (m *Memory) OnResize(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.resizers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.resizers, id)
		m.mu.Unlock()
	}
}

// Resize runs every registered resize callback.
func (m *Memory) Resize() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.resizers))
	for _, fn := range m.resizers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ResizeHooks returns how many resize callbacks are registered.
func (m *Memory) ResizeHooks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resizers)
}

// Ops returns a copy of the recorded operations.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}

// Visible reports whether the named group is attached.
func (m *Memory) Visible(name layer.Name) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	return ok && g.attached
}

// Drawn returns the drawables the surface holds for a group.
func (m *Memory) Drawn(name layer.Name) []layer.Drawable {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	if !ok {
		return nil
	}
	out := make([]layer.Drawable, len(g.drawables))
	copy(out, g.drawables)
	return out
}

var _ layer.Surface = (*Memory)(nil)
var _ layer.Clearer = (*Memory)(nil)
