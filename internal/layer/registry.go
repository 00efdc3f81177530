package layer

import (
	"errors"
	"sync"
)

// ErrStaleWrite marks a mutation attempted after the owning session ended.
// It is never returned from registry methods; it is what the stale-write
// hook receives.
var ErrStaleWrite = errors.New("write to closed layer registry")

// Handle is a surface-specific reference to a created layer group.
type Handle any

// Surface is the map surface the registry draws onto. Implementations must
// not call back into the registry.
type Surface interface {
	CreateLayerGroup(name Name) Handle
	Attach(h Handle)
	Detach(h Handle)
	AddDrawable(h Handle, d Drawable)
	Invalidate()
	// OnResize registers fn to run when the surface is resized. The returned
	// func removes the registration.
	OnResize(fn func()) (deregister func())
}

// Clearer is implemented by surfaces that can empty a layer group in place.
type Clearer interface {
	ClearLayerGroup(h Handle)
}

// Group is a named, ordered collection of drawables.
type Group struct {
	reg       *Registry
	name      Name
	handle    Handle
	drawables []Drawable
	attached  bool
}

// Name returns the group name.
func (g *Group) Name() Name { return g.name }

// Len returns the number of drawables in the group.
func (g *Group) Len() int {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	return len(g.drawables)
}

// Attached reports whether the group is shown on the surface.
func (g *Group) Attached() bool {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	return g.attached
}

// Drawables returns a copy of the group's drawables in insertion order.
func (g *Group) Drawables() []Drawable {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	out := make([]Drawable, len(g.drawables))
	copy(out, g.drawables)
	return out
}

// Registry owns the layer groups of one session.
type Registry struct {
	mu      sync.Mutex
	surface Surface
	groups  map[Name]*Group
	order   []Name
	closed  bool
	stale   int
	onStale func(error)
}

// NewRegistry creates a registry on surface and eagerly creates the named
// groups so their surface handles exist before any data arrives.
func NewRegistry(surface Surface, names ...Name) *Registry {
	r := &Registry{surface: surface, groups: make(map[Name]*Group)}
	for _, n := range names {
		r.Get(n)
	}
	return r
}

// OnStaleWrite sets a hook called for every suppressed mutation.
func (r *Registry) OnStaleWrite(fn func(error)) {
	r.mu.Lock()
	r.onStale = fn
	r.mu.Unlock()
}

// Get returns the named group, creating it on first use. After Close an
// unknown name yields a detached group that is not tracked.
func (r *Registry) Get(name Name) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[name]; ok {
		return g
	}
	if r.closed {
		return &Group{reg: r, name: name}
	}
	return r.create(name)
}

func (r *Registry) create(name Name) *Group {
	g := &Group{reg: r, name: name}
	if r.surface != nil {
		g.handle = r.surface.CreateLayerGroup(name)
	}
	r.groups[name] = g
	r.order = append(r.order, name)
	return g
}

func (r *Registry) group(name Name) *Group {
	if g, ok := r.groups[name]; ok {
		return g
	}
	return r.create(name)
}

// Names returns group names in creation order.
func (r *Registry) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Name, len(r.order))
	copy(out, r.order)
	return out
}

// Add appends drawables to the named group. It reports false when the write
// was suppressed because the registry is closed.
func (r *Registry) Add(name Name, ds ...Drawable) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.suppress()
		return false
	}
	g := r.group(name)
	for _, d := range ds {
		g.drawables = append(g.drawables, d)
		if r.surface != nil {
			r.surface.AddDrawable(g.handle, d)
		}
	}
	return true
}

// ClearAll empties every group.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.suppress()
		return
	}
	clearer, _ := r.surface.(Clearer)
	for _, name := range r.order {
		g := r.groups[name]
		g.drawables = nil
		if clearer != nil {
			clearer.ClearLayerGroup(g.handle)
		}
	}
}

// SetAttached shows or hides a group. Repeating the current state is a
// no-op, as is any call after Close.
func (r *Registry) SetAttached(name Name, attached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.suppress()
		return
	}
	g := r.group(name)
	if g.attached == attached {
		return
	}
	g.attached = attached
	if r.surface == nil {
		return
	}
	if attached {
		r.surface.Attach(g.handle)
	} else {
		r.surface.Detach(g.handle)
	}
}

// Count returns the number of drawables in a group, 0 if it does not exist.
func (r *Registry) Count(name Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[name]; ok {
		return len(g.drawables)
	}
	return 0
}

// Attached reports whether a group is currently shown.
func (r *Registry) Attached(name Name) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[name]; ok {
		return g.attached
	}
	return false
}

// Counts returns drawable counts for every group.
func (r *Registry) Counts() map[Name]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Name]int, len(r.groups))
	for n, g := range r.groups {
		out[n] = len(g.drawables)
	}
	return out
}

// Close ends the registry. Once Close returns, no further call reaches the
// surface.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// StaleWrites returns how many mutations were suppressed after Close.
func (r *Registry) StaleWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

func (r *Registry) suppress() {
	r.stale++
	if r.onStale != nil {
		r.onStale(ErrStaleWrite)
	}
}
