package concern

import (
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/geom"
)

// minExtent keeps degenerate (point or axis-aligned line) bounds valid for
// the R-tree, which rejects zero-length sides.
const minExtent = 1e-9

// hazardItem wraps one hazard geometry for R-tree storage.
type hazardItem struct {
	geometry orb.Geometry
	bound    orb.Bound
}

// Bounds implements rtreego.Spatial.
func (h *hazardItem) Bounds() rtreego.Rect {
	return rect(h.bound)
}

func rect(b orb.Bound) rtreego.Rect {
	w := b.Max[0] - b.Min[0]
	hgt := b.Max[1] - b.Min[1]
	if w < minExtent {
		w = minExtent
	}
	if hgt < minExtent {
		hgt = minExtent
	}
	r, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, hgt})
	return r
}

// Index is an immutable spatial snapshot of a hazard dataset.
type Index struct {
	name  string
	tree  *rtreego.Rtree
	count int
}

// NewIndex builds an index over every record of ds that has a geometry.
func NewIndex(ds *dataset.Dataset) *Index {
	idx := &Index{tree: rtreego.NewTree(2, 25, 50)}
	if ds == nil {
		return idx
	}
	idx.name = ds.Name
	for _, rec := range ds.Records {
		if rec.Geometry == nil {
			continue
		}
		idx.tree.Insert(&hazardItem{geometry: rec.Geometry, bound: rec.Geometry.Bound()})
		idx.count++
	}
	return idx
}

// Len returns the number of indexed hazard geometries.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return i.count
}

// Intersects reports whether g touches any indexed hazard geometry.
func (i *Index) Intersects(g orb.Geometry) bool {
	if i == nil || i.count == 0 || g == nil {
		return false
	}
	for _, s := range i.tree.SearchIntersect(rect(g.Bound())) {
		if geom.Intersects(g, s.(*hazardItem).geometry) {
			return true
		}
	}
	return false
}

// HazardSource resolves a hazard dataset name to its current snapshot.
// A nil result means the hazard has not been loaded (yet).
type HazardSource interface {
	Hazard(name string) *Index
}

// Snapshots is a HazardSource fed with datasets as a session loads them.
type Snapshots struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewSnapshots creates an empty snapshot set.
func NewSnapshots() *Snapshots {
	return &Snapshots{indexes: make(map[string]*Index)}
}

// Put indexes ds and makes it the current snapshot for its name.
func (s *Snapshots) Put(ds *dataset.Dataset) {
	idx := NewIndex(ds)
	s.mu.Lock()
	s.indexes[ds.Name] = idx
	s.mu.Unlock()
}

// Hazard returns the current snapshot for name.
func (s *Snapshots) Hazard(name string) *Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[name]
}
