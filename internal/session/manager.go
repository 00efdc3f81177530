package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Info summarises a live session.
type Info struct {
	ID       string         `json:"id" doc:"Session identifier"`
	Panel    string         `json:"panel" doc:"Panel the session renders"`
	Started  time.Time      `json:"started" doc:"Session start time"`
	Progress Progress       `json:"progress" doc:"Current load progress"`
	Counts   map[string]int `json:"counts" doc:"Drawable count per layer group"`
	Toggles  []string       `json:"toggles" doc:"Toggle names accepted by the session"`
}

// Manager tracks live sessions by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	seq      atomic.Uint64
}

type entry struct {
	s     *Session
	panel string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*entry)}
}

// NextID returns a fresh session ID for panel.
func (m *Manager) NextID(panel string) string {
	return fmt.Sprintf("%s-%d", panel, m.seq.Add(1))
}

// Add registers s. The session is dropped from the manager when it closes.
func (m *Manager) Add(panel string, s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = &entry{s: s, panel: panel}
	m.mu.Unlock()
	go func() {
		<-s.Done()
		m.mu.Lock()
		if e, ok := m.sessions[s.ID()]; ok && e.s == s {
			delete(m.sessions, s.ID())
		}
		m.mu.Unlock()
	}()
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.s, true
}

// List returns live sessions sorted by start time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		counts := map[string]int{}
		for n, c := range e.s.registry.Counts() {
			counts[string(n)] = c
		}
		toggles := e.s.Toggles()
		sort.Strings(toggles)
		out = append(out, Info{
			ID:       e.s.ID(),
			Panel:    e.panel,
			Started:  e.s.started,
			Progress: e.s.Progress(),
			Counts:   counts,
			Toggles:  toggles,
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// CloseAll closes every live session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		live = append(live, e.s)
	}
	m.mu.RUnlock()
	for _, s := range live {
		s.Close()
	}
}
