package service

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrPanelNotFound is returned for an unknown panel ID.
	ErrPanelNotFound = errors.New("panel not found")
	// ErrInvalidPanelID is returned for IDs outside [a-z0-9_].
	ErrInvalidPanelID = errors.New("invalid panel ID")
)

const maxIDLength = 100

// ValidateID checks that id is safe to use as a panel file name.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidPanelID, id)
	}
	for _, r := range id {
		if !idRune(r) {
			return fmt.Errorf("%w: %q", ErrInvalidPanelID, id)
		}
	}
	return nil
}

func idRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

//go:embed defaults/*.yaml
var defaultPanels embed.FS

// PanelService manages panel configurations, one YAML file per panel.
type PanelService struct {
	dir    string
	panels map[string]PanelConfig
	bus    *EventBus
	mu     sync.RWMutex
}

// NewPanelService loads panels from <dataDir>/panels. When the directory
// holds no panels the built-in defaults are written there first.
func NewPanelService(dataDir string, bus *EventBus) (*PanelService, error) {
	s := &PanelService{
		dir:    filepath.Join(dataDir, "panels"),
		panels: make(map[string]PanelConfig),
		bus:    bus,
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	if len(s.panels) == 0 {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns all panels sorted by ID.
func (s *PanelService) List() []PanelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]PanelConfig, 0, len(s.panels))
	for _, p := range s.panels {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a panel by ID.
func (s *PanelService) Get(id string) (PanelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.panels[id]
	if !ok {
		return PanelConfig{}, fmt.Errorf("%w: %q", ErrPanelNotFound, id)
	}
	return p, nil
}

// Create adds a panel. The ID is derived from the name when empty.
func (s *PanelService) Create(p PanelConfig) (PanelConfig, error) {
	if p.ID == "" {
		p.ID = generateID(p.Name)
	}
	if p.ID == "" {
		return PanelConfig{}, fmt.Errorf("panel name %q yields an empty ID", p.Name)
	}
	if err := ValidateID(p.ID); err != nil {
		return PanelConfig{}, err
	}
	if _, err := p.Plan(PlanDefaults{}); err != nil {
		return PanelConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.panels[p.ID]; exists {
		return PanelConfig{}, fmt.Errorf("panel with ID %q already exists", p.ID)
	}
	if err := s.save(p); err != nil {
		return PanelConfig{}, err
	}
	s.panels[p.ID] = p
	s.publish("created", p.ID)
	return p, nil
}

// Update replaces a panel by ID.
func (s *PanelService) Update(id string, p PanelConfig) (PanelConfig, error) {
	if err := ValidateID(id); err != nil {
		return PanelConfig{}, err
	}
	p.ID = id
	if _, err := p.Plan(PlanDefaults{}); err != nil {
		return PanelConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.panels[id]; !exists {
		return PanelConfig{}, fmt.Errorf("%w: %q", ErrPanelNotFound, id)
	}
	if err := s.save(p); err != nil {
		return PanelConfig{}, err
	}
	s.panels[id] = p
	s.publish("updated", id)
	return p, nil
}

// Delete removes a panel by ID.
func (s *PanelService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.panels[id]; !exists {
		return fmt.Errorf("%w: %q", ErrPanelNotFound, id)
	}
	if err := os.Remove(s.file(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.panels, id)
	s.publish("deleted", id)
	return nil
}

func (s *PanelService) publish(action, id string) {
	if s.bus != nil {
		s.bus.Publish(Event{Resource: "panels", Action: action, ID: id})
	}
}

func (s *PanelService) file(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// loadFromDisk reads every *.yaml panel file. Unparsable files are an error
// so that a typo never silently drops a panel.
func (s *PanelService) loadFromDisk() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return err
		}
		p, err := decodePanel(data, strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		s.panels[p.ID] = p
	}
	return nil
}

func (s *PanelService) seed() error {
	return fs.WalkDir(defaultPanels, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := defaultPanels.ReadFile(path)
		if err != nil {
			return err
		}
		p, err := decodePanel(data, strings.TrimSuffix(d.Name(), ".yaml"))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.save(p); err != nil {
			return err
		}
		s.panels[p.ID] = p
		return nil
	})
}

func decodePanel(data []byte, fallbackID string) (PanelConfig, error) {
	var p PanelConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PanelConfig{}, err
	}
	if p.ID == "" {
		p.ID = fallbackID
	}
	if err := ValidateID(p.ID); err != nil {
		return PanelConfig{}, err
	}
	if _, err := p.Plan(PlanDefaults{}); err != nil {
		return PanelConfig{}, err
	}
	return p, nil
}

// save persists one panel.
func (s *PanelService) save(p PanelConfig) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(s.file(p.ID), data, 0644)
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if idRune(r) {
			result.WriteRune(r)
		}
	}
	out := result.String()
	if len(out) > maxIDLength {
		out = out[:maxIDLength]
	}
	return out
}
