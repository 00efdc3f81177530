// Package templates renders the HTML fragments sent over Datastar SSE:
// feature popups, the layer toggle list and the loading indicator.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"path/filepath"
	"sync"

	"github.com/joeblew999/plat-citymap/internal/layer"
)

//go:embed fragments/*.html
var fragments embed.FS

var funcMap = template.FuncMap{
	// dict builds a map from key/value pairs for nested templates.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"pct": func(f float64) int { return int(f + 0.5) },
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New creates a renderer from the built-in fragments.
func New() (*Renderer, error) {
	tmpl, err := builtin()
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func builtin() (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fragments, "fragments/*.html")
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Popup renders a feature popup. A nil renderer or a failing template
// yields escaped plain text.
func (r *Renderer) Popup(p *layer.Popup) string {
	if p == nil {
		return ""
	}
	if r == nil {
		return template.HTMLEscapeString(p.Text())
	}
	html, err := r.Render("popup", p)
	if err != nil {
		return template.HTMLEscapeString(p.Text())
	}
	return html
}

// Reload re-reads the built-in fragments and overrides them with the
// *.html files in dir. Fragments dir does not define keep their built-in
// version.
func (r *Renderer) Reload(dir string) error {
	tmpl, err := builtin()
	if err != nil {
		return err
	}
	if _, err := tmpl.ParseGlob(filepath.Join(dir, "*.html")); err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
