// Package mapview serves live map sessions to the Datastar UI: one SSE
// stream per open panel, plus the toggle, resize and close endpoints the
// page calls back into.
package mapview

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/humastar"
	"github.com/joeblew999/plat-citymap/internal/metrics"
	"github.com/joeblew999/plat-citymap/internal/service"
	"github.com/joeblew999/plat-citymap/internal/session"
	"github.com/joeblew999/plat-citymap/internal/templates"
)

// Fragment targets on the map page.
const (
	selectorToggles  = "#layer-toggles"
	selectorProgress = "#map-progress"
)

// Deps are the collaborators a Handler needs.
type Deps struct {
	Panels   *service.PanelService
	Bus      *service.EventBus
	Manager  *session.Manager
	Loader   session.Loader
	Defaults service.PlanDefaults
	Renderer *templates.Renderer
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Handler serves map sessions.
type Handler struct {
	humastar.Handler
	deps Deps
}

// NewHandler creates a map view handler.
func NewHandler(deps Deps) *Handler {
	if deps.Manager == nil {
		deps.Manager = session.NewManager()
	}
	return &Handler{
		Handler: humastar.Handler{Renderer: deps.Renderer},
		deps:    deps,
	}
}

func (h *Handler) RegisterMapView(api huma.API) {
	huma.Get(api, "/api/v1/panels/{id}/stream", h.PanelStream,
		huma.OperationTags("sessions"),
	)
	huma.Get(api, "/api/v1/sessions", h.ListSessions,
		huma.OperationTags("sessions"),
	)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{toggle}", h.SetLayer,
		huma.OperationTags("sessions"),
		noContent,
	)
	huma.Post(api, "/api/v1/sessions/{id}/resize", h.Resize,
		huma.OperationTags("sessions"),
		noContent,
	)
	huma.Delete(api, "/api/v1/sessions/{id}", h.CloseSession,
		huma.OperationTags("sessions"),
		noContent,
	)
	huma.Get(api, "/api/v1/events", h.Events,
		huma.OperationTags("sessions"),
	)
}

func noContent(o *huma.Operation) {
	o.DefaultStatus = 204
}

func (h *Handler) publish(action, id string) {
	if h.deps.Bus == nil {
		return
	}
	h.deps.Bus.Publish(service.Event{Resource: "sessions", Action: action, ID: id})
}
