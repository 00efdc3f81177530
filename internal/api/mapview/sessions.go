package mapview

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-citymap/internal/humastar"
	"github.com/joeblew999/plat-citymap/internal/session"
)

type SessionInput struct {
	ID string `path:"id" doc:"Session ID" example:"street_condition-1"`
}

type SetLayerInput struct {
	ID     string `path:"id" doc:"Session ID" example:"street_condition-1"`
	Toggle string `path:"toggle" doc:"Toggle name" example:"priority"`
	humastar.SignalsInput
}

func (h *Handler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []session.Info }, error) {
	return &struct{ Body []session.Info }{Body: h.deps.Manager.List()}, nil
}

func (h *Handler) session(id string) (*session.Session, error) {
	s, ok := h.deps.Manager.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("session not found: " + id)
	}
	return s, nil
}

// SetLayer applies a toggle from the Datastar page. The signal body
// carries either "visible" or a signal named after the toggle.
func (h *Handler) SetLayer(ctx context.Context, input *SetLayerInput) (*struct{}, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	var visible bool
	switch {
	case signals.Has("visible"):
		visible = signals.Bool("visible")
	case signals.Has(input.Toggle):
		visible = signals.Bool(input.Toggle)
	default:
		return nil, huma.Error400BadRequest("missing visible signal")
	}

	if err := s.SetVisible(input.Toggle, visible); err != nil {
		if errors.Is(err, session.ErrUnknownToggle) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("toggle failed", err)
	}
	return &struct{}{}, nil
}

// Resize reports a browser viewport change. The surface re-lays out unless
// the session has already closed.
func (h *Handler) Resize(ctx context.Context, input *SessionInput) (*struct{}, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if r, ok := s.Surface().(interface{ Resize() }); ok {
		r.Resize()
	}
	return &struct{}{}, nil
}

func (h *Handler) CloseSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.Close()
	return &struct{}{}, nil
}
