package mapview

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-citymap/internal/humastar"
	"github.com/joeblew999/plat-citymap/internal/service"
	"github.com/joeblew999/plat-citymap/internal/session"
	"github.com/joeblew999/plat-citymap/internal/surface"
)

type PanelInput struct {
	ID string `path:"id" pattern:"^[a-z0-9_]+$" maxLength:"100" doc:"Panel ID" example:"street_condition"`
}

// PanelStream opens a session for a panel and streams it until the client
// goes away or the session is closed through the API.
func (h *Handler) PanelStream(ctx context.Context, input *PanelInput) (*huma.StreamResponse, error) {
	if h.deps.Panels == nil || h.deps.Loader == nil {
		return nil, huma.Error503ServiceUnavailable("map sessions not available")
	}
	panel, err := h.deps.Panels.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	plan, err := panel.Plan(h.deps.Defaults)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("panel plan: " + err.Error())
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			if err := h.serve(humaCtx.Context(), sse, panel, plan); err != nil {
				sse.Error(err.Error())
			}
		},
	}, nil
}

func (h *Handler) serve(ctx context.Context, sse humastar.SSE, panel service.PanelConfig, plan session.Plan) error {
	stream := surface.NewStream(h.Renderer.Popup)
	id := h.deps.Manager.NextID(panel.ID)

	s, err := session.New(session.Config{
		ID:      id,
		Surface: stream,
		Loader:  h.deps.Loader,
		Plan:    plan,
		Logger:  h.deps.Logger,
		Metrics: h.deps.Metrics,
		OnReady: func() { h.publish("ready", id) },
	})
	if err != nil {
		return err
	}
	h.deps.Manager.Add(panel.ID, s)
	h.publish("opened", id)
	defer func() {
		s.Close()
		stream.Close()
		s.Wait()
		h.publish("closed", id)
	}()

	signals := map[string]any{
		"session": id,
		"panel":   panel.ID,
		"zoom":    panel.Zoom,
	}
	if len(panel.Center) == 2 {
		signals["center"] = panel.Center
	}
	for _, t := range panel.Toggles {
		visible, _ := s.Visible(t.Name)
		signals[t.Name] = visible
	}
	stream.Signals(signals)
	if html := h.Render("toggles", toggleData(id, panel, s)); html != "" {
		stream.Patch(html, selectorToggles)
	}

	progress := func(p session.Progress) {
		stream.Signals(map[string]any{"progress": p})
		if html := h.Render("progress", p); html != "" {
			stream.Patch(html, selectorProgress)
		}
	}
	progress(s.Progress())
	s.Observe(progress)

	if err := s.Start(func(err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			h.deps.Logger.Warn().Err(err).Str("session", id).Msg("session run failed")
		}
	}); err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-serveCtx.Done():
		}
	}()

	err = stream.Serve(serveCtx, surface.DatastarSink{SSE: sse.ServerSentEventGenerator})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type toggleRow struct {
	Name    string
	Label   string
	Visible bool
}

func toggleData(id string, panel service.PanelConfig, s *session.Session) map[string]any {
	rows := make([]toggleRow, 0, len(panel.Toggles))
	for _, t := range panel.Toggles {
		visible, _ := s.Visible(t.Name)
		label := t.Label
		if label == "" {
			label = t.Name
		}
		rows = append(rows, toggleRow{Name: t.Name, Label: label, Visible: visible})
	}
	return map[string]any{"Session": id, "Toggles": rows}
}
