package mapview

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-citymap/internal/humastar"
)

// Events streams panel and session change events to the UI.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	if h.deps.Bus == nil {
		return nil, huma.Error503ServiceUnavailable("event bus not available")
	}
	return h.Handler.Stream(func(sse humastar.SSE) {
		ch := h.deps.Bus.Subscribe()
		defer h.deps.Bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := sse.DispatchCustomEvent("resource-changed", ev); err != nil {
					return
				}
			}
		}
	}), nil
}
