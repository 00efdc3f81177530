// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-citymap/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Panels   *service.PanelService
	Datasets *service.DatasetService
}

// Types

type IDInput struct {
	ID string `path:"id" pattern:"^[a-z0-9_]+$" maxLength:"100" doc:"Panel ID" example:"street_condition"`
}

type PanelOutput struct {
	Body service.PanelConfig
}

type PanelsOutput struct {
	Body []service.PanelConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type CreatedPanelBody struct {
	ID      string              `json:"id" doc:"Generated panel ID"`
	Panel   service.PanelConfig `json:"panel" doc:"Created panel configuration"`
	Message string              `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds the REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterPanels registers panel CRUD routes.
func (h *APIHandler) RegisterPanels(api huma.API) {
	huma.Get(api, "/api/v1/panels", h.GetPanels, huma.OperationTags("panels"))
	huma.Post(api, "/api/v1/panels", h.CreatePanel, huma.OperationTags("panels"))
	huma.Get(api, "/api/v1/panels/{id}", h.GetPanel, huma.OperationTags("panels"))
	huma.Put(api, "/api/v1/panels/{id}", h.PutPanel, huma.OperationTags("panels"))
	huma.Delete(api, "/api/v1/panels/{id}", h.DeletePanel, huma.OperationTags("panels"))
}

// RegisterDatasets registers dataset listing routes.
func (h *APIHandler) RegisterDatasets(api huma.API) {
	huma.Get(api, "/api/v1/datasets", h.GetDatasets, huma.OperationTags("datasets"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetPanels(ctx context.Context, input *struct{}) (*PanelsOutput, error) {
	if h.svc == nil || h.svc.Panels == nil {
		return &PanelsOutput{Body: []service.PanelConfig{}}, nil
	}
	return &PanelsOutput{Body: h.svc.Panels.List()}, nil
}

func (h *APIHandler) CreatePanel(ctx context.Context, input *struct{ Body service.PanelConfig }) (*struct{ Body CreatedPanelBody }, error) {
	if h.svc == nil || h.svc.Panels == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	created, err := h.svc.Panels.Create(input.Body)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &struct{ Body CreatedPanelBody }{Body: CreatedPanelBody{
		ID: created.ID, Panel: created, Message: "Panel created",
	}}, nil
}

func (h *APIHandler) GetPanel(ctx context.Context, input *IDInput) (*PanelOutput, error) {
	if h.svc == nil || h.svc.Panels == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	panel, err := h.svc.Panels.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &PanelOutput{Body: panel}, nil
}

func (h *APIHandler) PutPanel(ctx context.Context, input *struct {
	IDInput
	Body service.PanelConfig
}) (*PanelOutput, error) {
	if h.svc == nil || h.svc.Panels == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	updated, err := h.svc.Panels.Update(input.ID, input.Body)
	if err != nil {
		if errors.Is(err, service.ErrPanelNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &PanelOutput{Body: updated}, nil
}

func (h *APIHandler) DeletePanel(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc == nil || h.svc.Panels == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	if err := h.svc.Panels.Delete(input.ID); err != nil {
		if errors.Is(err, service.ErrPanelNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("Failed to delete panel", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Panel deleted"}}, nil
}

func (h *APIHandler) GetDatasets(ctx context.Context, input *struct{}) (*struct{ Body []service.DatasetFile }, error) {
	if h.svc == nil || h.svc.Datasets == nil {
		return &struct{ Body []service.DatasetFile }{Body: []service.DatasetFile{}}, nil
	}
	files, err := h.svc.Datasets.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list datasets", err)
	}
	return &struct{ Body []service.DatasetFile }{Body: files}, nil
}
