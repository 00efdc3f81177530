package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-citymap/internal/db"
	"github.com/joeblew999/plat-citymap/internal/service"
)

// DBHandler exposes the DuckDB staging store.
type DBHandler struct {
	store    *db.Store
	datasets *service.DatasetService
}

// NewDBHandler creates a database handler. store may be nil when DuckDB
// failed to open; every route then answers 503.
func NewDBHandler(store *db.Store, datasets *service.DatasetService) *DBHandler {
	return &DBHandler{store: store, datasets: datasets}
}

func (h *DBHandler) RegisterTables(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/datasets/{name}/stage", h.Stage, huma.OperationTags("db", "datasets"))
}

type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"Staged table names"`
	}
}

func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	tables, err := h.store.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"SQL query to execute"`
	}
}

type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Query results"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	res, err := h.store.Query(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	out := &QueryOutput{}
	out.Body.Columns = res.Columns
	out.Body.Rows = res.Rows
	out.Body.Count = len(res.Rows)
	return out, nil
}

type StageInput struct {
	Name string `path:"name" doc:"Dataset name" example:"streets"`
	Body struct {
		File string `json:"file,omitempty" doc:"File under the datasets directory; defaults to the best match for name"`
	}
}

type StageOutput struct {
	Body struct {
		Table string `json:"table" doc:"Staged table name"`
		File  string `json:"file" doc:"Source file"`
		Rows  int64  `json:"rows" doc:"Rows imported"`
	}
}

// Stage imports a file from the datasets directory into a DuckDB table of
// the same name. Map sessions then read it ahead of the directory copy.
func (h *DBHandler) Stage(ctx context.Context, input *StageInput) (*StageOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if !db.ValidTable(input.Name) {
		return nil, huma.Error422UnprocessableEntity("invalid dataset name " + input.Name)
	}
	if h.datasets == nil {
		return nil, huma.Error503ServiceUnavailable("datasets not available")
	}
	f, err := h.pickFile(input.Name, input.Body.File)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	path := h.datasets.Path(f)
	n, err := h.store.Stage(ctx, input.Name, path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, huma.Error503ServiceUnavailable("request cancelled")
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	out := &StageOutput{}
	out.Body.Table = input.Name
	out.Body.File = f.File
	out.Body.Rows = n
	return out, nil
}

func (h *DBHandler) pickFile(name, file string) (service.DatasetFile, error) {
	if file == "" {
		return h.datasets.Find(name)
	}
	files, err := h.datasets.List()
	if err != nil {
		return service.DatasetFile{}, err
	}
	for _, f := range files {
		if f.File == file {
			return f, nil
		}
	}
	return service.DatasetFile{}, fmt.Errorf("file %q not found", file)
}
