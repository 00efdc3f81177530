package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	cache   string
}

// NewInfoHandler describes the running service. cache names the dataset
// cache backend ("memory" or "redis").
func NewInfoHandler(dataDir string, dbOK bool, cache string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, cache: cache}
}

func (h *InfoHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether the DuckDB store is available"`
	Cache    string   `json:"cache" doc:"Dataset cache backend"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"panels", "sessions", "concern-rules", "sse"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-citymap",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Cache:    h.cache,
		Features: features,
	}}, nil
}
