package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/panels>; rel="panels"`,
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/panels>; rel="panels"`,
	},
	"/api/v1/panels": {
		`</api/v1/datasets>; rel="datasets"`,
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/panels/{id}": {
		`</api/v1/panels>; rel="collection"`,
	},
	"/api/v1/datasets": {
		`</api/v1/panels>; rel="panels"`,
		`</api/v1/tables>; rel="tables"`,
	},
	"/api/v1/sessions": {
		`</api/v1/panels>; rel="panels"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
		`</api/v1/datasets>; rel="datasets"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		return v, nil
	}
}
