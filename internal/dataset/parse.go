package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Default attribute keys probed for geometry and identity, in order.
var (
	DefaultGeometryKeys = []string{"the_geom", "geometry", "geom"}
	DefaultIDKeys       = []string{"cartodb_id", "id", "objectid", "OBJECTID"}
)

// ParseOptions controls how raw records are interpreted.
type ParseOptions struct {
	GeometryKeys []string
	IDKeys       []string
}

func (o ParseOptions) withDefaults() ParseOptions {
	if len(o.GeometryKeys) == 0 {
		o.GeometryKeys = DefaultGeometryKeys
	}
	if len(o.IDKeys) == 0 {
		o.IDKeys = DefaultIDKeys
	}
	return o
}

// Parse decodes a dataset payload. Accepted shapes are a top-level array of
// records, a Carto SQL style {"rows": [...]} envelope, and a GeoJSON-like
// {"features": [...]} collection whose features carry "properties".
//
// Only a payload that is not JSON at all fails; individual records with
// unusable geometry are returned with GeomErr set.
func Parse(name string, data []byte, opts ParseOptions) (*Dataset, error) {
	opts = opts.withDefaults()

	raws, err := splitRecords(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	ds := &Dataset{Name: name, Records: make([]Record, 0, len(raws))}
	for i, raw := range raws {
		ds.Records = append(ds.Records, parseRecord(i, raw, opts))
	}
	return ds, nil
}

func splitRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}

	var envelope struct {
		Rows     []json.RawMessage `json:"rows"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Features != nil {
		return envelope.Features, nil
	}
	if envelope.Rows != nil {
		return envelope.Rows, nil
	}
	return nil, fmt.Errorf("payload has neither rows nor features")
}

func parseRecord(index int, raw json.RawMessage, opts ParseOptions) Record {
	rec := Record{Index: index, Attributes: map[string]any{}}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		rec.ID = strconv.Itoa(index)
		rec.GeomErr = &ErrMalformedGeometry{Reason: "record is not an object"}
		return rec
	}

	// GeoJSON features keep attributes under "properties".
	if props, ok := fields["properties"]; ok {
		var p map[string]json.RawMessage
		if json.Unmarshal(props, &p) == nil {
			for k, v := range p {
				if _, dup := fields[k]; !dup {
					fields[k] = v
				}
			}
		}
		delete(fields, "properties")
		delete(fields, "type")
	}

	geomKey := ""
	for _, k := range opts.GeometryKeys {
		if _, ok := fields[k]; ok {
			geomKey = k
			break
		}
	}

	for k, v := range fields {
		if k == geomKey {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			rec.Attributes[k] = val
		}
	}

	rec.ID = strconv.Itoa(index)
	for _, k := range opts.IDKeys {
		if rec.Has(k) {
			rec.ID = rec.String(k)
			break
		}
	}

	if geomKey == "" {
		rec.GeomErr = &ErrMalformedGeometry{Reason: "no geometry field"}
		return rec
	}
	rec.Geometry, rec.GeomErr = decodeGeometry(fields[geomKey])
	return rec
}

func decodeGeometry(raw json.RawMessage) (g orb.Geometry, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &ErrMalformedGeometry{Reason: "geometry is null"}
	}

	// Some exports store the geometry as a JSON-encoded string.
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, &ErrMalformedGeometry{Reason: err.Error()}
		}
		trimmed = []byte(s)
	}

	defer func() {
		// orb panics on some ragged coordinate arrays
		if r := recover(); r != nil {
			g, err = nil, &ErrMalformedGeometry{Reason: fmt.Sprint(r)}
		}
	}()

	parsed, perr := geojson.UnmarshalGeometry(trimmed)
	if perr != nil {
		return nil, &ErrMalformedGeometry{Reason: perr.Error()}
	}
	if parsed == nil || parsed.Coordinates == nil && len(parsed.Geometries) == 0 {
		return nil, &ErrMalformedGeometry{Reason: "geometry has no coordinates"}
	}
	return parsed.Geometry(), nil
}
