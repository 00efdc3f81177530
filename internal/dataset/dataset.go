// Package dataset fetches and parses municipal open-data layers.
//
// A dataset is a named, ordered list of records. Each record carries an ID,
// an orb geometry decoded from a `the_geom`-style GeoJSON fragment, and free
// form attributes. Records whose geometry cannot be decoded are kept with a
// nil Geometry and GeomErr set so that downstream mappers can skip them
// individually.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Dataset is an immutable, ordered collection of records.
type Dataset struct {
	Name    string
	Records []Record
}

// Empty returns a dataset with no records, used when a fetch fails.
func Empty(name string) *Dataset {
	return &Dataset{Name: name}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Record is one raw feature from a dataset.
type Record struct {
	ID         string
	Index      int
	Geometry   orb.Geometry
	GeomErr    error
	Attributes map[string]any
}

// Has reports whether the attribute key is present and non-null.
func (r Record) Has(key string) bool {
	v, ok := r.Attributes[key]
	return ok && v != nil
}

// String returns an attribute as a string, or "" if absent.
func (r Record) String(key string) string {
	v, ok := r.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// Float returns a numeric attribute. Numeric strings are accepted since
// several city feeds serialise numbers as text.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r.Attributes[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
