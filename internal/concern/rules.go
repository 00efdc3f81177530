// Package concern derives "concern" overlays from loaded datasets.
//
// A concern rule is either an attribute threshold (grade == 'F',
// condition < 0.75, elevation > 550) or a spatial test against a hazard
// dataset that is already loaded in the session (street crosses a
// floodplain). Thresholds are configuration, never constants.
package concern

import (
	"fmt"
	"strings"

	"github.com/joeblew999/plat-citymap/internal/dataset"
)

// Rule is one concern predicate with the reason it contributes.
type Rule interface {
	Reason() string
	Match(rec dataset.Record) bool
}

// Op is a comparison operator for Threshold rules.
type Op string

const (
	OpGT  Op = "gt"
	OpGTE Op = "gte"
	OpLT  Op = "lt"
	OpLTE Op = "lte"
	OpEQ  Op = "eq"
	OpNE  Op = "ne"
)

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	switch o {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// Threshold compares one attribute against a configured value. Numeric
// values compare numerically (numeric strings in the record are accepted);
// anything else compares as a string. A missing attribute never matches.
type Threshold struct {
	Attribute string
	Op        Op
	Value     any
	Why       string
}

func (t Threshold) Reason() string { return t.Why }

func (t Threshold) Match(rec dataset.Record) bool {
	if !rec.Has(t.Attribute) {
		return false
	}
	if want, ok := number(t.Value); ok {
		got, ok := rec.Float(t.Attribute)
		if !ok {
			return false
		}
		return compare(t.Op, cmp3(got, want))
	}
	want := fmt.Sprint(t.Value)
	got := rec.String(t.Attribute)
	return compare(t.Op, strings.Compare(got, want))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func cmp3(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compare(op Op, c int) bool {
	switch op {
	case OpGT:
		return c > 0
	case OpGTE:
		return c >= 0
	case OpLT:
		return c < 0
	case OpLTE:
		return c <= 0
	case OpEQ:
		return c == 0
	case OpNE:
		return c != 0
	}
	return false
}

// Intersects matches records whose geometry touches any geometry of the
// named hazard dataset. The snapshot is looked up on every Match so the
// rule sees whatever the session has loaded at evaluation time.
type Intersects struct {
	Hazard string
	Source HazardSource
	Why    string
}

func (i Intersects) Reason() string { return i.Why }

func (i Intersects) Match(rec dataset.Record) bool {
	if i.Source == nil || rec.Geometry == nil {
		return false
	}
	return i.Source.Hazard(i.Hazard).Intersects(rec.Geometry)
}

// Any matches when at least one attribute equals one of a set of values,
// e.g. crash severity in {"fatal", "incapacitating"}.
type Any struct {
	Attribute string
	Values    []string
	Why       string
}

func (a Any) Reason() string { return a.Why }

func (a Any) Match(rec dataset.Record) bool {
	if !rec.Has(a.Attribute) {
		return false
	}
	got := rec.String(a.Attribute)
	for _, v := range a.Values {
		if strings.EqualFold(got, v) {
			return true
		}
	}
	return false
}
