package concern

import (
	"fmt"
)

// RuleConfig is the serialisable form of a Rule, as stored in panel files.
type RuleConfig struct {
	Type      string   `json:"type" yaml:"type" required:"true" enum:"threshold,intersects,any" doc:"Rule kind"`
	Attribute string   `json:"attribute,omitempty" yaml:"attribute,omitempty" doc:"Attribute tested by threshold/any rules" example:"final_grade"`
	Op        Op       `json:"op,omitempty" yaml:"op,omitempty" enum:"gt,gte,lt,lte,eq,ne" doc:"Comparison operator"`
	Value     any      `json:"value,omitempty" yaml:"value,omitempty" doc:"Threshold value (number or string)"`
	Values    []string `json:"values,omitempty" yaml:"values,omitempty" doc:"Accepted values for any rules"`
	Hazard    string   `json:"hazard,omitempty" yaml:"hazard,omitempty" doc:"Hazard dataset for intersects rules" example:"floodplains"`
	Reason    string   `json:"reason" yaml:"reason" required:"true" doc:"Reason shown in the concern popup" example:"Poor Condition"`
}

// Compile turns configs into rules, preserving order. Intersects rules
// resolve hazards through src.
func Compile(cfgs []RuleConfig, src HazardSource) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for i, c := range cfgs {
		if c.Reason == "" {
			return nil, fmt.Errorf("rule %d: reason is required", i)
		}
		switch c.Type {
		case "threshold":
			if c.Attribute == "" {
				return nil, fmt.Errorf("rule %d: threshold needs an attribute", i)
			}
			if !c.Op.Valid() {
				return nil, fmt.Errorf("rule %d: unknown operator %q", i, c.Op)
			}
			if c.Value == nil {
				return nil, fmt.Errorf("rule %d: threshold needs a value", i)
			}
			rules = append(rules, Threshold{Attribute: c.Attribute, Op: c.Op, Value: c.Value, Why: c.Reason})
		case "intersects":
			if c.Hazard == "" {
				return nil, fmt.Errorf("rule %d: intersects needs a hazard dataset", i)
			}
			rules = append(rules, Intersects{Hazard: c.Hazard, Source: src, Why: c.Reason})
		case "any":
			if c.Attribute == "" || len(c.Values) == 0 {
				return nil, fmt.Errorf("rule %d: any needs an attribute and values", i)
			}
			rules = append(rules, Any{Attribute: c.Attribute, Values: c.Values, Why: c.Reason})
		default:
			return nil, fmt.Errorf("rule %d: unknown type %q", i, c.Type)
		}
	}
	return rules, nil
}

// Hazards lists the hazard datasets referenced by cfgs.
func Hazards(cfgs []RuleConfig) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range cfgs {
		if c.Type == "intersects" && c.Hazard != "" && !seen[c.Hazard] {
			seen[c.Hazard] = true
			out = append(out, c.Hazard)
		}
	}
	return out
}
