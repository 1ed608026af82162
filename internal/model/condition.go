package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Operator is the closed set of comparison and combinator operators a
// Condition may use.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpMatches     Operator = "matches"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "notExists"
	OpIsNull      Operator = "isNull"
	OpIsNotNull   Operator = "isNotNull"
	OpBetween     Operator = "between"
	OpAnd         Operator = "and"
	OpOr          Operator = "or"
	OpNot         Operator = "not"
)

// UnaryOperators forbid a value; all other leaf operators require one.
var UnaryOperators = map[Operator]bool{
	OpExists:    true,
	OpNotExists: true,
	OpIsNull:    true,
	OpIsNotNull: true,
}

// CombinatorOperators carry nested Conditions instead of a Source/Value.
var CombinatorOperators = map[Operator]bool{
	OpAnd: true,
	OpOr:  true,
	OpNot: true,
}

// SourceKind is the closed set of condition-value source variants.
type SourceKind string

const (
	SourceFact     SourceKind = "fact"
	SourceEvent    SourceKind = "event"
	SourceContext  SourceKind = "context"
	SourceLookup   SourceKind = "lookup"
	SourceBaseline SourceKind = "baseline"
)

// DefaultBaselineSensitivity is used when Source.Sensitivity is nil.
const DefaultBaselineSensitivity = 2.0

// Source identifies where a leaf Condition reads its live value from.
type Source struct {
	Kind SourceKind `json:"kind"`

	Pattern string `json:"pattern,omitempty"` // fact
	Field   string `json:"field,omitempty"`   // event, lookup (optional)
	Key     string `json:"key,omitempty"`     // context
	Name    string `json:"name,omitempty"`    // lookup

	Metric     string   `json:"metric,omitempty"`     // baseline
	Comparison string   `json:"comparison,omitempty"` // baseline: above|below|deviates
	Sensitivity *float64 `json:"sensitivity,omitempty"`
}

// ResolvedSensitivity returns Sensitivity or DefaultBaselineSensitivity.
func (s Source) ResolvedSensitivity() float64 {
	if s.Sensitivity != nil {
		return *s.Sensitivity
	}
	return DefaultBaselineSensitivity
}

// ConditionValue is either a literal JSON value or a {ref: "..."}
// reference resolved against the binding context at evaluation time.
type ConditionValue struct {
	Ref     string
	IsRef   bool
	Literal any
}

// MarshalJSON renders a ref as {"ref": "..."} and a literal as itself.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.IsRef {
		return json.Marshal(map[string]string{"ref": v.Ref})
	}
	return json.Marshal(v.Literal)
}

// UnmarshalJSON detects the {"ref": "..."} shape; anything else is a
// literal of whatever JSON type it decodes to.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			if refRaw, ok := probe["ref"]; ok && len(probe) == 1 {
				var ref string
				if err := json.Unmarshal(refRaw, &ref); err != nil {
					return fmt.Errorf("condition value ref: %w", err)
				}
				v.Ref = ref
				v.IsRef = true
				return nil
			}
		}
	}
	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return err
	}
	v.Literal = lit
	v.IsRef = false
	return nil
}

// Condition is a tagged variant: Operator selects between a leaf
// (Source + Value) and a combinator (Children), per CombinatorOperators.
type Condition struct {
	Operator Operator         `json:"operator"`
	Source   *Source          `json:"source,omitempty"`
	Value    *ConditionValue  `json:"value,omitempty"`
	Children []Condition      `json:"conditions,omitempty"`
}

func (c Condition) clone() Condition {
	out := c
	if c.Source != nil {
		src := *c.Source
		if c.Source.Sensitivity != nil {
			s := *c.Source.Sensitivity
			src.Sensitivity = &s
		}
		out.Source = &src
	}
	if c.Value != nil {
		val := *c.Value
		out.Value = &val
	}
	if c.Children != nil {
		out.Children = make([]Condition, len(c.Children))
		for i, ch := range c.Children {
			out.Children[i] = ch.clone()
		}
	}
	return out
}
