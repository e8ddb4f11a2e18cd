// Package policy implements attribute-based access control over a
// declarative policy document. The document is parsed and validated once at
// startup and immutable afterwards; evaluation is a pure function of
// (resource, action, context).
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Document is the parsed policy document.
type Document struct {
	// Policies in declaration order. Order matters: the first allow wins,
	// and a denial is attributed to the first matching policy.
	Policies []Policy `json:"policies"`

	// RiskFactors overrides risk indicator weights per indicator name.
	RiskFactors map[string]int `json:"risk_factors"`

	// DeviceTrustRequirements is deployment guidance carried alongside the
	// policies. It is parsed and exposed for operators; nothing in the
	// decision path consumes it.
	DeviceTrustRequirements map[string]any `json:"device_trust_requirements"`
}

// Policy is one access rule. Resource and Action match exactly or via the
// wildcard "*"; all conditions must hold for the policy to allow.
type Policy struct {
	ID         string     `json:"id"`
	Resource   string     `json:"resource"`
	Action     string     `json:"action"`
	Conditions Conditions `json:"conditions"`
}

// Matches reports whether this policy applies to the (resource, action)
// tuple.
func (p *Policy) Matches(resource, action string) bool {
	return (p.Resource == resource || p.Resource == Wildcard) &&
		(p.Action == action || p.Action == Wildcard)
}

// Wildcard matches any resource or action.
const Wildcard = "*"

// Load reads, parses and validates the policy document at path. Any
// problem fails loading; a gateway must not start with a document it
// cannot fully understand.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	doc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("policy document %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a policy document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	seen := make(map[string]bool, len(d.Policies))
	for i := range d.Policies {
		p := &d.Policies[i]
		if p.ID == "" {
			return fmt.Errorf("policy %d has no id: %w", i, domain.ErrInvalidInput)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate policy id %q: %w", p.ID, domain.ErrInvalidInput)
		}
		seen[p.ID] = true
		if p.Resource == "" || p.Action == "" {
			return fmt.Errorf("policy %q needs resource and action: %w", p.ID, domain.ErrInvalidInput)
		}
	}
	for indicator, weight := range d.RiskFactors {
		if weight < 0 {
			return fmt.Errorf("risk factor %q has negative weight %d: %w", indicator, weight, domain.ErrInvalidInput)
		}
	}
	return nil
}

// Conditions preserves the declaration order of a policy's condition
// object, which fixes the order of reported failed conditions.
type Conditions []Condition

// Condition is one predicate over a named context attribute.
type Condition struct {
	Key       string
	Predicate Predicate
}

// UnmarshalJSON walks the condition object token by token so declaration
// order survives decoding.
func (c *Conditions) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("conditions must be an object: %w", domain.ErrInvalidInput)
	}

	var out Conditions
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("condition key %v: %w", keyTok, domain.ErrInvalidInput)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		pred, err := parsePredicate(raw)
		if err != nil {
			return fmt.Errorf("condition %q: %w", key, err)
		}
		out = append(out, Condition{Key: key, Predicate: pred})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

// parsePredicate maps a condition value to its predicate by shape. Shapes
// the engine does not understand are rejected at load time; a condition
// that silently never applied would be an allow rule nobody wrote.
func parsePredicate(raw json.RawMessage) (Predicate, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty condition: %w", domain.ErrInvalidInput)
	}
	switch trimmed[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, fmt.Errorf("bad boolean condition: %w", domain.ErrInvalidInput)
		}
		return BoolPredicate{Want: b}, nil

	case '{':
		var bounds struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&bounds); err != nil {
			return nil, fmt.Errorf("bad range condition: %w", domain.ErrInvalidInput)
		}
		if bounds.Min == nil && bounds.Max == nil {
			return nil, fmt.Errorf("range condition needs min or max: %w", domain.ErrInvalidInput)
		}
		if bounds.Min != nil && bounds.Max != nil && *bounds.Min > *bounds.Max {
			return nil, fmt.Errorf("range condition min above max: %w", domain.ErrInvalidInput)
		}
		return RangePredicate{Min: bounds.Min, Max: bounds.Max}, nil

	case '[':
		var elems []any
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("bad list condition: %w", domain.ErrInvalidInput)
		}
		return ListPredicate{Any: elems}, nil

	default:
		return nil, fmt.Errorf("unsupported condition shape %s: %w", trimmed, domain.ErrInvalidInput)
	}
}
