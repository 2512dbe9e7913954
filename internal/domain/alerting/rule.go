package alerting

import (
	"strings"
	"time"
)

// Severity represents how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Operator is a comparison operator usable inside a rule condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Condition is one field check inside a rule. Field is a dot-path into
// the event data bag ("product.price").
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Rule is a declarative alert rule. Rules are authored by the admin
// surface and read-only here.
type Rule struct {
	ID                 int64
	Name               string
	EventType          string
	Conditions         []Condition
	Severity           Severity
	Channels           []string
	CooldownMinutes    int
	BatchWindowMinutes int
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Matches reports whether the event data satisfies every condition of
// the rule. A rule without conditions matches any event of its type.
func (r *Rule) Matches(data map[string]any) bool {
	for _, cond := range r.Conditions {
		if !cond.Holds(data) {
			return false
		}
	}
	return true
}

// Holds evaluates the condition against the data bag. Evaluation is
// total: a missing field or an unknown operator makes the condition
// false, never an error.
func (c Condition) Holds(data map[string]any) bool {
	value, ok := lookupPath(data, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return equal(value, c.Value)
	case OpNe:
		return !equal(value, c.Value)
	case OpGt:
		a, b, ok := bothNumeric(value, c.Value)
		return ok && a > b
	case OpLt:
		a, b, ok := bothNumeric(value, c.Value)
		return ok && a < b
	case OpGte:
		a, b, ok := bothNumeric(value, c.Value)
		return ok && a >= b
	case OpLte:
		a, b, ok := bothNumeric(value, c.Value)
		return ok && a <= b
	case OpContains:
		s, sok := value.(string)
		sub, subok := c.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

func lookupPath(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(a, b any) bool {
	if fa, fb, ok := bothNumeric(a, b); ok {
		return fa == fb
	}
	return a == b
}

// bothNumeric coerces the JSON numeric types to float64 so rules
// authored with integer thresholds match decoded float values.
func bothNumeric(a, b any) (float64, float64, bool) {
	fa, ok := asFloat(a)
	if !ok {
		return 0, 0, false
	}
	fb, ok := asFloat(b)
	if !ok {
		return 0, 0, false
	}
	return fa, fb, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}
