package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Problem is one contract violation in a tool call's arguments.
type Problem struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// ValidationError is returned when model-supplied arguments do not satisfy a
// tool's input contract. It is fed back to the model, never to the user.
type ValidationError struct {
	Tool     string    `json:"tool"`
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Field == "" {
			parts = append(parts, p.Reason)
			continue
		}
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// dateLayouts are the ISO forms accepted for date arguments.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func validate(d *definition, arguments string) (string, error) {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
		return "", &ValidationError{Tool: d.info.Name, Problems: []Problem{{Reason: "arguments must be a JSON object"}}}
	}

	out := make(map[string]any, len(d.fields))
	var problems []Problem
	for _, f := range d.fields {
		v, present := raw[f.name]
		if !present || v == nil {
			if f.required {
				problems = append(problems, Problem{Field: f.name, Reason: "is required"})
			}
			continue
		}
		nv, reason := checkField(f, v)
		if reason != "" {
			problems = append(problems, Problem{Field: f.name, Reason: reason})
			continue
		}
		if nv == nil {
			continue
		}
		out[f.name] = nv
	}
	if len(problems) > 0 {
		return "", &ValidationError{Tool: d.info.Name, Problems: problems}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal normalized arguments: %w", err)
	}
	return string(b), nil
}

// checkField returns the normalized value, nil for an optional value that
// should be dropped, or a reason when v violates the contract.
func checkField(f field, v any) (any, string) {
	switch f.typ {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			if f.required {
				return nil, "must not be empty"
			}
			return nil, ""
		}
		switch f.format {
		case formatEmail:
			addr, err := mail.ParseAddress(s)
			if err != nil || addr.Address != s {
				return nil, "must be a valid email address"
			}
		case formatDate:
			if !isISODate(s) {
				return nil, "must be an ISO date such as 2025-01-31"
			}
		}
		return s, ""

	case schema.Number, schema.Integer:
		n, ok := toNumber(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, "must be a number"
		}
		if f.typ == schema.Integer && n != math.Trunc(n) {
			return nil, "must be a whole number"
		}
		if f.min != nil {
			if f.exclusive && n <= *f.min {
				return nil, fmt.Sprintf("must be greater than %v", *f.min)
			}
			if !f.exclusive && n < *f.min {
				return nil, fmt.Sprintf("must be at least %v", *f.min)
			}
		}
		return n, ""

	case schema.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, "must be true or false"
		}
		return b, ""
	}
	return v, ""
}

var groupedNumber = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

func toNumber(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case string:
		s := strings.TrimSpace(vv)
		if strings.Contains(s, ",") {
			// Only thousands grouping is accepted; a decimal comma is ambiguous.
			if !groupedNumber.MatchString(s) {
				return 0, false
			}
			s = strings.ReplaceAll(s, ",", "")
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func isISODate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
