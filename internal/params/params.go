// Package params normalizes raw generation parameters against a model schema
// and decodes them into typed per-category structs.
package params

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"genbot/internal/domain"
)

// FieldError describes the first offending parameter.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return domain.ErrInvalidParams }

// Fingerprint hashes the model id and the sorted, trimmed parameter pairs.
// Boolean-like strings and numeric values collapse to one canonical form so
// "true" and true fingerprint identically.
func Fingerprint(modelID string, raw map[string]any) string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(modelID)))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(k)))
		h.Write([]byte{'='})
		h.Write([]byte(canonical(raw[k])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "true":
			return "true"
		case "false":
			return "false"
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return s
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return canonical(t.String())
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// Normalize applies schema defaults, coerces values to their declared types
// and rejects unknown or malformed fields.
func Normalize(spec domain.ModelSpec, raw map[string]any) (map[string]any, error) {
	for name := range raw {
		if _, ok := spec.Param(name); !ok {
			return nil, &FieldError{Field: name, Reason: "unknown parameter"}
		}
	}

	out := make(map[string]any, len(spec.Params))
	for _, p := range spec.Params {
		v, present := raw[p.Name]
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			present = false
		}
		if !present || v == nil {
			if p.Default != nil {
				v = p.Default
			} else if p.Required {
				return nil, &FieldError{Field: p.Name, Reason: "is required"}
			} else {
				continue
			}
		}

		coerced, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, coerced) {
			return nil, &FieldError{Field: p.Name, Reason: fmt.Sprintf("must be one of %s", strings.Join(p.Enum, ", "))}
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func coerce(p domain.ParamSpec, v any) (any, error) {
	switch p.Type {
	case domain.ParamBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, &FieldError{Field: p.Name, Reason: "must be a boolean"}
	case domain.ParamInt:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, &FieldError{Field: p.Name, Reason: "must be an integer"}
		}
		return int64(f), nil
	case domain.ParamFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, &FieldError{Field: p.Name, Reason: "must be a number"}
		}
		return f, nil
	case domain.ParamString, "":
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t), nil
		case bool, int, int32, int64, float32, float64, json.Number:
			return canonical(t), nil
		}
		return nil, &FieldError{Field: p.Name, Reason: "must be a string"}
	default:
		return nil, &FieldError{Field: p.Name, Reason: fmt.Sprintf("unsupported type %q", p.Type)}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func inEnum(enum []string, v any) bool {
	s := canonical(v)
	for _, e := range enum {
		if strings.EqualFold(e, s) {
			return true
		}
	}
	return false
}
