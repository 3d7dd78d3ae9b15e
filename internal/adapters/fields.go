package adapters

import (
	"encoding/json"
	"math"

	"github.com/prudhvinik1/omnisync/internal/models"
)

func requiredString(wire models.WireRecord, field string) (string, error) {
	v, ok := wire[field]
	if !ok || v == nil {
		return "", invalid(field, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(field, "must be a string")
	}
	if s == "" {
		return "", invalid(field, "must not be empty")
	}
	return s, nil
}

func optionalString(wire models.WireRecord, field string, payload map[string]any) error {
	v, ok := wire[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return invalid(field, "must be a string")
	}
	payload[field] = s
	return nil
}

func optionalBool(wire models.WireRecord, field string, payload map[string]any) error {
	v, ok := wire[field]
	if !ok || v == nil {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return invalid(field, "must be a boolean")
	}
	payload[field] = b
	return nil
}

func optionalNumber(wire models.WireRecord, field string, payload map[string]any) error {
	v, ok := wire[field]
	if !ok || v == nil {
		return nil
	}
	n, ok := toFloat(v)
	if !ok {
		return invalid(field, "must be a number")
	}
	payload[field] = n
	return nil
}

func requiredInt(wire models.WireRecord, field string) (int64, error) {
	v, ok := wire[field]
	if !ok || v == nil {
		return 0, invalid(field, "is required")
	}
	n, ok := toFloat(v)
	if !ok || n != math.Trunc(n) {
		return 0, invalid(field, "must be an integer")
	}
	return int64(n), nil
}

func optionalObject(wire models.WireRecord, field string, payload map[string]any) error {
	v, ok := wire[field]
	if !ok || v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return invalid(field, "must be an object")
	}
	payload[field] = obj
	return nil
}

// optionalObjectList accepts an array of objects, each of which must carry
// a non-empty string under key.
func optionalObjectList(wire models.WireRecord, field, key string, payload map[string]any) error {
	v, ok := wire[field]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return invalid(field, "must be an array")
	}
	out := make([]any, 0, len(list))
	for _, elem := range list {
		obj, ok := elem.(map[string]any)
		if !ok {
			return invalid(field, "must contain only objects")
		}
		if s, ok := obj[key].(string); !ok || s == "" {
			return invalid(field, "every element needs a "+key)
		}
		out = append(out, obj)
	}
	payload[field] = out
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
