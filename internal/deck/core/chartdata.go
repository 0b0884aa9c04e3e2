package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// labelKeyOrder is the preference order checked when a category label
// arrives as an object instead of a string.
var labelKeyOrder = []string{"label", "name", "text", "category", "title"}

// DecodeChartData turns a raw LLM-authored chart block into a
// render-ready ChartData. Inputs are not guaranteed to be well-typed:
// values may arrive as numbers, numeric strings, or objects wrapping a
// number; labels may arrive as strings or objects. Malformed entries
// degrade to defaults, never to an error. Mismatched category/value
// lengths are truncated to the shorter list; waterfall charts keep a
// floor of two entries.
func DecodeChartData(raw map[string]interface{}) ChartData {
	cd := ChartData{}
	if raw == nil {
		return cd
	}

	if kind, ok := raw["kind"].(string); ok {
		cd.Kind = kind
	} else if kind, ok := raw["type"].(string); ok {
		cd.Kind = kind
	}
	if label, ok := raw["metric_label"].(string); ok {
		cd.MetricLabel = label
	} else if label, ok := raw["metric"].(string); ok {
		cd.MetricLabel = label
	}

	cd.Categories = coerceLabelList(raw["categories"])
	cd.Values = coerceFloatList(raw["values"])

	return ReconcileChart(cd)
}

// ReconcileChart enforces the structural rules on an already-decoded
// chart: truncate categories and values to the shorter length, and pad
// waterfall charts up to two entries.
func ReconcileChart(cd ChartData) ChartData {
	n := len(cd.Categories)
	if len(cd.Values) < n {
		n = len(cd.Values)
	}
	cd.Categories = cd.Categories[:n]
	cd.Values = cd.Values[:n]

	if cd.Kind == "waterfall" {
		for len(cd.Categories) < 2 {
			cd.Categories = append(cd.Categories, "")
			cd.Values = append(cd.Values, 0)
		}
	}
	return cd
}

func coerceLabelList(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		if ss, ok := raw.([]string); ok {
			return append([]string(nil), ss...)
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, coerceLabel(item))
	}
	return out
}

func coerceFloatList(raw interface{}) []float64 {
	items, ok := raw.([]interface{})
	if !ok {
		if fs, ok := raw.([]float64); ok {
			return append([]float64(nil), fs...)
		}
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		out = append(out, coerceFloat(item))
	}
	return out
}

// coerceFloat extracts a numeric value from whatever the model emitted.
// Objects are scanned in sorted key order so the result is stable; the
// first parseable numeric value wins. Anything unusable becomes 0.
func coerceFloat(raw interface{}) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v), "+"), 64); err == nil {
			return f
		}
		return 0
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch inner := v[k].(type) {
			case float64:
				return inner
			case float32:
				return float64(inner)
			case int:
				return float64(inner)
			case int64:
				return float64(inner)
			case string:
				if f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(inner), "+"), 64); err == nil {
					return f
				}
			}
		}
		return 0
	default:
		return 0
	}
}

// coerceLabel extracts a display string. Objects are checked against a
// fixed key preference (label, name, text, category, title), then the
// first string-typed value in sorted key order, then the object's
// string representation.
func coerceLabel(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case map[string]interface{}:
		for _, key := range labelKeyOrder {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(raw)
	}
}
