package core

import "testing"

func TestDecodeChartDataTruncatesToShorter(t *testing.T) {
	raw := map[string]interface{}{
		"kind":       "bar",
		"categories": []interface{}{"A", "B", "C", "D", "E"},
		"values":     []interface{}{10.0, 20.0},
	}
	cd := DecodeChartData(raw)
	if len(cd.Categories) != 2 || len(cd.Values) != 2 {
		t.Fatalf("expected 2 pairs, got %d categories / %d values", len(cd.Categories), len(cd.Values))
	}
	if cd.Categories[0] != "A" || cd.Values[1] != 20 {
		t.Fatalf("unexpected pair content: %+v", cd)
	}
}

func TestCoerceFloatFromObject(t *testing.T) {
	// first parseable numeric among the object's values, sorted key order
	got := coerceFloat(map[string]interface{}{
		"note":   "not a number",
		"amount": 42.5,
		"zz":     7.0,
	})
	if got != 42.5 {
		t.Fatalf("expected 42.5, got %v", got)
	}
	if got := coerceFloat(map[string]interface{}{"a": "nope", "b": "still no"}); got != 0 {
		t.Fatalf("expected default 0 for unparseable object, got %v", got)
	}
	if got := coerceFloat("15.5"); got != 15.5 {
		t.Fatalf("expected numeric string to parse, got %v", got)
	}
	if got := coerceFloat("+8"); got != 8 {
		t.Fatalf("expected plus-prefixed string to parse, got %v", got)
	}
	if got := coerceFloat(nil); got != 0 {
		t.Fatalf("expected default 0 for nil, got %v", got)
	}
}

func TestCoerceLabelPreferenceOrder(t *testing.T) {
	obj := map[string]interface{}{
		"title": "from title",
		"name":  "from name",
	}
	if got := coerceLabel(obj); got != "from name" {
		t.Fatalf("expected name to win over title, got %q", got)
	}
	obj = map[string]interface{}{"whatever": "fallback string"}
	if got := coerceLabel(obj); got != "fallback string" {
		t.Fatalf("expected first string value fallback, got %q", got)
	}
	if got := coerceLabel("plain"); got != "plain" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestReconcileChartWaterfallFloor(t *testing.T) {
	cd := ReconcileChart(ChartData{Kind: "waterfall", Categories: []string{"only"}, Values: []float64{5}})
	if len(cd.Categories) != 2 || len(cd.Values) != 2 {
		t.Fatalf("waterfall floor of 2 not enforced: %+v", cd)
	}
	// non-waterfall kinds keep their single entry
	cd = ReconcileChart(ChartData{Kind: "bar", Categories: []string{"only"}, Values: []float64{5}})
	if len(cd.Categories) != 1 {
		t.Fatalf("bar chart should keep one entry, got %d", len(cd.Categories))
	}
}

func TestDecodeChartDataNeverPanics(t *testing.T) {
	inputs := []map[string]interface{}{
		nil,
		{},
		{"categories": "not a list", "values": 12},
		{"categories": []interface{}{map[string]interface{}{}, 3.14}, "values": []interface{}{nil, []interface{}{}}},
		{"kind": 42, "values": []interface{}{map[string]interface{}{"deep": map[string]interface{}{"x": 1}}}},
	}
	for i, raw := range inputs {
		cd := DecodeChartData(raw)
		if len(cd.Categories) != len(cd.Values) {
			t.Fatalf("case %d: categories/values length mismatch after decode: %+v", i, cd)
		}
	}
}
