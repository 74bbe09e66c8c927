package validate

import (
	"strings"
	"testing"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/danmuck/holoctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func mustCatalog(t *testing.T, rows []schema.Row) *schema.Catalog {
	t.Helper()
	cat, err := schema.Build(rows)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func mustTree(t *testing.T, doc string) *configtree.Tree {
	t.Helper()
	tree, err := configtree.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse %q: %v", doc, err)
	}
	return tree
}

func declaredRows() []schema.Row {
	return []schema.Row{
		{Name: "binning_factor", DefaultValue: "64"},
		{Marker: "class", Value: "QSpinBox"},
		{Marker: "minimum", Value: "8"},
		{Marker: "maximum", Value: "256"},
		{Name: "radius_smooth", DefaultValue: "2.0"},
		{Marker: "class", Value: "QDoubleSpinBox"},
		{Name: "display_raw", DefaultValue: "False"},
		{Marker: "class", Value: "QCheckBox"},
	}
}

func TestScenarioUndeclaredKeysTypeMismatch(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, []schema.Row{
		{Name: "binning_factor", DefaultValue: "64"},
		{Marker: "minimum", Value: "8"},
		{Marker: "maximum", Value: "256"},
		{Name: "radius_smooth", DefaultValue: "2.0"},
	})
	sub := mustTree(t, `{"binning_factor": 63.2, "radius_smooth": true}`)

	res := Validate(sub, cat, DefaultOptions())
	wantErrs := []string{
		"Value type of JSON object binning_factor is not correct. Expected: int, got: float.",
		"Value type of JSON object radius_smooth is not correct. Expected: float, got: bool.",
	}
	if diff := cmp.Diff(wantErrs, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"binning_factor", "radius_smooth"}, res.Warnings); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}
	if res.OK() {
		t.Fatalf("expected failed result")
	}
}

func TestIntWidensToFloat(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	res := Validate(mustTree(t, `{"radius_smooth": 3}`), cat, DefaultOptions())
	if len(res.Errors) != 0 {
		t.Fatalf("widening should be accepted: %v", res.Errors)
	}
	if res.Values[1].Value != int64(3) || !res.Values[1].Set {
		t.Fatalf("widened value not applied: %+v", res.Values[1])
	}

	res = Validate(mustTree(t, `{"binning_factor": 12.0}`), cat, DefaultOptions())
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "Expected: int, got: float") {
		t.Fatalf("narrowing should be rejected: %v", res.Errors)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	sub := mustTree(t, `{"binning_factor": 300, "ghost": 1, "radius_smooth": "x"}`)
	first := Validate(sub, cat, DefaultOptions())
	second := Validate(sub, cat, DefaultOptions())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated run differs (-first +second):\n%s", diff)
	}
	if len(first.Errors) != 3 {
		t.Fatalf("unexpected errors: %v", first.Errors)
	}
}

func TestUnknownKeyReportedOnce(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	sub := mustTree(t, `{"use_holointerface": true, "mystery": 4, "binning_factor": 16}`)
	res := Validate(sub, cat, DefaultOptions())
	want := []string{"JSON object mystery is not known in HoloSoftware."}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownContainerChildrenStillChecked(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	sub := mustTree(t, `{"detect_in_focus_settings": {"binning_factor": 4, "radius_smooth": 1.5}}`)

	res := Validate(sub, cat, DefaultOptions())
	want := []string{
		"JSON object detect_in_focus_settings is not known in HoloSoftware.",
		"Value of JSON object binning_factor is too low. Minimum value is: 8, got: 4.",
	}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}

	opts := DefaultOptions()
	opts.AllowUnknownContainers = true
	res = Validate(sub, cat, opts)
	if diff := cmp.Diff(want[1:], res.Errors); diff != "" {
		t.Fatalf("errors mismatch with containers allowed (-want +got):\n%s", diff)
	}
}

func TestRangeBoundariesInclusive(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	cases := []struct {
		doc  string
		want []string
	}{
		{`{"binning_factor": 8}`, []string{}},
		{`{"binning_factor": 256}`, []string{}},
		{`{"binning_factor": 7}`, []string{"Value of JSON object binning_factor is too low. Minimum value is: 8, got: 7."}},
		{`{"binning_factor": 257}`, []string{"Value of JSON object binning_factor is too high. Maximum value is: 256, got: 257."}},
	}
	for _, tc := range cases {
		res := Validate(mustTree(t, tc.doc), cat, DefaultOptions())
		if diff := cmp.Diff(tc.want, res.Errors); diff != "" {
			t.Fatalf("%s: errors mismatch (-want +got):\n%s", tc.doc, diff)
		}
	}
}

func TestRangeFirstDeclaredSkipsMaximum(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	opts := DefaultOptions()
	opts.RangePolicy = RangeCheckFirstDeclared
	res := Validate(mustTree(t, `{"binning_factor": 1000}`), cat, opts)
	if len(res.Errors) != 0 {
		t.Fatalf("maximum should not be checked when a minimum exists: %v", res.Errors)
	}

	onlyMax := mustCatalog(t, []schema.Row{
		{Name: "gain", DefaultValue: "1"},
		{Marker: "class", Value: "QSpinBox"},
		{Marker: "maximum", Value: "10"},
	})
	res = Validate(mustTree(t, `{"gain": 11}`), onlyMax, opts)
	if len(res.Errors) != 1 {
		t.Fatalf("maximum should be checked without a minimum: %v", res.Errors)
	}
}

func TestWarningsIndependentOfOutcome(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, []schema.Row{
		{Name: "threshold", DefaultValue: "0.5"},
		{Name: "count", DefaultValue: "3"},
		{Marker: "class", Value: "QSpinBox"},
	})
	res := Validate(mustTree(t, `{"threshold": "bad", "count": 2}`), cat, DefaultOptions())
	if diff := cmp.Diff([]string{"threshold"}, res.Warnings); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}

func TestEffectiveValuesFallBackToDefault(t *testing.T) {
	testlog.Start(t)
	cat := mustCatalog(t, declaredRows())
	res := Validate(mustTree(t, `{"binning_factor": 999, "display_raw": true}`), cat, DefaultOptions())
	want := []Value{
		{Name: "binning_factor", Value: "64"},
		{Name: "radius_smooth", Value: "2.0"},
		{Name: "display_raw", Value: true, Set: true},
	}
	if diff := cmp.Diff(want, res.Values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cat.Lookup("binning_factor"); !ok {
		t.Fatalf("catalog lookup broken")
	}
	n, _ := cat.Lookup("display_raw")
	if n.SetValue != nil {
		t.Fatalf("caller catalog must not be mutated")
	}
}

func TestSummary(t *testing.T) {
	testlog.Start(t)
	if got := (Result{}).Summary(); got != "Interface: Simulation finished! No Errors found." {
		t.Fatalf("unexpected summary: %q", got)
	}
	got := Result{Errors: []string{"a", "b"}}.Summary()
	if got != "Interface: Simulation finished! Errors found: ['a', 'b']" {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestParseRangePolicy(t *testing.T) {
	testlog.Start(t)
	if p, err := ParseRangePolicy(""); err != nil || p != RangeCheckBoth {
		t.Fatalf("empty policy: %v %v", p, err)
	}
	if p, err := ParseRangePolicy("first_declared"); err != nil || p != RangeCheckFirstDeclared {
		t.Fatalf("first_declared policy: %v %v", p, err)
	}
	if _, err := ParseRangePolicy("sometimes"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
