// Package validate checks a submitted configuration tree against the schema
// catalog and reports errors, warnings, and the effective value per key.
package validate

import (
	"fmt"
	"strings"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/rs/zerolog/log"
)

const DefaultExemptKey = "use_holointerface"

// RangePolicy selects how declared bounds are applied.
type RangePolicy int

const (
	// RangeCheckBoth rejects values outside either declared bound.
	RangeCheckBoth RangePolicy = iota
	// RangeCheckFirstDeclared only checks the minimum when one is declared,
	// and only falls back to the maximum when no minimum exists.
	RangeCheckFirstDeclared
)

func (p RangePolicy) String() string {
	if p == RangeCheckFirstDeclared {
		return "first_declared"
	}
	return "both"
}

// ParseRangePolicy accepts "both" or "first_declared"; empty means both.
func ParseRangePolicy(raw string) (RangePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "both":
		return RangeCheckBoth, nil
	case "first_declared", "first-declared":
		return RangeCheckFirstDeclared, nil
	default:
		return RangeCheckBoth, fmt.Errorf("validate: unknown range policy %q", raw)
	}
}

type Options struct {
	// ExemptKeys are never reported as unknown.
	ExemptKeys             []string
	AllowUnknownContainers bool
	RangePolicy            RangePolicy
}

func DefaultOptions() Options {
	return Options{ExemptKeys: []string{DefaultExemptKey}}
}

// Value is the effective value of one schema key after a run.
type Value struct {
	Name string `json:"name"`
	// Value is the accepted submitted value, or the schema default text.
	Value any  `json:"value"`
	Set   bool `json:"set"`
}

type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Values   []Value  `json:"values,omitempty"`
}

func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Summary renders the one-line verdict returned to engine clients.
func (r Result) Summary() string {
	if r.OK() {
		return "Interface: Simulation finished! No Errors found."
	}
	quoted := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		quoted[i] = "'" + e + "'"
	}
	return "Interface: Simulation finished! Errors found: [" + strings.Join(quoted, ", ") + "]"
}

// Validate walks submitted depth-first and compares every node against the
// flat catalog. The catalog is cloned first, so repeated runs against the same
// catalog produce identical results.
func Validate(submitted *configtree.Tree, cat *schema.Catalog, opts Options) Result {
	run := &run{
		cat:    cat.Clone(),
		opts:   opts,
		exempt: make(map[string]struct{}, len(opts.ExemptKeys)),
	}
	for _, k := range opts.ExemptKeys {
		run.exempt[k] = struct{}{}
	}
	res := Result{Errors: []string{}, Warnings: []string{}}
	if submitted != nil {
		submitted.Walk(func(id configtree.NodeID, _ int) bool {
			run.compare(submitted.Node(id), &res)
			return true
		})
	}
	res.Values = effectiveValues(run.cat)

	log.Debug().
		Int("errors", len(res.Errors)).
		Int("warnings", len(res.Warnings)).
		Msg("validate: run complete")
	return res
}

type run struct {
	cat    *schema.Catalog
	opts   Options
	exempt map[string]struct{}
}

func (r *run) compare(sub *configtree.Node, res *Result) {
	ref, ok := r.cat.Lookup(sub.Name)
	if !ok {
		if _, exempt := r.exempt[sub.Name]; exempt {
			return
		}
		if r.opts.AllowUnknownContainers && !sub.IsLeaf() {
			return
		}
		res.Errors = append(res.Errors, fmt.Sprintf("JSON object %s is not known in HoloSoftware.", sub.Name))
		return
	}

	if !typesMatch(ref.Type, sub.Type) {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"Value type of JSON object %s is not correct. Expected: %s, got: %s.",
			sub.Name, ref.Type, sub.Type))
		ref.ErrorFlag = true
	} else if msg := r.checkRange(sub, ref.Range); msg != "" {
		res.Errors = append(res.Errors, msg)
		ref.ErrorFlag = true
	}

	if !ref.ErrorFlag {
		ref.SetValue = sub.SetValue
	}
	if ref.MissingFromSchema {
		res.Warnings = append(res.Warnings, sub.Name)
	}
}

// typesMatch allows an int to stand in for a float, never the reverse.
func typesMatch(want, got configtree.ValueType) bool {
	return want == got || (want == configtree.Float && got == configtree.Int)
}

func (r *run) checkRange(sub *configtree.Node, rng configtree.Range) string {
	v, ok := configtree.NumericValue(sub.SetValue)
	if !ok || rng.Empty() {
		return ""
	}
	if rng.Minimum != nil && v < rng.Minimum.Value {
		return fmt.Sprintf("Value of JSON object %s is too low. Minimum value is: %s, got: %s.",
			sub.Name, rng.Minimum.Raw, configtree.FormatValue(sub.SetValue))
	}
	if rng.Minimum != nil && r.opts.RangePolicy == RangeCheckFirstDeclared {
		return ""
	}
	if rng.Maximum != nil && v > rng.Maximum.Value {
		return fmt.Sprintf("Value of JSON object %s is too high. Maximum value is: %s, got: %s.",
			sub.Name, rng.Maximum.Raw, configtree.FormatValue(sub.SetValue))
	}
	return ""
}

func effectiveValues(cat *schema.Catalog) []Value {
	nodes := cat.Nodes()
	out := make([]Value, 0, len(nodes))
	for _, n := range nodes {
		v := Value{Name: n.Name, Value: n.DefaultValue}
		if n.SetValue != nil {
			v.Value = n.SetValue
			v.Set = true
		}
		out = append(out, v)
	}
	return out
}
