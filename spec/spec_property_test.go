package spec

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"
)

func TestProperty_CanonicalStringDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("canonical string survives a JSON round trip", prop.ForAll(
		func(process string, paramKeys []string, paramVals []int) bool {
			params := map[string]any{}
			for i, k := range paramKeys {
				if i < len(paramVals) {
					params[k] = paramVals[i]
				}
			}
			spec := &RunSpec{Process: process, Params: params}
			bs, err := NewBranchSpec([]*RunSpec{spec})
			if err != nil {
				return true // duplicate-free by construction, skip invalid
			}

			parsed, err := FromJSON([]byte(bs.String()))
			if err != nil {
				t.Logf("parse failed: %v", err)
				return false
			}
			return parsed.String() == bs.String()
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Int()),
	))

	properties.Property("copies share the canonical string", prop.ForAll(
		func(process, alias string, n int) bool {
			spec := &RunSpec{
				Process: process,
				Alias:   alias,
				Params:  map[string]any{"n": n},
			}
			return spec.Copy().String() == spec.String()
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestProperty_SweepExpansionCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("group expansion size is the product of sweep cardinalities", prop.ForAll(
		func(a, b int) bool {
			if a < 1 || a > 6 || b < 1 || b > 6 {
				return true
			}
			group := map[string]any{
				KeyProcess: "normalize",
				KeyParams: map[string]any{
					"x": map[string]any{KeySweep: map[string]any{"min": 1, "max": a, "step": 1}},
					"y": map[string]any{KeySweep: map[string]any{"min": 1, "max": b, "step": 1}},
				},
			}
			g, err := NewRunGroupSpec(group)
			if err != nil {
				t.Logf("expansion failed: %v", err)
				return false
			}
			return len(g.RunSpecs()) == a*b
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestPrecursorsRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		runs := make([]*RunSpec, n)
		names := make([]string, n)
		for i := range runs {
			name := rapid.StringMatching(`p[0-9]{1,3}`).Draw(t, "name")
			runs[i] = &RunSpec{Process: name}
			names[i] = name
		}
		bs, err := NewBranchSpec(runs)
		if err != nil {
			// Duplicate names are rejected; nothing further to check.
			return
		}

		for i, name := range names {
			precursors, ok := bs.Precursors(name, false, false)
			if !ok {
				t.Fatalf("precursors missing for %s", name)
			}
			if len(precursors) != i {
				t.Fatalf("expected %d precursors for %s, got %d", i, name, len(precursors))
			}
			withBoth, _ := bs.Precursors(name, true, true)
			if len(withBoth) != i+2 {
				t.Fatalf("expected %d entries with root and current, got %d", i+2, len(withBoth))
			}
			if withBoth[0] != RootName || withBoth[len(withBoth)-1] != name {
				t.Fatalf("unexpected bounds in %v", withBoth)
			}
		}
	})
}
