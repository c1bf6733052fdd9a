package design

import (
	"errors"
	"math"
	"testing"
)

func validDesign() *Design {
	return &Design{
		Name:          "household-survey",
		MarginOfError: 1.5,
		ConfidenceZ:   1.96,
		Strata: []Stratum{
			{ID: "urban", Population: 4000, StdDev: 10, UnitCost: 4, UnitTime: 2},
			{ID: "suburban", Population: 3000, StdDev: 20, UnitCost: 6, UnitTime: 3},
			{ID: "rural", Population: 3000, StdDev: 30, UnitCost: 8, UnitTime: 4},
		},
	}
}

func TestTotalPopulation(t *testing.T) {
	if got := validDesign().TotalPopulation(); got != 10000 {
		t.Fatalf("expected total population 10000, got %d", got)
	}
}

func TestWeights(t *testing.T) {
	d := validDesign()
	weights := d.Weights()

	want := []float64{0.4, 0.3, 0.3}
	for i, w := range weights {
		if math.Abs(w-want[i]) > 1e-9 {
			t.Fatalf("stratum %s: expected weight %g, got %g", d.Strata[i].ID, want[i], w)
		}
	}

	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %.12f, want 1", sum)
	}
}

func TestTargetVariance(t *testing.T) {
	d := validDesign()
	want := (1.5 / 1.96) * (1.5 / 1.96)
	if got := d.TargetVariance(); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected target variance %.9f, got %.9f", want, got)
	}
}

func TestEqual(t *testing.T) {
	t.Run("matches an identical design", func(t *testing.T) {
		if !validDesign().Equal(validDesign()) {
			t.Fatal("expected identical designs to be equal")
		}
	})

	mutations := []struct {
		name   string
		mutate func(*Design)
	}{
		{"different name", func(d *Design) { d.Name = "other" }},
		{"different margin of error", func(d *Design) { d.MarginOfError = 2 }},
		{"different confidence z", func(d *Design) { d.ConfidenceZ = 2.576 }},
		{"different stratum count", func(d *Design) { d.Strata = d.Strata[:2] }},
		{"different stratum population", func(d *Design) { d.Strata[1].Population++ }},
		{"different stratum order", func(d *Design) { d.Strata[0], d.Strata[1] = d.Strata[1], d.Strata[0] }},
	}

	for _, tc := range mutations {
		t.Run("detects "+tc.name, func(t *testing.T) {
			d := validDesign()
			tc.mutate(d)
			if validDesign().Equal(d) {
				t.Fatal("expected designs to differ")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a valid design", func(t *testing.T) {
		if err := validDesign().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects empty stratum table", func(t *testing.T) {
		d := validDesign()
		d.Strata = nil
		if err := d.Validate(); !errors.Is(err, ErrNoStrata) {
			t.Fatalf("expected ErrNoStrata, got %v", err)
		}
	})

	mutations := []struct {
		name   string
		mutate func(*Design)
	}{
		{"zero margin of error", func(d *Design) { d.MarginOfError = 0 }},
		{"negative margin of error", func(d *Design) { d.MarginOfError = -1 }},
		{"zero confidence z", func(d *Design) { d.ConfidenceZ = 0 }},
		{"empty stratum id", func(d *Design) { d.Strata[0].ID = "" }},
		{"duplicate stratum id", func(d *Design) { d.Strata[1].ID = d.Strata[0].ID }},
		{"zero population", func(d *Design) { d.Strata[1].Population = 0 }},
		{"negative std dev", func(d *Design) { d.Strata[2].StdDev = -5 }},
		{"zero unit cost", func(d *Design) { d.Strata[0].UnitCost = 0 }},
		{"negative unit time", func(d *Design) { d.Strata[0].UnitTime = -1 }},
	}

	for _, tc := range mutations {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			d := validDesign()
			tc.mutate(d)
			if err := d.Validate(); !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}
