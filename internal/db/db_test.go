package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"stratplan/internal/alloc"
	"stratplan/internal/design"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "stratplan.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func fixtureDesign() *design.Design {
	return &design.Design{
		Name:          "roundtrip",
		MarginOfError: 1.5,
		ConfidenceZ:   1.96,
		Strata: []design.Stratum{
			{ID: "north", Population: 4000, StdDev: 10, UnitCost: 4, UnitTime: 2},
			{ID: "south", Population: 3000, StdDev: 20, UnitCost: 6, UnitTime: 3},
			{ID: "east", Population: 2000, StdDev: 30, UnitCost: 8, UnitTime: 4},
			{ID: "west", Population: 1000, StdDev: 40, UnitCost: 10, UnitTime: 5},
		},
	}
}

func TestDesignRoundTrip(t *testing.T) {
	database := openTemp(t)

	id, err := database.SaveDesign(fixtureDesign(), "fixture notes")
	if err != nil {
		t.Fatalf("save design: %v", err)
	}

	loaded, err := database.LoadDesign(id)
	if err != nil {
		t.Fatalf("load design: %v", err)
	}

	want := fixtureDesign()
	if loaded.Name != want.Name || loaded.MarginOfError != want.MarginOfError || loaded.ConfidenceZ != want.ConfidenceZ {
		t.Fatalf("design parameters did not round-trip: %+v", loaded)
	}
	if len(loaded.Strata) != len(want.Strata) {
		t.Fatalf("expected %d strata, got %d", len(want.Strata), len(loaded.Strata))
	}
	for i, s := range loaded.Strata {
		if s != want.Strata[i] {
			t.Fatalf("stratum %d did not round-trip: got %+v, want %+v", i, s, want.Strata[i])
		}
	}
}

func TestPlanRoundTrip(t *testing.T) {
	database := openTemp(t)

	d := fixtureDesign()
	designID, err := database.SaveDesign(d, "")
	if err != nil {
		t.Fatalf("save design: %v", err)
	}

	computed, err := alloc.Compute(d, alloc.Neyman)
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}

	planID, err := database.SavePlan(designID, computed, "baseline")
	if err != nil {
		t.Fatalf("save plan: %v", err)
	}

	stored, err := database.GetPlan(planID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if stored.Method != string(alloc.Neyman) || stored.TotalSampleSize != computed.TotalSampleSize {
		t.Fatalf("plan did not round-trip: %+v", stored)
	}

	allocations, err := database.GetAllocationsForPlan(planID)
	if err != nil {
		t.Fatalf("get allocations: %v", err)
	}
	if len(allocations) != len(computed.Allocations) {
		t.Fatalf("expected %d allocations, got %d", len(computed.Allocations), len(allocations))
	}
	for i, a := range allocations {
		if a != computed.Allocations[i] {
			t.Fatalf("allocation %d did not round-trip: got %+v, want %+v", i, a, computed.Allocations[i])
		}
	}
}

func TestGetDesignByName(t *testing.T) {
	database := openTemp(t)

	t.Run("returns ErrNoRows for unknown names", func(t *testing.T) {
		if _, err := database.GetDesignByName("missing"); !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected sql.ErrNoRows, got %v", err)
		}
	})

	first, err := database.SaveDesign(fixtureDesign(), "")
	if err != nil {
		t.Fatalf("save design: %v", err)
	}

	revised := fixtureDesign()
	revised.MarginOfError = 2
	second, err := database.SaveDesign(revised, "")
	if err != nil {
		t.Fatalf("save revised design: %v", err)
	}

	t.Run("returns the most recent design with the name", func(t *testing.T) {
		stored, err := database.GetDesignByName("roundtrip")
		if err != nil {
			t.Fatalf("get design by name: %v", err)
		}
		if stored.ID != second {
			t.Fatalf("expected design #%d, got #%d (first was #%d)", second, stored.ID, first)
		}
		if stored.MarginOfError != 2 {
			t.Fatalf("expected the revised margin of error, got %g", stored.MarginOfError)
		}
	})
}

func TestDeleteDesignCascades(t *testing.T) {
	database := openTemp(t)

	d := fixtureDesign()
	designID, err := database.SaveDesign(d, "")
	if err != nil {
		t.Fatalf("save design: %v", err)
	}
	computed, err := alloc.Compute(d, alloc.Proportional)
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	if _, err := database.SavePlan(designID, computed, ""); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	if err := database.DeleteDesign(designID); err != nil {
		t.Fatalf("delete design: %v", err)
	}

	count, err := database.CountPlansForDesign(designID)
	if err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected plans to cascade on design delete, %d remain", count)
	}
}
