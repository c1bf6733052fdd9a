package design

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("loads a JSON design", func(t *testing.T) {
		path := writeTemp(t, "survey.json", `{
			"name": "regional",
			"margin_of_error": 1.5,
			"confidence_z": 1.96,
			"strata": [
				{"id": "a", "population": 4000, "std_dev": 10, "unit_cost": 4, "unit_time": 2},
				{"id": "b", "population": 6000, "std_dev": 20, "unit_cost": 6, "unit_time": 3}
			]
		}`)

		d, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Name != "regional" || len(d.Strata) != 2 || d.TotalPopulation() != 10000 {
			t.Fatalf("unexpected design: %+v", d)
		}
	})

	t.Run("loads a YAML design", func(t *testing.T) {
		path := writeTemp(t, "survey.yaml", `
name: regional
margin_of_error: 1.5
confidence_z: 1.96
strata:
  - id: a
    population: 4000
    std_dev: 10
    unit_cost: 4
    unit_time: 2
  - id: b
    population: 6000
    std_dev: 20
    unit_cost: 6
    unit_time: 3
`)

		d, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Name != "regional" || len(d.Strata) != 2 {
			t.Fatalf("unexpected design: %+v", d)
		}
	})

	t.Run("defaults the name from the file name", func(t *testing.T) {
		path := writeTemp(t, "q3-households.json", `{
			"margin_of_error": 2,
			"confidence_z": 1.96,
			"strata": [{"id": "a", "population": 100, "std_dev": 5, "unit_cost": 1, "unit_time": 1}]
		}`)

		d, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Name != "q3-households" {
			t.Fatalf("expected name q3-households, got %q", d.Name)
		}
	})

	t.Run("resolves confidence_level to a z-score", func(t *testing.T) {
		path := writeTemp(t, "survey.yaml", `
margin_of_error: 1.5
confidence_level: 95
strata:
  - {id: a, population: 100, std_dev: 5, unit_cost: 1, unit_time: 1}
`)

		d, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(d.ConfidenceZ-1.96) > 1e-9 {
			t.Fatalf("expected z=1.96 for 95%% confidence, got %g", d.ConfidenceZ)
		}
	})

	t.Run("rejects unsupported confidence level", func(t *testing.T) {
		path := writeTemp(t, "survey.yaml", `
margin_of_error: 1.5
confidence_level: 97
strata:
  - {id: a, population: 100, std_dev: 5, unit_cost: 1, unit_time: 1}
`)

		if _, err := LoadFile(path); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter, got %v", err)
		}
	})

	t.Run("rejects conflicting z and level", func(t *testing.T) {
		path := writeTemp(t, "survey.yaml", `
margin_of_error: 1.5
confidence_z: 2.576
confidence_level: 95
strata:
  - {id: a, population: 100, std_dev: 5, unit_cost: 1, unit_time: 1}
`)

		if _, err := LoadFile(path); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter, got %v", err)
		}
	})

	t.Run("requires some confidence parameter", func(t *testing.T) {
		path := writeTemp(t, "survey.json", `{
			"margin_of_error": 1.5,
			"strata": [{"id": "a", "population": 100, "std_dev": 5, "unit_cost": 1, "unit_time": 1}]
		}`)

		if _, err := LoadFile(path); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter, got %v", err)
		}
	})

	t.Run("rejects unknown extensions", func(t *testing.T) {
		path := writeTemp(t, "survey.toml", `whatever`)
		if _, err := LoadFile(path); err == nil {
			t.Fatal("expected error for unsupported extension")
		}
	})

	t.Run("surfaces validation failures", func(t *testing.T) {
		path := writeTemp(t, "survey.json", `{
			"margin_of_error": 1.5,
			"confidence_z": 1.96,
			"strata": [{"id": "a", "population": 0, "std_dev": 5, "unit_cost": 1, "unit_time": 1}]
		}`)

		if _, err := LoadFile(path); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter, got %v", err)
		}
	})
}
