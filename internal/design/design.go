package design

import (
	"errors"
	"fmt"
)

// Errors returned by design validation.
var (
	ErrNoStrata         = errors.New("design has no strata")
	ErrInvalidParameter = errors.New("invalid survey parameter")
)

// Stratum describes one subgroup of the population. Declaration order is
// significant and preserved through reports, storage, and the API.
type Stratum struct {
	ID         string  `json:"id" yaml:"id"`
	Population int64   `json:"population" yaml:"population"`
	StdDev     float64 `json:"std_dev" yaml:"std_dev"`
	UnitCost   float64 `json:"unit_cost" yaml:"unit_cost"`
	UnitTime   float64 `json:"unit_time" yaml:"unit_time"`
}

// Design is a complete survey design: the stratum table plus the precision
// parameters. It is immutable after validation; all allocation methods
// consume it read-only.
type Design struct {
	Name          string    `json:"name" yaml:"name"`
	MarginOfError float64   `json:"margin_of_error" yaml:"margin_of_error"`
	ConfidenceZ   float64   `json:"confidence_z" yaml:"confidence_z"`
	Strata        []Stratum `json:"strata" yaml:"strata"`
}

// TotalPopulation returns the sum of stratum populations.
func (d *Design) TotalPopulation() int64 {
	var total int64
	for _, s := range d.Strata {
		total += s.Population
	}
	return total
}

// Weights returns Wh = Nh/N for each stratum, in declaration order.
// The weights sum to 1 for any validated design.
func (d *Design) Weights() []float64 {
	n := float64(d.TotalPopulation())
	weights := make([]float64, len(d.Strata))
	for i, s := range d.Strata {
		weights[i] = float64(s.Population) / n
	}
	return weights
}

// TargetVariance returns V = (E/Z)^2, the variance bound the allocation
// methods solve against.
func (d *Design) TargetVariance() float64 {
	ratio := d.MarginOfError / d.ConfidenceZ
	return ratio * ratio
}

// Equal reports whether two designs have the same parameters and the
// same stratum table in the same order.
func (d *Design) Equal(other *Design) bool {
	if d.Name != other.Name || d.MarginOfError != other.MarginOfError || d.ConfidenceZ != other.ConfidenceZ {
		return false
	}
	if len(d.Strata) != len(other.Strata) {
		return false
	}
	for i, s := range d.Strata {
		if s != other.Strata[i] {
			return false
		}
	}
	return true
}

// Validate checks every parameter the allocation formulas depend on.
// The formulas divide by N, Z, and sqrt(Ch)/sqrt(Th), so none of those
// may be zero or negative.
func (d *Design) Validate() error {
	if len(d.Strata) == 0 {
		return ErrNoStrata
	}
	if d.MarginOfError <= 0 {
		return fmt.Errorf("%w: margin of error must be > 0, got %g", ErrInvalidParameter, d.MarginOfError)
	}
	if d.ConfidenceZ <= 0 {
		return fmt.Errorf("%w: confidence z must be > 0, got %g", ErrInvalidParameter, d.ConfidenceZ)
	}

	seen := make(map[string]bool, len(d.Strata))
	for _, s := range d.Strata {
		if s.ID == "" {
			return fmt.Errorf("%w: stratum with empty id", ErrInvalidParameter)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stratum id %q", ErrInvalidParameter, s.ID)
		}
		seen[s.ID] = true

		if s.Population <= 0 {
			return fmt.Errorf("%w: stratum %s: population must be > 0, got %d", ErrInvalidParameter, s.ID, s.Population)
		}
		if s.StdDev < 0 {
			return fmt.Errorf("%w: stratum %s: std dev must be >= 0, got %g", ErrInvalidParameter, s.ID, s.StdDev)
		}
		if s.UnitCost <= 0 {
			return fmt.Errorf("%w: stratum %s: unit cost must be > 0, got %g", ErrInvalidParameter, s.ID, s.UnitCost)
		}
		if s.UnitTime <= 0 {
			return fmt.Errorf("%w: stratum %s: unit time must be > 0, got %g", ErrInvalidParameter, s.ID, s.UnitTime)
		}
	}

	return nil
}
