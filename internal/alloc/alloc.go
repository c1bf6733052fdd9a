// Package alloc implements the stratified sampling allocation methods.
//
// Every method solves the same problem: find the smallest total sample
// size n whose estimator variance meets the target V = (E/Z)^2, then
// split n across strata. The methods differ only in the numerator of n
// and in how the split is weighted.
package alloc

import (
	"errors"
	"fmt"
	"math"

	"stratplan/internal/design"
)

// Method identifies an allocation strategy.
type Method string

const (
	// Proportional allocates samples by population share alone.
	Proportional Method = "proportional"
	// Neyman allocates by Nh*Sh, minimizing estimator variance for a
	// fixed total sample size.
	Neyman Method = "neyman"
	// CostOptimum allocates by Nh*Sh/sqrt(Ch), minimizing total survey
	// cost for a fixed target variance.
	CostOptimum Method = "cost-optimum"
	// TimeOptimum is CostOptimum with per-unit time in place of cost.
	TimeOptimum Method = "time-optimum"
)

// Methods returns all allocation methods in report order.
func Methods() []Method {
	return []Method{Proportional, Neyman, CostOptimum, TimeOptimum}
}

// Describe returns a one-line description of the method.
func (m Method) Describe() string {
	switch m {
	case Proportional:
		return "samples proportional to stratum population share"
	case Neyman:
		return "minimum variance for fixed total sample size (weights by Nh*Sh)"
	case CostOptimum:
		return "minimum total cost for the target variance (weights by Nh*Sh/sqrt(Ch))"
	case TimeOptimum:
		return "minimum total time for the target variance (weights by Nh*Sh/sqrt(Th))"
	}
	return "unknown method"
}

// Valid reports whether m is one of the implemented methods.
func (m Method) Valid() bool {
	switch m {
	case Proportional, Neyman, CostOptimum, TimeOptimum:
		return true
	}
	return false
}

// Errors returned by the allocation methods.
var (
	ErrUnknownMethod = errors.New("unknown allocation method")
	// ErrDegenerateVariance means the finite-population-corrected
	// denominator came out non-positive, so no sample size satisfies
	// the target. The formulas would otherwise produce a negative or
	// infinite n.
	ErrDegenerateVariance = errors.New("degenerate variance bound")
)

// Allocation is the sample count assigned to one stratum.
type Allocation struct {
	StratumID string
	Samples   int64
}

// Plan is the outcome of one allocation method applied to one design.
//
// TotalSampleSize is ceil(ContinuousN). Per-stratum counts are rounded
// independently of each other and of the total, so they are not
// guaranteed to sum to TotalSampleSize. That mirrors the classical
// hand computation and is deliberately not reconciled here.
type Plan struct {
	Method          Method
	TargetVariance  float64
	ContinuousN     float64
	TotalSampleSize int64
	Allocations     []Allocation
}

// AllocatedTotal returns the sum of the per-stratum counts, which may
// differ from TotalSampleSize by a unit or two of rounding drift.
func (p *Plan) AllocatedTotal() int64 {
	var total int64
	for _, a := range p.Allocations {
		total += a.Samples
	}
	return total
}

// Compute runs one allocation method against a design.
func Compute(d *design.Design, m Method) (*Plan, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	v := d.TargetVariance()
	n := float64(d.TotalPopulation())
	weights := d.Weights()

	// Shared finite population correction: every method divides by
	// V + (1/N) * sum(Wh * Sh^2).
	var sumWS, sumWS2 float64
	for i, s := range d.Strata {
		sumWS += weights[i] * s.StdDev
		sumWS2 += weights[i] * s.StdDev * s.StdDev
	}
	denominator := v + sumWS2/n
	if denominator <= 0 {
		return nil, fmt.Errorf("%w: V=%g, correction=%g", ErrDegenerateVariance, v, sumWS2/n)
	}

	var numerator float64
	switch m {
	case Proportional:
		numerator = sumWS2
	case Neyman:
		numerator = sumWS * sumWS
	case CostOptimum, TimeOptimum:
		var term1, term2 float64
		for i, s := range d.Strata {
			root := math.Sqrt(rateFor(m, s))
			term1 += weights[i] * s.StdDev * root
			term2 += weights[i] * s.StdDev / root
		}
		numerator = term1 * term2
	}

	continuous := numerator / denominator

	plan := &Plan{
		Method:          m,
		TargetVariance:  v,
		ContinuousN:     continuous,
		TotalSampleSize: int64(math.Ceil(continuous)),
		Allocations:     make([]Allocation, len(d.Strata)),
	}

	allocWeights := allocationWeights(d, m)
	for i, s := range d.Strata {
		plan.Allocations[i] = Allocation{
			StratumID: s.ID,
			Samples:   int64(math.Round(continuous * allocWeights[i])),
		}
	}

	return plan, nil
}

// ComputeAll evaluates every method against the design, in report order.
func ComputeAll(d *design.Design) ([]*Plan, error) {
	plans := make([]*Plan, 0, len(Methods()))
	for _, m := range Methods() {
		p, err := Compute(d, m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// allocationWeights returns the per-stratum split weights for a method.
// The weights sum to 1 unless every stratum has zero variability, in
// which case they are all zero (the continuous n is zero too).
func allocationWeights(d *design.Design, m Method) []float64 {
	weights := make([]float64, len(d.Strata))
	var sum float64
	for i, s := range d.Strata {
		switch m {
		case Proportional:
			weights[i] = float64(s.Population)
		case Neyman:
			weights[i] = float64(s.Population) * s.StdDev
		case CostOptimum, TimeOptimum:
			weights[i] = float64(s.Population) * s.StdDev / math.Sqrt(rateFor(m, s))
		}
		sum += weights[i]
	}
	if sum == 0 {
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// rateFor returns the per-unit rate the optimum methods trade against.
func rateFor(m Method, s design.Stratum) float64 {
	if m == TimeOptimum {
		return s.UnitTime
	}
	return s.UnitCost
}
