package design

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// zForLevel maps common confidence levels (in percent) to two-sided
// z-scores, so design files can say "confidence_level: 95" instead of
// spelling out the z value.
var zForLevel = map[float64]float64{
	80:   1.282,
	90:   1.645,
	95:   1.960,
	98:   2.326,
	99:   2.576,
	99.9: 3.291,
}

type designFile struct {
	Name            string    `json:"name" yaml:"name"`
	MarginOfError   float64   `json:"margin_of_error" yaml:"margin_of_error"`
	ConfidenceZ     float64   `json:"confidence_z" yaml:"confidence_z"`
	ConfidenceLevel float64   `json:"confidence_level" yaml:"confidence_level"`
	Strata          []Stratum `json:"strata" yaml:"strata"`
}

// LoadFile reads a design from a JSON or YAML file, resolves the
// confidence parameter, and validates the result.
func LoadFile(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design file: %w", err)
	}

	var raw designFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	default:
		return nil, fmt.Errorf("unsupported design file extension %q (want .json, .yaml, or .yml)", ext)
	}

	z, err := resolveConfidence(raw.ConfidenceZ, raw.ConfidenceLevel)
	if err != nil {
		return nil, err
	}

	d := &Design{
		Name:          raw.Name,
		MarginOfError: raw.MarginOfError,
		ConfidenceZ:   z,
		Strata:        raw.Strata,
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// resolveConfidence picks the z-score from whichever of confidence_z and
// confidence_level is set. Setting both is allowed only when they agree.
func resolveConfidence(z, level float64) (float64, error) {
	if level == 0 {
		if z == 0 {
			return 0, fmt.Errorf("%w: one of confidence_z or confidence_level is required", ErrInvalidParameter)
		}
		return z, nil
	}

	tableZ, ok := zForLevel[level]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported confidence level %g (supported: 80, 90, 95, 98, 99, 99.9)", ErrInvalidParameter, level)
	}
	if z != 0 && math.Abs(z-tableZ) > 0.01 {
		return 0, fmt.Errorf("%w: confidence_z %g conflicts with confidence_level %g (z=%g)", ErrInvalidParameter, z, level, tableZ)
	}
	return tableZ, nil
}
