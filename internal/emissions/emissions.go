// Package emissions estimates the energy use and carbon emissions of a CI
// run from its duration and an assumed runner power draw.
//
// The estimate is a pure function of its inputs:
//
//	powerKw    = vcpus * wattsPerVCPU / 1000
//	energyKWh  = powerKw * hours * pue
//	grams      = energyKWh * gridGramsPerKWh
//	milligrams = max(1, round(grams * 1000))
package emissions

import (
	"fmt"
	"math"
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// Assumptions parameterize the estimator.
type Assumptions struct {
	WattsPerVCPU    float64
	PUE             float64
	GridGramsPerKWh float64
	VCPUPublic      int
	VCPUPrivate     int
	Version         string
}

// DefaultAssumptions returns the factors used when nothing is configured.
func DefaultAssumptions() Assumptions {
	return Assumptions{
		WattsPerVCPU:    20,
		PUE:             1.12,
		GridGramsPerKWh: 250,
		VCPUPublic:      4,
		VCPUPrivate:     2,
		Version:         "v1",
	}
}

// Validate rejects assumptions that would produce meaningless estimates.
func (a Assumptions) Validate() error {
	switch {
	case a.WattsPerVCPU <= 0:
		return fmt.Errorf("emissions: watts per vcpu must be positive")
	case a.PUE < 1:
		return fmt.Errorf("emissions: pue must be at least 1")
	case a.GridGramsPerKWh < 0:
		return fmt.Errorf("emissions: grid intensity must not be negative")
	case a.VCPUPublic <= 0 || a.VCPUPrivate <= 0:
		return fmt.Errorf("emissions: vcpu counts must be positive")
	case a.Version == "":
		return fmt.Errorf("emissions: assumptions version is required")
	}
	return nil
}

// Factors returns the per-run factors recorded with an estimate.
func (a Assumptions) Factors(private bool) model.Factors {
	vcpus := a.VCPUPublic
	if private {
		vcpus = a.VCPUPrivate
	}
	return model.Factors{
		AssumedVCPUs:    vcpus,
		WattsPerVCPU:    a.WattsPerVCPU,
		PUE:             a.PUE,
		GridGramsPerKWh: a.GridGramsPerKWh,
	}
}

// Estimate is the result for one run.
type Estimate struct {
	Factors    model.Factors
	Version    string
	Minutes    float64 // rounded to 2 decimals
	EnergyKWh  float64 // rounded to 6 decimals
	Milligrams int64   // at least 1
}

// Grams returns the estimate in grams.
func (e Estimate) Grams() float64 {
	return float64(e.Milligrams) / 1000
}

// Compute estimates a run that started at startedAt and finished at
// completedAt. It returns false when either timestamp is missing or the
// duration is not positive.
func Compute(startedAt, completedAt *time.Time, private bool, a Assumptions) (Estimate, bool) {
	if startedAt == nil || completedAt == nil {
		return Estimate{}, false
	}
	d := completedAt.Sub(*startedAt)
	if d <= 0 {
		return Estimate{}, false
	}

	f := a.Factors(private)
	powerKw := float64(f.AssumedVCPUs) * f.WattsPerVCPU / 1000
	hours := d.Hours()
	energy := powerKw * hours * f.PUE
	grams := energy * f.GridGramsPerKWh

	mg := int64(math.Round(grams * 1000))
	if mg < 1 {
		mg = 1
	}

	return Estimate{
		Factors:    f,
		Version:    a.Version,
		Minutes:    Round(hours*60, 2),
		EnergyKWh:  Round(energy, 6),
		Milligrams: mg,
	}, true
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
