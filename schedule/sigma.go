// Package schedule generates the noise levels a score network is conditioned on.
package schedule

import (
	"fmt"
	"math"

	"github.com/sugarme/ddpm/config"
)

// Geometric returns n noise levels spaced evenly in log space, from sigmaMax
// down to sigmaMin.
func Geometric(sigmaMin, sigmaMax float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("schedule: need at least one scale, got %d", n)
	}
	if sigmaMin <= 0 || sigmaMax < sigmaMin {
		return nil, fmt.Errorf("schedule: invalid sigma range [%v, %v]", sigmaMin, sigmaMax)
	}

	hi, lo := math.Log(sigmaMax), math.Log(sigmaMin)
	sigmas := make([]float64, n)
	if n == 1 {
		sigmas[0] = sigmaMax
		return sigmas, nil
	}

	step := (lo - hi) / float64(n-1)
	for i := range sigmas {
		sigmas[i] = math.Exp(hi + float64(i)*step)
	}
	// pin the end point against rounding
	sigmas[n-1] = sigmaMin

	return sigmas, nil
}

// FromConfig builds the schedule described by cfg.Model.
func FromConfig(cfg config.Config) ([]float64, error) {
	return Geometric(cfg.Model.SigmaMin, cfg.Model.SigmaMax, cfg.Model.NumScales)
}
