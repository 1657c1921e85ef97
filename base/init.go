package base

import (
	"math"

	"github.com/sugarme/gotch/nn"
)

// UniformLimit is the bound of the fan_avg variance-scaling uniform
// distribution. A zero scale is replaced with 1e-10 so that zero-initialized
// layers still carry a non-degenerate weight.
func UniformLimit(scale float64, fanIn, fanOut int64) float64 {
	if scale == 0 {
		scale = 1e-10
	}
	variance := scale / (float64(fanIn+fanOut) / 2)

	return math.Sqrt(3 * variance)
}

// DefaultInit is the DDPM weight initializer: variance scaling with fan_avg
// and a uniform distribution.
func DefaultInit(scale float64, fanIn, fanOut int64) nn.Init {
	limit := UniformLimit(scale, fanIn, fanOut)
	return nn.NewUniformInit(-limit, limit)
}
