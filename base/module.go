package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// Activation applies a pointwise nonlinearity. It never deletes its input.
type Activation func(x *ts.Tensor) *ts.Tensor

// GetAct returns the activation named by a model config.
func GetAct(name string) (Activation, error) {
	switch name {
	case "swish":
		return swish, nil
	case "relu":
		return relu, nil
	case "lrelu":
		return leakyRelu, nil
	case "elu":
		return elu, nil
	default:
		return nil, fmt.Errorf("unsupported nonlinearity %q", name)
	}
}

func swish(x *ts.Tensor) *ts.Tensor {
	return x.MustSilu(false)
}

func relu(x *ts.Tensor) *ts.Tensor {
	return x.MustRelu(false)
}

// leakyRelu uses a 0.2 negative slope: relu(x) - 0.2*relu(-x).
func leakyRelu(x *ts.Tensor) *ts.Tensor {
	pos := x.MustRelu(false)
	neg := x.MustNeg(false).MustRelu(true).MustMulScalar(ts.FloatScalar(0.2), true)
	res := pos.MustSub(neg, true)
	neg.MustDrop()

	return res
}

// elu is relu(x) + exp(min(x, 0)) - 1.
func elu(x *ts.Tensor) *ts.Tensor {
	pos := x.MustRelu(false)
	neg := x.MustNeg(false).MustRelu(true).MustNeg(true).MustExp(true).MustSubScalar(ts.FloatScalar(1), true)
	res := pos.MustAdd(neg, true)
	neg.MustDrop()

	return res
}

// conv creates a Conv2D with variance-scaling weights and zero bias.
func conv(p *nn.Path, cIn, cOut, ksize, padding, stride int64, initScale float64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}
	config.WsInit = DefaultInit(initScale, cIn*ksize*ksize, cOut*ksize*ksize)
	config.BsInit = nn.NewConstInit(0)

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv1x1 creates a 1x1 convolution, used as a per-pixel channel projection.
// initScaleOpt defaults to 1.
func Conv1x1(p *nn.Path, cIn, cOut int64, initScaleOpt ...float64) *nn.Conv2D {
	return conv(p, cIn, cOut, 1, 0, 1, scaleOpt(initScaleOpt))
}

// Conv3x3 creates a padded 3x3 convolution. initScaleOpt defaults to 1.
func Conv3x3(p *nn.Path, cIn, cOut, stride int64, initScaleOpt ...float64) *nn.Conv2D {
	return conv(p, cIn, cOut, 3, 1, stride, scaleOpt(initScaleOpt))
}

// NewDense creates a linear layer with variance-scaling weights and zero bias.
func NewDense(p *nn.Path, inDim, outDim int64) *nn.Linear {
	config := nn.DefaultLinearConfig()
	config.WsInit = DefaultInit(1, inDim, outDim)
	config.BsInit = nn.NewConstInit(0)

	return nn.NewLinear(p, inDim, outDim, config)
}

func scaleOpt(opt []float64) float64 {
	if len(opt) > 0 {
		return opt[0]
	}
	return 1
}
