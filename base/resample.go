package base

import (
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// Upsample doubles the spatial size with nearest-neighbour interpolation,
// optionally followed by a 3x3 convolution.
type Upsample struct {
	conv *nn.Conv2D
}

// NewUpsample creates an Upsample over the given channel width.
func NewUpsample(p *nn.Path, channels int64, withConv bool) *Upsample {
	u := &Upsample{}
	if withConv {
		u.conv = Conv3x3(p.Sub("Conv_0"), channels, channels, 1)
	}
	return u
}

// ForwardT implements ts.ModuleT for Upsample.
func (u *Upsample) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	size := x.MustSize()
	up := x.MustUpsampleNearest2d([]int64{size[2] * 2, size[3] * 2}, nil, nil, false)
	if u.conv == nil {
		return up
	}

	res := u.conv.ForwardT(up, train)
	up.MustDrop()

	return res
}

// Downsample halves the spatial size with a stride-2 3x3 convolution over
// the input padded by one row at the bottom and one column at the right, or
// with 2x2 average pooling when no convolution is requested.
type Downsample struct {
	conv *nn.Conv2D
}

// NewDownsample creates a Downsample over the given channel width.
func NewDownsample(p *nn.Path, channels int64, withConv bool) *Downsample {
	d := &Downsample{}
	if withConv {
		d.conv = conv(p.Sub("Conv_0"), channels, channels, 3, 0, 2, 1)
	}
	return d
}

// ForwardT implements ts.ModuleT for Downsample.
func (d *Downsample) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	size := x.MustSize()
	if d.conv != nil {
		padded := padBottomRight(x)
		res := d.conv.ForwardT(padded, train)
		padded.MustDrop()
		return res
	}

	// Adaptive pooling to half size is 2x2 average pooling on even inputs.
	return x.MustAdaptiveAvgPool2d([]int64{size[2] / 2, size[3] / 2}, false)
}

// padBottomRight appends a zero row and a zero column to a [N, C, H, W] tensor.
func padBottomRight(x *ts.Tensor) *ts.Tensor {
	size := x.MustSize()
	n, c, h, w := size[0], size[1], size[2], size[3]

	col := ts.MustZeros([]int64{n, c, h, 1}, x.DType(), x.MustDevice())
	wide := ts.MustCat([]*ts.Tensor{x, col}, 3)
	col.MustDrop()

	row := ts.MustZeros([]int64{n, c, 1, w + 1}, x.DType(), x.MustDevice())
	res := ts.MustCat([]*ts.Tensor{wide, row}, 2)
	wide.MustDrop()
	row.MustDrop()

	return res
}
