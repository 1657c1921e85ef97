package base

import (
	"math"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// AttnBlock is a single-head self-attention over all spatial positions,
// added back onto its input.
// Ref. https://arxiv.org/abs/2006.11239
type AttnBlock struct {
	norm *GroupNorm
	nin0 *nn.Conv2D // query
	nin1 *nn.Conv2D // key
	nin2 *nn.Conv2D // value
	nin3 *nn.Conv2D // output, zero-initialized
}

// NewAttnBlock creates an AttnBlock over the given channel width.
func NewAttnBlock(p *nn.Path, channels int64) *AttnBlock {
	return &AttnBlock{
		norm: NewGroupNorm(p.Sub("GroupNorm_0"), channels, GroupCount(channels), BlockEps),
		nin0: Conv1x1(p.Sub("NIN_0"), channels, channels),
		nin1: Conv1x1(p.Sub("NIN_1"), channels, channels),
		nin2: Conv1x1(p.Sub("NIN_2"), channels, channels),
		nin3: Conv1x1(p.Sub("NIN_3"), channels, channels, 0),
	}
}

// ForwardT implements ts.ModuleT for AttnBlock.
func (a *AttnBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	size := x.MustSize()
	b, c, h, w := size[0], size[1], size[2], size[3]
	flat := []int64{b, c, h * w}

	norm := a.norm.ForwardT(x, train)
	q := a.nin0.ForwardT(norm, train).MustReshape(flat, true)
	k := a.nin1.ForwardT(norm, train).MustReshape(flat, true)
	v := a.nin2.ForwardT(norm, train).MustReshape(flat, true)
	norm.MustDrop()

	// weights[b, i, j] = <q[:, i], k[:, j]> / sqrt(C), softmax over j.
	qT := q.MustPermute([]int64{0, 2, 1}, true)
	weights := qT.MustBmm(k, false).MustMulScalar(ts.FloatScalar(1/math.Sqrt(float64(c))), true)
	qT.MustDrop()
	k.MustDrop()
	weights = weights.MustSoftmax(-1, x.DType(), true)

	// out[b, c, i] = sum_j v[b, c, j] * weights[b, i, j]
	wT := weights.MustPermute([]int64{0, 2, 1}, true)
	out := v.MustBmm(wT, false).MustReshape([]int64{b, c, h, w}, true)
	v.MustDrop()
	wT.MustDrop()

	proj := a.nin3.ForwardT(out, train)
	out.MustDrop()
	res := x.MustAdd(proj, false)
	proj.MustDrop()

	return res
}
