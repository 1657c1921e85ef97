package base

import (
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// ResnetBlock is the conditioned residual block of the DDPM U-Net.
//
//	h = conv0(act(norm0(x))) + dense0(act(temb))
//	h = conv1(dropout(act(norm1(h))))
//	out = shortcut(x) + h
type ResnetBlock struct {
	act      Activation
	norm0    *GroupNorm
	conv0    *nn.Conv2D
	dense0   *nn.Linear // nil when the block is unconditioned
	norm1    *GroupNorm
	dropout  float64
	conv1    *nn.Conv2D
	shortcut *nn.Conv2D // nil when in and out widths match

	inCh, outCh int64
}

// NewResnetBlock creates a ResnetBlock. tembDim of 0 disables conditioning.
// outChOpt defaults to inCh.
func NewResnetBlock(p *nn.Path, act Activation, tembDim int64, dropout float64, inCh int64, outChOpt ...int64) *ResnetBlock {
	outCh := inCh
	if len(outChOpt) > 0 {
		outCh = outChOpt[0]
	}

	b := &ResnetBlock{
		act:     act,
		norm0:   NewGroupNorm(p.Sub("GroupNorm_0"), inCh, GroupCount(inCh), BlockEps),
		conv0:   Conv3x3(p.Sub("Conv_0"), inCh, outCh, 1),
		norm1:   NewGroupNorm(p.Sub("GroupNorm_1"), outCh, GroupCount(outCh), BlockEps),
		dropout: dropout,
		conv1:   Conv3x3(p.Sub("Conv_1"), outCh, outCh, 1, 0),
		inCh:    inCh,
		outCh:   outCh,
	}
	if tembDim > 0 {
		b.dense0 = NewDense(p.Sub("Dense_0"), tembDim, outCh)
	}
	if inCh != outCh {
		b.shortcut = Conv1x1(p.Sub("NIN_0"), inCh, outCh, 0.1)
	}

	return b
}

// ForwardC applies the block to x conditioned on temb, which may be nil.
func (b *ResnetBlock) ForwardC(x, temb *ts.Tensor, train bool) *ts.Tensor {
	n0 := b.norm0.ForwardT(x, train)
	a0 := b.act(n0)
	n0.MustDrop()
	h := b.conv0.ForwardT(a0, train)
	a0.MustDrop()

	if temb != nil && b.dense0 != nil {
		at := b.act(temb)
		d := b.dense0.Forward(at)
		at.MustDrop()
		bias := d.MustView([]int64{d.MustSize()[0], b.outCh, 1, 1}, true)
		h = h.MustAdd(bias, true)
		bias.MustDrop()
	}

	n1 := b.norm1.ForwardT(h, train)
	h.MustDrop()
	a1 := b.act(n1)
	n1.MustDrop()
	dr := ts.MustDropout(a1, b.dropout, train)
	a1.MustDrop()
	h = b.conv1.ForwardT(dr, train)
	dr.MustDrop()

	var res *ts.Tensor
	if b.shortcut == nil {
		res = x.MustAdd(h, false)
	} else {
		res = b.shortcut.ForwardT(x, train).MustAdd(h, true)
	}
	h.MustDrop()

	return res
}

// InChannels returns the width the block consumes.
func (b *ResnetBlock) InChannels() int64 { return b.inCh }

// OutChannels returns the width the block produces.
func (b *ResnetBlock) OutChannels() int64 { return b.outCh }
