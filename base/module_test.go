package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ddpm/base"
)

func TestActivations(t *testing.T) {
	x := ts.MustOfSlice([]float32{-2, -0.5, 0, 1.5})
	defer x.MustDrop()

	want := map[string][]float64{
		"relu":  {0, 0, 0, 1.5},
		"lrelu": {-0.4, -0.1, 0, 1.5},
		"elu":   {-0.8646647, -0.3934693, 0, 1.5},
		"swish": {-0.2384058, -0.1887703, 0, 1.2263618},
	}

	for name, vals := range want {
		act, err := base.GetAct(name)
		require.NoError(t, err)
		y := act(x)
		assert.InDeltaSlice(t, vals, y.Float64Values(), 1e-5, name)
		y.MustDrop()
	}
}

func TestResnetBlock(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	act, err := base.GetAct("swish")
	require.NoError(t, err)

	block := base.NewResnetBlock(vs.Root(), act, 16, 0.1, 32, 64)
	assert.Equal(t, int64(32), block.InChannels())
	assert.Equal(t, int64(64), block.OutChannels())

	x := ts.MustRand([]int64{2, 32, 8, 8}, gotch.Float, gotch.CPU)
	temb := ts.MustRand([]int64{2, 16}, gotch.Float, gotch.CPU)
	y := block.ForwardC(x, temb, false)
	assert.Equal(t, []int64{2, 64, 8, 8}, y.MustSize())

	// Unconditioned use of the same block.
	y2 := block.ForwardC(x, nil, false)
	assert.Equal(t, []int64{2, 64, 8, 8}, y2.MustSize())

	for _, v := range []*ts.Tensor{x, temb, y, y2} {
		v.MustDrop()
	}
}

func TestAttnBlock(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	attn := base.NewAttnBlock(vs.Root(), 32)

	x := ts.MustRand([]int64{3, 32, 4, 4}, gotch.Float, gotch.CPU)
	y := attn.ForwardT(x, false)
	assert.Equal(t, []int64{3, 32, 4, 4}, y.MustSize())

	// The output projection starts near zero, so the block is near identity.
	diff := y.MustSub(x, false).MustAbs(true).MustMax(true)
	assert.Less(t, diff.Float64Values()[0], 1e-3)

	for _, v := range []*ts.Tensor{x, y, diff} {
		v.MustDrop()
	}
}

func TestResample(t *testing.T) {
	for _, withConv := range []bool{true, false} {
		vs := nn.NewVarStore(gotch.CPU)
		up := base.NewUpsample(vs.Root().Sub("up"), 32, withConv)
		down := base.NewDownsample(vs.Root().Sub("down"), 32, withConv)

		x := ts.MustRand([]int64{2, 32, 8, 8}, gotch.Float, gotch.CPU)
		u := up.ForwardT(x, false)
		d := down.ForwardT(x, false)
		assert.Equal(t, []int64{2, 32, 16, 16}, u.MustSize())
		assert.Equal(t, []int64{2, 32, 4, 4}, d.MustSize())

		for _, v := range []*ts.Tensor{x, u, d} {
			v.MustDrop()
		}
	}
}

func TestTimestepEmbeddingTensor(t *testing.T) {
	labels := ts.MustOfSlice([]int64{0, 10, 999})
	emb := base.TimestepEmbeddingTensor(labels, 32)
	assert.Equal(t, []int64{3, 32}, emb.MustSize())

	want := base.TimestepEmbedding([]int64{0, 10, 999}, 32)
	got := emb.Float64Values()
	for i := range want {
		assert.InDelta(t, float64(want[i]), got[i], 1e-6)
	}

	labels.MustDrop()
	emb.MustDrop()
}
