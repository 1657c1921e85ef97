package ddpm_test

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ddpm/config"
	"github.com/sugarme/ddpm/ddpm"
)

func newModel(t *testing.T, cfg config.Config) (*ddpm.Model, *nn.VarStore) {
	t.Helper()
	vs := nn.NewVarStore(gotch.CPU)
	m, err := ddpm.New(vs.Root(), cfg)
	require.NoError(t, err)
	return m, vs
}

func labelsOf(vals ...int64) *ts.Tensor {
	return ts.MustOfSlice(vals)
}

func TestNewSmall(t *testing.T) {
	m, vs := newModel(t, smallConfig())
	assert.Equal(t, 14, m.Len())
	assert.Len(t, m.Stages(), 14)
	assert.Len(t, m.Sigmas(), 1000)
	assert.Equal(t, ddpm.Summarize(m.Stages()), m.Summary())
	assert.Greater(t, len(vs.Variables()), 0)

	cfg := smallConfig()
	cfg.Model.AttnResolutions = []int64{4}
	m, _ = newModel(t, cfg)
	assert.Equal(t, 16, m.Len())
}

func TestConditioningParameters(t *testing.T) {
	hasDense := func(vs *nn.VarStore) bool {
		for name := range vs.Variables() {
			if strings.Contains(name, "Dense_0") {
				return true
			}
		}
		return false
	}

	_, vs := newModel(t, smallConfig())
	assert.False(t, hasDense(vs), "unconditional blocks carry no embedding projection")

	cfg := smallConfig()
	cfg.Model.Conditional = true
	_, vs = newModel(t, cfg)
	assert.True(t, hasDense(vs))
}

func TestNewInvalid(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.Nonlinearity = "tanh"
	vs := nn.NewVarStore(gotch.CPU)
	_, err := ddpm.New(vs.Root(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestForwardShape(t *testing.T) {
	m, _ := newModel(t, smallConfig())

	for _, n := range []int64{1, 3} {
		x := ts.MustRand([]int64{n, 1, 8, 8}, gotch.Float, gotch.CPU)
		labels := ts.MustZeros([]int64{n}, gotch.Int64, gotch.CPU)

		out, err := m.Forward(x, labels, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{n, 1, 8, 8}, out.MustSize())

		for _, v := range []*ts.Tensor{x, labels, out} {
			v.MustDrop()
		}
	}
}

func TestForwardWithAttention(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.AttnResolutions = []int64{8, 4}
	cfg.Model.NumResBlocks = 2
	cfg.Model.ResampWithConv = false
	m, _ := newModel(t, cfg)

	x := ts.MustRand([]int64{2, 1, 8, 8}, gotch.Float, gotch.CPU)
	labels := labelsOf(3, 7)
	out, err := m.Forward(x, labels, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 8, 8}, out.MustSize())

	for _, v := range []*ts.Tensor{x, labels, out} {
		v.MustDrop()
	}
}

func TestForwardShallow(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"no res blocks": func(c *config.Config) {
			c.Model.NumResBlocks = 0
		},
		"single level": func(c *config.Config) {
			c.Model.ChMult = []int64{1}
			c.Model.AttnResolutions = []int64{8}
		},
		"single level, no res blocks": func(c *config.Config) {
			c.Model.ChMult = []int64{2}
			c.Model.NumResBlocks = 0
			c.Model.Conditional = true
		},
		"no res blocks, no resample conv": func(c *config.Config) {
			c.Model.ChMult = []int64{1, 2, 2}
			c.Model.NumResBlocks = 0
			c.Model.ResampWithConv = false
			c.Data.Centered = false
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig()
			mutate(&cfg)
			m, _ := newModel(t, cfg)

			stages, err := ddpm.Plan(cfg)
			require.NoError(t, err)
			assert.Equal(t, len(stages), m.Len())

			for _, n := range []int64{1, 3} {
				x := ts.MustRand([]int64{n, 1, 8, 8}, gotch.Float, gotch.CPU)
				labels := ts.MustZeros([]int64{n}, gotch.Int64, gotch.CPU)

				out, err := m.Forward(x, labels, false)
				require.NoError(t, err)
				assert.Equal(t, []int64{n, 1, 8, 8}, out.MustSize())

				// The caller's input survives the pass.
				assert.Equal(t, []int64{n, 1, 8, 8}, x.MustSize())

				for _, v := range []*ts.Tensor{x, labels, out} {
					v.MustDrop()
				}
			}
		})
	}
}

func TestForwardConditional(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.Conditional = true
	cfg.Data.NumChannels = 3
	cfg.Data.OutChannels = 2
	m, _ := newModel(t, cfg)
	assert.Equal(t, 16, m.Len())

	x := ts.MustRand([]int64{2, 3, 8, 8}, gotch.Float, gotch.CPU)
	labels := labelsOf(0, 999)
	out, err := m.Forward(x, labels, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2, 8, 8}, out.MustSize())

	for _, v := range []*ts.Tensor{x, labels, out} {
		v.MustDrop()
	}
}

func TestForwardIdempotent(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.Conditional = true
	m, _ := newModel(t, cfg)

	x := ts.MustRand([]int64{2, 1, 8, 8}, gotch.Float, gotch.CPU)
	labels := labelsOf(10, 20)
	a := m.MustForward(x, labels, false)
	b := m.MustForward(x, labels, false)
	assert.Equal(t, a.Float64Values(), b.Float64Values())

	// Inputs are left untouched.
	assert.Equal(t, []int64{2, 1, 8, 8}, x.MustSize())
	assert.Equal(t, []int64{10, 20}, labels.Int64Values())

	for _, v := range []*ts.Tensor{x, labels, a, b} {
		v.MustDrop()
	}
}

func TestForwardScaleBySigma(t *testing.T) {
	plain := smallConfig()
	plain.Model.Conditional = true
	scaled := plain.Clone()
	scaled.Model.ScaleBySigma = true

	m1, vs1 := newModel(t, plain)
	m2, vs2 := newModel(t, scaled)
	require.NoError(t, vs2.Copy(vs1))

	x := ts.MustRand([]int64{3, 1, 8, 8}, gotch.Float, gotch.CPU)
	idx := []int64{0, 500, 999}
	labels := labelsOf(idx...)

	a := m1.MustForward(x, labels, false)
	b := m2.MustForward(x, labels, false)
	av, bv := a.Float64Values(), b.Float64Values()
	require.Len(t, bv, len(av))

	per := len(av) / len(idx)
	for i, v := range av {
		sigma, err := m2.Sigma(int(idx[i/per]))
		require.NoError(t, err)
		want := v / sigma
		assert.InDelta(t, want, bv[i], 1e-5*math.Max(1, math.Abs(want)))
	}

	_, err := m2.Forward(x, labelsOf(0, 1, 1000), false)
	assert.ErrorIs(t, err, ddpm.ErrShape)
	_, err = m2.Sigma(1000)
	assert.ErrorIs(t, err, ddpm.ErrShape)
	_, err = m2.Sigma(-1)
	assert.ErrorIs(t, err, ddpm.ErrShape)
	_, err = m2.Forward(x, labelsOf(0, -1, 2), false)
	assert.ErrorIs(t, err, ddpm.ErrShape)

	for _, v := range []*ts.Tensor{x, labels, a, b} {
		v.MustDrop()
	}
}

func TestForwardCentered(t *testing.T) {
	raw := smallConfig()
	raw.Data.Centered = false
	centered := smallConfig()

	m1, vs1 := newModel(t, raw)
	m2, vs2 := newModel(t, centered)
	require.NoError(t, vs2.Copy(vs1))

	x := ts.MustRand([]int64{2, 1, 8, 8}, gotch.Float, gotch.CPU)
	xc := ddpm.Center(x)
	labels := labelsOf(1, 2)

	a := m1.MustForward(x, labels, false)
	b := m2.MustForward(xc, labels, false)
	assert.InDeltaSlice(t, a.Float64Values(), b.Float64Values(), 1e-6)

	for _, v := range []*ts.Tensor{x, xc, labels, a, b} {
		v.MustDrop()
	}
}

func TestForwardConcurrent(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.Conditional = true
	m, _ := newModel(t, cfg)

	x := ts.MustRand([]int64{1, 1, 8, 8}, gotch.Float, gotch.CPU)
	labels := labelsOf(42)
	want := m.MustForward(x, labels, false)
	wantVals := want.Float64Values()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	vals := make([][]float64, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.Forward(x, labels, false)
			if err != nil {
				errs[i] = err
				return
			}
			vals[i] = out.Float64Values()
			out.MustDrop()
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.InDeltaSlice(t, wantVals, vals[i], 1e-6)
	}

	for _, v := range []*ts.Tensor{x, labels, want} {
		v.MustDrop()
	}
}

func TestForwardBadInput(t *testing.T) {
	m, _ := newModel(t, smallConfig())
	labels := labelsOf(0, 0)

	cases := map[string][]int64{
		"channels":   {2, 3, 8, 8},
		"size":       {2, 1, 16, 16},
		"non-square": {2, 1, 8, 4},
		"rank":       {2, 8, 8},
	}
	for name, shape := range cases {
		t.Run(name, func(t *testing.T) {
			x := ts.MustRand(shape, gotch.Float, gotch.CPU)
			defer x.MustDrop()
			_, err := m.Forward(x, labels, false)
			assert.ErrorIs(t, err, ddpm.ErrShape)
		})
	}

	x := ts.MustRand([]int64{3, 1, 8, 8}, gotch.Float, gotch.CPU)
	_, err := m.Forward(x, labels, false)
	assert.ErrorIs(t, err, ddpm.ErrShape)

	assert.Panics(t, func() { m.MustForward(x, labels, false) })

	x.MustDrop()
	labels.MustDrop()
}
