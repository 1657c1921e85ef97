package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/ddpm/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int64{32, 16, 8, 4}, cfg.Resolutions())
	assert.True(t, cfg.Attends(16))
	assert.False(t, cfg.Attends(8))
	assert.Equal(t, int64(3), cfg.OutChannels())
	assert.Equal(t, int64(512), cfg.TembDim())
}

func TestParseOverridesDefaults(t *testing.T) {
	input := `
model:
  nf: 32
  ch_mult: [1, 2]
  num_res_blocks: 1
  attn_resolutions: []
  conditional: false
data:
  image_size: 8
  num_channels: 1
  centered: true
`
	cfg, err := config.Parse([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, int64(32), cfg.Model.NF)
	assert.Equal(t, []int64{1, 2}, cfg.Model.ChMult)
	assert.Empty(t, cfg.Model.AttnResolutions)
	assert.False(t, cfg.Model.Conditional)
	assert.Equal(t, "swish", cfg.Model.Nonlinearity)
	assert.Equal(t, int64(8), cfg.Data.ImageSize)
	assert.True(t, cfg.Data.Centered)
	assert.Equal(t, int64(1), cfg.OutChannels())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestParseUnknownField(t *testing.T) {
	_, err := config.Parse([]byte("model:\n  width: 3\n"))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddpm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  out_channels: 6\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cfg.OutChannels())
	assert.Equal(t, int64(3), cfg.InChannels())

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"no resolutions":      func(c *config.Config) { c.Model.ChMult = nil },
		"zero multiplier":     func(c *config.Config) { c.Model.ChMult = []int64{1, 0} },
		"negative res blocks": func(c *config.Config) { c.Model.NumResBlocks = -1 },
		"zero nf":             func(c *config.Config) { c.Model.NF = 0 },
		"odd image size":      func(c *config.Config) { c.Data.ImageSize = 12 },
		"zero channels":       func(c *config.Config) { c.Data.NumChannels = 0 },
		"dropout one":         func(c *config.Config) { c.Model.Dropout = 1 },
		"unknown act":         func(c *config.Config) { c.Model.Nonlinearity = "gelu" },
		"sigma order":         func(c *config.Config) { c.Model.SigmaMin, c.Model.SigmaMax = 2, 1 },
		"no scales":           func(c *config.Config) { c.Model.NumScales = 0 },
		"bad attn resolution": func(c *config.Config) { c.Model.AttnResolutions = []int64{-4} },
		"too many levels": func(c *config.Config) {
			c.Model.ChMult = make([]int64, 65)
			for i := range c.Model.ChMult {
				c.Model.ChMult[i] = 1
			}
		},
		"levels past image size": func(c *config.Config) {
			c.Model.ChMult = []int64{1, 1, 1, 1, 1, 1, 1}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
		})
	}
}

func TestZeroResBlocksIsValid(t *testing.T) {
	cfg := config.Default()
	cfg.Model.NumResBlocks = 0
	assert.NoError(t, cfg.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	cfg := config.Default()
	c := cfg.Clone()
	c.Model.ChMult[0] = 7
	c.Model.AttnResolutions[0] = 7

	assert.Equal(t, int64(1), cfg.Model.ChMult[0])
	assert.Equal(t, int64(16), cfg.Model.AttnResolutions[0])
}
