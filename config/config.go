// Package config holds the model and data configuration of a DDPM network.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for any malformed configuration.
var ErrInvalid = errors.New("invalid config")

// ModelConfig describes the network topology.
type ModelConfig struct {
	NF              int64   `yaml:"nf"`
	ChMult          []int64 `yaml:"ch_mult"`
	NumResBlocks    int     `yaml:"num_res_blocks"`
	AttnResolutions []int64 `yaml:"attn_resolutions"`
	Dropout         float64 `yaml:"dropout"`
	ResampWithConv  bool    `yaml:"resamp_with_conv"`
	Conditional     bool    `yaml:"conditional"`
	Nonlinearity    string  `yaml:"nonlinearity"`
	ScaleBySigma    bool    `yaml:"scale_by_sigma"`
	SigmaMin        float64 `yaml:"sigma_min"`
	SigmaMax        float64 `yaml:"sigma_max"`
	NumScales       int     `yaml:"num_scales"`
}

// DataConfig describes the images fed to the network.
type DataConfig struct {
	ImageSize   int64 `yaml:"image_size"`
	NumChannels int64 `yaml:"num_channels"`
	// OutChannels defaults to NumChannels when zero.
	OutChannels int64 `yaml:"out_channels"`
	Centered    bool  `yaml:"centered"`
}

// Config is the full configuration. It is treated as a value: callers
// that keep it should use Clone.
type Config struct {
	Model ModelConfig `yaml:"model"`
	Data  DataConfig  `yaml:"data"`
}

// Default returns the CIFAR-10 DDPM configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			NF:              128,
			ChMult:          []int64{1, 2, 2, 2},
			NumResBlocks:    2,
			AttnResolutions: []int64{16},
			Dropout:         0.1,
			ResampWithConv:  true,
			Conditional:     true,
			Nonlinearity:    "swish",
			ScaleBySigma:    false,
			SigmaMin:        0.01,
			SigmaMax:        50,
			NumScales:       1000,
		},
		Data: DataConfig{
			ImageSize:   32,
			NumChannels: 3,
			Centered:    false,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.Model.ChMult = append([]int64(nil), c.Model.ChMult...)
	c.Model.AttnResolutions = append([]int64(nil), c.Model.AttnResolutions...)
	return c
}

// NumResolutions is the number of resolution levels.
func (c Config) NumResolutions() int {
	return len(c.Model.ChMult)
}

// Resolutions returns the spatial side length at every level.
func (c Config) Resolutions() []int64 {
	res := make([]int64, c.NumResolutions())
	for i := range res {
		res[i] = c.Data.ImageSize >> i
	}
	return res
}

// Attends reports whether an attention block runs at spatial side length res.
func (c Config) Attends(res int64) bool {
	for _, r := range c.Model.AttnResolutions {
		if r == res {
			return true
		}
	}
	return false
}

// InChannels is the number of image channels the network consumes.
func (c Config) InChannels() int64 {
	return c.Data.NumChannels
}

// OutChannels is the number of channels the network predicts.
func (c Config) OutChannels() int64 {
	if c.Data.OutChannels > 0 {
		return c.Data.OutChannels
	}
	return c.Data.NumChannels
}

// TembDim is the width of the conditioning vector.
func (c Config) TembDim() int64 {
	return 4 * c.Model.NF
}
