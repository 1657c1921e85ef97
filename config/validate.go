package config

import (
	"fmt"
)

var nonlinearities = map[string]bool{
	"swish": true,
	"relu":  true,
	"lrelu": true,
	"elu":   true,
}

// Validate checks c and returns an error wrapping ErrInvalid for the first
// problem found.
func (c Config) Validate() error {
	m, d := c.Model, c.Data

	switch {
	case len(m.ChMult) == 0:
		return invalid("ch_mult must name at least one resolution")
	case m.NF <= 0:
		return invalid("nf must be positive, got %d", m.NF)
	case m.NumResBlocks < 0:
		return invalid("num_res_blocks must not be negative, got %d", m.NumResBlocks)
	case m.Dropout < 0 || m.Dropout >= 1:
		return invalid("dropout must be in [0, 1), got %v", m.Dropout)
	case !nonlinearities[m.Nonlinearity]:
		return invalid("unknown nonlinearity %q", m.Nonlinearity)
	case m.NumScales < 1:
		return invalid("num_scales must be at least 1, got %d", m.NumScales)
	case m.SigmaMin <= 0 || m.SigmaMax < m.SigmaMin:
		return invalid("sigma range must satisfy 0 < sigma_min <= sigma_max, got [%v, %v]", m.SigmaMin, m.SigmaMax)
	case d.NumChannels <= 0:
		return invalid("num_channels must be positive, got %d", d.NumChannels)
	case d.OutChannels < 0:
		return invalid("out_channels must not be negative, got %d", d.OutChannels)
	}

	for i, mult := range m.ChMult {
		if mult <= 0 {
			return invalid("ch_mult[%d] must be positive, got %d", i, mult)
		}
	}

	// Every level but the last halves the image.
	halvings := int64(len(m.ChMult)) - 1
	if halvings > 62 || d.ImageSize <= 0 || d.ImageSize%(int64(1)<<halvings) != 0 {
		return invalid("image_size %d cannot be halved %d times", d.ImageSize, halvings)
	}

	for _, r := range m.AttnResolutions {
		if r <= 0 {
			return invalid("attn_resolutions entries must be positive, got %d", r)
		}
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
