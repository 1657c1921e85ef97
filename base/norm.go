package base

import (
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

const (
	// BlockEps is the group norm epsilon used throughout the network.
	BlockEps = 1e-6
	// MaxGroups caps the number of normalization groups.
	MaxGroups = 32
)

// GroupNorm normalizes over channel groups with a learned affine transform.
type GroupNorm struct {
	Ws     *ts.Tensor
	Bs     *ts.Tensor
	groups int64
	eps    float64
}

// NewGroupNorm creates a GroupNorm with unit weight and zero bias.
func NewGroupNorm(p *nn.Path, channels, groups int64, eps float64) *GroupNorm {
	return &GroupNorm{
		Ws:     p.MustOnes("weight", []int64{channels}),
		Bs:     p.MustZeros("bias", []int64{channels}),
		groups: groups,
		eps:    eps,
	}
}

// ForwardT implements ts.ModuleT for GroupNorm.
func (g *GroupNorm) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return ts.MustGroupNorm(x, g.groups, g.Ws, g.Bs, g.eps, false)
}

// Groups returns the number of groups.
func (g *GroupNorm) Groups() int64 {
	return g.groups
}

// GroupCount is the number of groups a block uses for the given width.
func GroupCount(channels int64) int64 {
	g := channels / 4
	if g > MaxGroups {
		g = MaxGroups
	}
	return g
}

// Splits reports whether channels can be divided into groups.
func Splits(channels, groups int64) bool {
	return groups > 0 && channels%groups == 0
}
