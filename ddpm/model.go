// Package ddpm builds the DDPM score U-Net and evaluates it.
//
// The network is stored as a flat, tagged module list. New assembles it from
// the stage plan of a configuration; Forward walks it with a cursor and a
// skip stack, checking every entry's tag against the step it is used for.
// Ref. https://arxiv.org/abs/2006.11239
package ddpm

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ddpm/base"
	"github.com/sugarme/ddpm/config"
	"github.com/sugarme/ddpm/schedule"
)

// Conditioned is a module that also consumes the conditioning vector.
type Conditioned interface {
	ForwardC(x, temb *ts.Tensor, train bool) *ts.Tensor
}

// Module is one entry of the module list.
type Module struct {
	Stage
	unit ts.ModuleT  // set for every kind but KindResidual
	cond Conditioned // set for KindResidual
}

// Model is a DDPM U-Net. It is immutable after New; its parameters live in
// the VarStore it was built on.
type Model struct {
	cfg     config.Config
	act     base.Activation
	modules []Module
	sigmas  []float64
}

// New builds the module list for cfg under p.
func New(p *nn.Path, cfg config.Config) (*Model, error) {
	cfg = cfg.Clone()

	stages, err := Plan(cfg)
	if err != nil {
		return nil, err
	}

	act, err := base.GetAct(cfg.Model.Nonlinearity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	sigmas, err := schedule.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	var tembDim int64
	if cfg.Model.Conditional {
		tembDim = cfg.TembDim()
	}

	root := p.Sub("all_modules")
	modules := make([]Module, len(stages))
	for i, s := range stages {
		mp := root.Sub(strconv.Itoa(i))
		mod := Module{Stage: s}

		switch s.Kind {
		case KindDense:
			mod.unit = base.NewDense(mp, s.InCh, s.OutCh)
		case KindProject:
			if s.Phase == PhaseOutput {
				mod.unit = base.Conv1x1(mp, s.InCh, s.OutCh, 0)
			} else {
				mod.unit = base.Conv1x1(mp, s.InCh, s.OutCh)
			}
		case KindResidual:
			mod.cond = base.NewResnetBlock(mp, act, tembDim, cfg.Model.Dropout, s.InCh, s.OutCh)
		case KindAttention:
			mod.unit = base.NewAttnBlock(mp, s.OutCh)
		case KindDownsample:
			mod.unit = base.NewDownsample(mp, s.OutCh, cfg.Model.ResampWithConv)
		case KindUpsample:
			mod.unit = base.NewUpsample(mp, s.OutCh, cfg.Model.ResampWithConv)
		case KindNorm:
			mod.unit = base.NewGroupNorm(mp, s.OutCh, base.MaxGroups, base.BlockEps)
		default:
			return nil, fmt.Errorf("%w: stage %d has unknown kind %v", ErrStructure, i, s.Kind)
		}

		modules[i] = mod
	}

	counts := KindCounts(stages)
	slog.Debug("built ddpm module list",
		"modules", len(modules),
		"residual", counts[KindResidual],
		"attention", counts[KindAttention],
		"resolutions", cfg.Resolutions(),
	)

	return &Model{
		cfg:     cfg,
		act:     act,
		modules: modules,
		sigmas:  sigmas,
	}, nil
}

// Config returns a copy of the configuration the model was built from.
func (m *Model) Config() config.Config {
	return m.cfg.Clone()
}

// Len is the number of entries in the module list.
func (m *Model) Len() int {
	return len(m.modules)
}

// Stages returns the structural description of the module list.
func (m *Model) Stages() []Stage {
	stages := make([]Stage, len(m.modules))
	for i, mod := range m.modules {
		stages[i] = mod.Stage
	}
	return stages
}

// Sigmas returns a copy of the noise schedule.
func (m *Model) Sigmas() []float64 {
	return append([]float64(nil), m.sigmas...)
}

// Sigma returns the noise level for label. Labels outside the schedule
// wrap ErrShape, as they do in Forward.
func (m *Model) Sigma(label int) (float64, error) {
	if label < 0 || label >= len(m.sigmas) {
		return 0, fmt.Errorf("%w: label %d is outside the %d noise levels", ErrShape, label, len(m.sigmas))
	}
	return m.sigmas[label], nil
}
