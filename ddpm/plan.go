package ddpm

import (
	"errors"
	"fmt"

	"github.com/sugarme/ddpm/base"
	"github.com/sugarme/ddpm/config"
)

var (
	// ErrStructure reports a divergence between the module list and the
	// traversal that consumes it. It always indicates a defect.
	ErrStructure = errors.New("ddpm: module structure mismatch")
	// ErrShape reports forward inputs that do not match the configuration.
	ErrShape = errors.New("ddpm: input shape mismatch")
)

// Kind tags a module list entry with the role and call signature of its module.
type Kind int

const (
	KindDense      Kind = iota // timestep embedding projection
	KindProject                // 1x1 channel projection
	KindResidual               // conditioned residual block
	KindAttention              // spatial self-attention
	KindDownsample             // halves the resolution
	KindUpsample               // doubles the resolution
	KindNorm                   // output group norm
)

var kindNames = [...]string{
	KindDense:      "dense",
	KindProject:    "project",
	KindResidual:   "residual",
	KindAttention:  "attention",
	KindDownsample: "downsample",
	KindUpsample:   "upsample",
	KindNorm:       "norm",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Conditioned reports whether modules of this kind take the conditioning vector.
func (k Kind) Conditioned() bool {
	return k == KindResidual
}

// Phase is the part of the network a stage belongs to.
type Phase int

const (
	PhaseEmbed Phase = iota
	PhaseInput
	PhaseEncoder
	PhaseBottleneck
	PhaseDecoder
	PhaseOutput
)

var phaseNames = [...]string{
	PhaseEmbed:      "embed",
	PhaseInput:      "input",
	PhaseEncoder:    "encoder",
	PhaseBottleneck: "bottleneck",
	PhaseDecoder:    "decoder",
	PhaseOutput:     "output",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// SkipOp is what a stage does to the skip stack.
type SkipOp int

const (
	SkipNone SkipOp = iota
	// SkipPush records the stage output once the stage has run.
	SkipPush
	// SkipPop concatenates the top of the stack onto the stage input.
	SkipPop
)

func (s SkipOp) String() string {
	switch s {
	case SkipPush:
		return "push"
	case SkipPop:
		return "pop"
	default:
		return ""
	}
}

// Stage is the structural description of one module list entry.
type Stage struct {
	Kind  Kind
	Phase Phase
	// Level is the resolution level, or -1 outside the U.
	Level int
	// Resolution is the spatial side length of the stage output.
	Resolution int64
	InCh       int64
	OutCh      int64
	Skip       SkipOp
	// SkipCh is the width taken from the stack by a SkipPop stage. InCh
	// already includes it.
	SkipCh int64
}

// skipRecord is one entry of the skip stack. The planner records only the
// channel count; a forward pass also carries the tensor.
type skipRecord[T any] struct {
	ch int64
	x  T
}

type skipStack[T any] []skipRecord[T]

func (s *skipStack[T]) push(ch int64, x T) {
	*s = append(*s, skipRecord[T]{ch: ch, x: x})
}

func (s *skipStack[T]) pop() (skipRecord[T], bool) {
	n := len(*s)
	if n == 0 {
		var zero skipRecord[T]
		return zero, false
	}
	rec := (*s)[n-1]
	*s = (*s)[:n-1]
	return rec, true
}

type planner struct {
	stages []Stage
	stack  skipStack[struct{}]
	ch     int64
}

func (p *planner) add(s Stage) {
	p.stages = append(p.stages, s)
}

// push marks the last stage as recording its output.
func (p *planner) push() {
	last := &p.stages[len(p.stages)-1]
	last.Skip = SkipPush
	p.stack.push(p.ch, struct{}{})
}

// Plan translates cfg into the ordered stage list of the network.
func Plan(cfg config.Config) ([]Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := cfg.Model
	res := cfg.Resolutions()
	last := len(m.ChMult) - 1
	p := &planner{}

	if m.Conditional {
		p.add(Stage{Kind: KindDense, Phase: PhaseEmbed, Level: -1, InCh: m.NF, OutCh: 4 * m.NF})
		p.add(Stage{Kind: KindDense, Phase: PhaseEmbed, Level: -1, InCh: 4 * m.NF, OutCh: 4 * m.NF})
	}

	p.ch = m.NF
	p.add(Stage{Kind: KindProject, Phase: PhaseInput, Level: -1, Resolution: res[0], InCh: cfg.InChannels(), OutCh: m.NF})
	p.push()

	for level := 0; level <= last; level++ {
		for i := 0; i < m.NumResBlocks; i++ {
			out := m.NF * m.ChMult[level]
			p.add(Stage{Kind: KindResidual, Phase: PhaseEncoder, Level: level, Resolution: res[level], InCh: p.ch, OutCh: out})
			p.ch = out
			if cfg.Attends(res[level]) {
				p.add(Stage{Kind: KindAttention, Phase: PhaseEncoder, Level: level, Resolution: res[level], InCh: p.ch, OutCh: p.ch})
			}
			p.push()
		}
		if level != last {
			p.add(Stage{Kind: KindDownsample, Phase: PhaseEncoder, Level: level, Resolution: res[level+1], InCh: p.ch, OutCh: p.ch})
			p.push()
		}
	}

	for _, kind := range []Kind{KindResidual, KindAttention, KindResidual} {
		p.add(Stage{Kind: kind, Phase: PhaseBottleneck, Level: last, Resolution: res[last], InCh: p.ch, OutCh: p.ch})
	}

	for level := last; level >= 0; level-- {
		for i := 0; i < m.NumResBlocks+1; i++ {
			rec, ok := p.stack.pop()
			if !ok {
				return nil, fmt.Errorf("%w: channel stack exhausted at decoder level %d block %d", ErrStructure, level, i)
			}
			out := m.NF * m.ChMult[level]
			p.add(Stage{
				Kind: KindResidual, Phase: PhaseDecoder, Level: level, Resolution: res[level],
				InCh: p.ch + rec.ch, OutCh: out, Skip: SkipPop, SkipCh: rec.ch,
			})
			p.ch = out
		}
		if cfg.Attends(res[level]) {
			p.add(Stage{Kind: KindAttention, Phase: PhaseDecoder, Level: level, Resolution: res[level], InCh: p.ch, OutCh: p.ch})
		}
		if level != 0 {
			p.add(Stage{Kind: KindUpsample, Phase: PhaseDecoder, Level: level, Resolution: res[level-1], InCh: p.ch, OutCh: p.ch})
		}
	}

	if len(p.stack) != 0 {
		return nil, fmt.Errorf("%w: %d channel counts left on the stack after the decoder", ErrStructure, len(p.stack))
	}

	p.add(Stage{Kind: KindNorm, Phase: PhaseOutput, Level: -1, Resolution: res[0], InCh: p.ch, OutCh: p.ch})
	p.add(Stage{Kind: KindProject, Phase: PhaseOutput, Level: -1, Resolution: res[0], InCh: p.ch, OutCh: cfg.OutChannels()})

	if err := checkGroups(p.stages); err != nil {
		return nil, err
	}

	return p.stages, nil
}

// checkGroups rejects widths the group normalizations cannot split.
func checkGroups(stages []Stage) error {
	for i, s := range stages {
		var widths []int64
		switch s.Kind {
		case KindResidual:
			widths = []int64{s.InCh, s.OutCh}
		case KindAttention:
			widths = []int64{s.OutCh}
		case KindNorm:
			if !base.Splits(s.InCh, base.MaxGroups) {
				return fmt.Errorf("%w: output norm needs a width divisible by %d, got %d", config.ErrInvalid, base.MaxGroups, s.InCh)
			}
		}
		for _, w := range widths {
			if !base.Splits(w, base.GroupCount(w)) {
				return fmt.Errorf("%w: stage %d (%v) width %d cannot be split into %d groups", config.ErrInvalid, i, s.Kind, w, base.GroupCount(w))
			}
		}
	}

	return nil
}

// KindCounts tallies stages by kind.
func KindCounts(stages []Stage) map[Kind]int {
	counts := make(map[Kind]int)
	for _, s := range stages {
		counts[s.Kind]++
	}
	return counts
}
