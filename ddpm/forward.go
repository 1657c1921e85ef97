package ddpm

import (
	"fmt"

	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ddpm/base"
)

// Center maps an image from [0, 1] to [-1, 1].
func Center(x *ts.Tensor) *ts.Tensor {
	return x.MustMulScalar(ts.FloatScalar(2), false).MustSubScalar(ts.FloatScalar(1), true)
}

// Forward predicts the noise of x, a [N, C, S, S] image batch, at the noise
// levels in labels, a [N] int64 tensor. Inputs must be square with side
// Data.ImageSize. x and labels stay owned by the caller.
//
// Errors wrap ErrShape for inputs that do not match the configuration and
// ErrStructure when the module list and the traversal diverge. Shape faults
// inside a module panic, as every gotch Must* call does.
func (m *Model) Forward(x, labels *ts.Tensor, train bool) (*ts.Tensor, error) {
	if err := m.checkInput(x, labels); err != nil {
		return nil, err
	}

	e := &evaluator{model: m, train: train}
	defer e.release()

	return e.run(x, labels)
}

// MustForward is Forward that panics on error.
func (m *Model) MustForward(x, labels *ts.Tensor, train bool) *ts.Tensor {
	out, err := m.Forward(x, labels, train)
	if err != nil {
		panic(err)
	}
	return out
}

func (m *Model) checkInput(x, labels *ts.Tensor) error {
	size := x.MustSize()
	want := []int64{m.cfg.InChannels(), m.cfg.Data.ImageSize, m.cfg.Data.ImageSize}
	if len(size) != 4 || size[1] != want[0] || size[2] != want[1] || size[3] != want[2] {
		return fmt.Errorf("%w: x is %v, want [N %d %d %d]", ErrShape, size, want[0], want[1], want[2])
	}

	lsize := labels.MustSize()
	if len(lsize) != 1 || lsize[0] != size[0] {
		return fmt.Errorf("%w: labels are %v, want [%d]", ErrShape, lsize, size[0])
	}

	if m.cfg.Model.ScaleBySigma {
		for i, l := range labels.Int64Values() {
			if l < 0 || l >= int64(len(m.sigmas)) {
				return fmt.Errorf("%w: label %d at %d is outside the %d noise levels", ErrShape, l, i, len(m.sigmas))
			}
		}
	}

	return nil
}

// evaluator holds the per-call state of one forward pass.
type evaluator struct {
	model  *Model
	train  bool
	cursor int
	last   *Module
	stack  skipStack[*ts.Tensor]
	temb   *ts.Tensor
	h      *ts.Tensor
	// owned is false while h is shared with the stack or the caller.
	owned bool
}

func (e *evaluator) run(x, labels *ts.Tensor) (*ts.Tensor, error) {
	m := e.model
	cfg := m.cfg
	levels := cfg.NumResolutions()

	if cfg.Model.Conditional {
		if err := e.embed(labels); err != nil {
			return nil, err
		}
	}

	if cfg.Data.Centered {
		e.h, e.owned = x, false
	} else {
		e.h, e.owned = Center(x), true
	}

	if err := e.apply(KindProject); err != nil {
		return nil, err
	}
	if err := e.push(); err != nil {
		return nil, err
	}

	// Encoder
	for level := 0; level < levels; level++ {
		for i := 0; i < cfg.Model.NumResBlocks; i++ {
			if err := e.top(); err != nil {
				return nil, err
			}
			if err := e.residual(); err != nil {
				return nil, err
			}
			if cfg.Attends(e.width()) {
				if err := e.apply(KindAttention); err != nil {
					return nil, err
				}
			}
			if err := e.push(); err != nil {
				return nil, err
			}
		}
		if level != levels-1 {
			if err := e.top(); err != nil {
				return nil, err
			}
			if err := e.apply(KindDownsample); err != nil {
				return nil, err
			}
			if err := e.push(); err != nil {
				return nil, err
			}
		}
	}

	// Bottleneck
	if err := e.top(); err != nil {
		return nil, err
	}
	if err := e.residual(); err != nil {
		return nil, err
	}
	if err := e.apply(KindAttention); err != nil {
		return nil, err
	}
	if err := e.residual(); err != nil {
		return nil, err
	}

	// Decoder
	for level := levels - 1; level >= 0; level-- {
		for i := 0; i < cfg.Model.NumResBlocks+1; i++ {
			if err := e.residualSkip(); err != nil {
				return nil, err
			}
		}
		if cfg.Attends(e.width()) {
			if err := e.apply(KindAttention); err != nil {
				return nil, err
			}
		}
		if level != 0 {
			if err := e.apply(KindUpsample); err != nil {
				return nil, err
			}
		}
	}

	if len(e.stack) != 0 {
		return nil, fmt.Errorf("%w: %d skip tensors left after the decoder", ErrStructure, len(e.stack))
	}

	if err := e.apply(KindNorm); err != nil {
		return nil, err
	}
	e.activate()
	if err := e.apply(KindProject); err != nil {
		return nil, err
	}

	if e.cursor != len(m.modules) {
		return nil, fmt.Errorf("%w: forward consumed %d of %d modules", ErrStructure, e.cursor, len(m.modules))
	}

	if cfg.Model.ScaleBySigma {
		e.scaleBySigma(labels)
	}

	out := e.take()
	return out, nil
}

// next consumes the module at the cursor, which must be of the given kind.
func (e *evaluator) next(kind Kind) (*Module, error) {
	mods := e.model.modules
	if e.cursor >= len(mods) {
		return nil, fmt.Errorf("%w: module list exhausted at %d, want %v", ErrStructure, e.cursor, kind)
	}

	mod := &mods[e.cursor]
	if mod.Kind != kind {
		return nil, fmt.Errorf("%w: module %d is %v, want %v", ErrStructure, e.cursor, mod.Kind, kind)
	}
	e.cursor++
	e.last = mod

	return mod, nil
}

// embed computes the conditioning vector from the labels.
func (e *evaluator) embed(labels *ts.Tensor) error {
	d0, err := e.next(KindDense)
	if err != nil {
		return err
	}
	d1, err := e.next(KindDense)
	if err != nil {
		return err
	}

	emb := base.TimestepEmbeddingTensor(labels, e.model.cfg.Model.NF)
	t0 := d0.unit.ForwardT(emb, e.train)
	emb.MustDrop()
	a := e.model.act(t0)
	t0.MustDrop()
	e.temb = d1.unit.ForwardT(a, e.train)
	a.MustDrop()

	return nil
}

// apply runs the next unconditioned module on h.
func (e *evaluator) apply(kind Kind) error {
	mod, err := e.next(kind)
	if err != nil {
		return err
	}

	e.set(mod.unit.ForwardT(e.h, e.train))
	return e.checkWidth(mod)
}

// top makes the top of the skip stack the current tensor.
func (e *evaluator) top() error {
	n := len(e.stack)
	if n == 0 {
		return fmt.Errorf("%w: skip stack empty before module %d", ErrStructure, e.cursor)
	}

	x := e.stack[n-1].x
	if e.owned && e.h != x {
		e.h.MustDrop()
	}
	e.h, e.owned = x, false

	return nil
}

// residual runs the next conditioned block on h.
func (e *evaluator) residual() error {
	mod, err := e.next(KindResidual)
	if err != nil {
		return err
	}
	if mod.Skip == SkipPop {
		return fmt.Errorf("%w: module %d expects a skip connection", ErrStructure, e.cursor-1)
	}

	e.set(mod.cond.ForwardC(e.h, e.temb, e.train))
	return e.checkWidth(mod)
}

// residualSkip pops a skip connection, concatenates it onto h along the
// channel axis and runs the next conditioned block on the result.
func (e *evaluator) residualSkip() error {
	mod, err := e.next(KindResidual)
	if err != nil {
		return err
	}
	if mod.Skip != SkipPop {
		return fmt.Errorf("%w: module %d takes no skip connection", ErrStructure, e.cursor-1)
	}

	rec, ok := e.stack.pop()
	if !ok {
		return fmt.Errorf("%w: skip stack exhausted at module %d", ErrStructure, e.cursor-1)
	}
	if rec.ch != mod.SkipCh {
		rec.x.MustDrop()
		return fmt.Errorf("%w: module %d expects a %d-channel skip, stack holds %d", ErrStructure, e.cursor-1, mod.SkipCh, rec.ch)
	}

	cat := ts.MustCat([]*ts.Tensor{e.h, rec.x}, 1)
	rec.x.MustDrop()
	e.set(cat)
	e.set(mod.cond.ForwardC(e.h, e.temb, e.train))

	return e.checkWidth(mod)
}

// checkWidth compares the spatial size of h with the one planned for mod.
func (e *evaluator) checkWidth(mod *Module) error {
	if w := e.width(); w != mod.Resolution {
		return fmt.Errorf("%w: module %d (%v) produced width %d, planned %d", ErrStructure, e.cursor-1, mod.Kind, w, mod.Resolution)
	}
	return nil
}

// push records h on the skip stack. Only stages tagged SkipPush may push.
func (e *evaluator) push() error {
	if e.last == nil || e.last.Skip != SkipPush {
		return fmt.Errorf("%w: module %d does not record a skip connection", ErrStructure, e.cursor-1)
	}

	e.stack.push(e.last.OutCh, e.h)
	e.owned = false

	return nil
}

func (e *evaluator) activate() {
	e.set(e.model.act(e.h))
}

func (e *evaluator) scaleBySigma(labels *ts.Tensor) {
	idx := labels.Int64Values()
	used := make([]float32, len(idx))
	for i, l := range idx {
		used[i] = float32(e.model.sigmas[l])
	}

	sigmas := ts.MustOfSlice(used).
		MustView([]int64{int64(len(used)), 1, 1, 1}, true).
		MustTo(e.h.MustDevice(), true)
	e.set(e.h.MustDiv(sigmas, false))
	sigmas.MustDrop()
}

// set replaces h with an evaluator-owned tensor, dropping the old h when no
// one else holds it.
func (e *evaluator) set(x *ts.Tensor) {
	if e.owned && e.h != nil {
		e.h.MustDrop()
	}
	e.h, e.owned = x, true
}

// take hands h over to the caller.
func (e *evaluator) take() *ts.Tensor {
	h := e.h
	if !e.owned {
		h = h.MustShallowClone()
	}
	e.h, e.owned = nil, false
	return h
}

// release drops whatever the pass still holds.
func (e *evaluator) release() {
	for len(e.stack) > 0 {
		rec, _ := e.stack.pop()
		if rec.x != e.h {
			rec.x.MustDrop()
		} else {
			e.owned = true
		}
	}
	if e.owned && e.h != nil {
		e.h.MustDrop()
	}
	e.h, e.owned = nil, false
	if e.temb != nil {
		e.temb.MustDrop()
		e.temb = nil
	}
}

func (e *evaluator) width() int64 {
	size := e.h.MustSize()
	return size[len(size)-1]
}
