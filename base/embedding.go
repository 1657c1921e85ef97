package base

import (
	"math"

	"github.com/sugarme/gotch/ts"
)

const maxPositions = 10000

// TimestepEmbedding returns the sinusoidal embedding of every timestep as a
// row-major [len(timesteps), dim] slice. Each row is
// [sin(t*f_0) .. sin(t*f_h-1), cos(t*f_0) .. cos(t*f_h-1)] with
// f_i = exp(-i*log(10000)/(h-1)) and h = dim/2; an odd dim is zero padded.
func TimestepEmbedding(timesteps []int64, dim int) []float32 {
	half := dim / 2
	var scale float64
	if half > 1 {
		scale = math.Log(maxPositions) / float64(half-1)
	}

	freqs := make([]float64, half)
	for i := range freqs {
		freqs[i] = math.Exp(-scale * float64(i))
	}

	emb := make([]float32, len(timesteps)*dim)
	for n, t := range timesteps {
		row := emb[n*dim : (n+1)*dim]
		for i, f := range freqs {
			arg := float64(t) * f
			row[i] = float32(math.Sin(arg))
			row[half+i] = float32(math.Cos(arg))
		}
	}

	return emb
}

// TimestepEmbeddingTensor embeds a [N] label tensor into a [N, dim] float
// tensor on the labels' device.
func TimestepEmbeddingTensor(labels *ts.Tensor, dim int64) *ts.Tensor {
	steps := labels.Int64Values()
	emb := TimestepEmbedding(steps, int(dim))

	return ts.MustOfSlice(emb).
		MustView([]int64{int64(len(steps)), dim}, true).
		MustTo(labels.MustDevice(), true)
}
