package imageio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
	"golang.org/x/sync/errgroup"
)

// LoadBatch reads, prepares and stacks the image files into a float
// [len(paths), channels, size, size] tensor with values in [0, 1]. Files are
// decoded concurrently; the first failure cancels the rest.
func LoadBatch(ctx context.Context, paths []string, size, channels int) (*ts.Tensor, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("imageio: no images to load")
	}
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("%w: %d channels, images carry 1 to %d", ErrChannels, channels, MaxChannels)
	}

	plane := channels * size * size
	data := make([]float32, len(paths)*plane)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Read(path)
			if err != nil {
				return err
			}
			copy(data[i*plane:(i+1)*plane], CHW(Prepare(img, size, channels), channels))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("loaded image batch", "images", len(paths), "size", size, "channels", channels)

	shape := []int64{int64(len(paths)), int64(channels), int64(size), int64(size)}
	return ts.MustOfSlice(data).MustView(shape, true), nil
}

// SaveBatch writes every [C, H, W] map of the [N, C, H, W] tensor x to dir,
// naming each after the matching entry of names with suffix appended.
// It returns the written paths.
func SaveBatch(x *ts.Tensor, dir string, names []string, suffix string) ([]string, error) {
	size := x.MustSize()
	if len(size) != 4 || int(size[0]) != len(names) {
		return nil, fmt.Errorf("imageio: cannot save %v as %d maps", size, len(names))
	}
	c, h, w := int(size[1]), int(size[2]), int(size[3])
	plane := c * h * w

	cpu := x.MustTo(gotch.CPU, false)
	vals64 := cpu.Float64Values()
	cpu.MustDrop()
	vals := make([]float32, len(vals64))
	for i, v := range vals64 {
		vals[i] = float32(v)
	}

	out := make([]string, len(names))
	for i, name := range names {
		img, err := FromCHW(vals[i*plane:(i+1)*plane], c, h, w)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		out[i] = filepath.Join(dir, base+suffix+".png")
		if err := Save(img, out[i]); err != nil {
			return nil, err
		}
	}

	return out, nil
}
