// Package imageio reads image files into model-ready tensors and writes
// predicted noise maps back out as images.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

var (
	// ErrFormat reports an image extension that cannot be decoded.
	ErrFormat = errors.New("imageio: unsupported image format")
	// ErrChannels reports a channel count an NRGBA image cannot supply.
	ErrChannels = errors.New("imageio: unsupported channel count")
)

// MaxChannels is the number of color planes of an NRGBA image.
const MaxChannels = 4

// Read decodes the image file at filename. The decoder is chosen by extension.
func Read(filename string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
	default:
		return nil, fmt.Errorf("%w: %q", ErrFormat, ext)
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch ext {
	case ".png":
		img, err = png.Decode(f)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	default:
		img, err = tiff.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}

	return img, nil
}

// Prepare crops img to its central square, resizes it to size x size and
// converts it to grayscale when channels is 1.
func Prepare(img image.Image, size, channels int) *image.NRGBA {
	b := img.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(src, image.Point{}, img, b, draw.Src, nil)

	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	sq := imaging.CropCenter(src, side, side)

	var out image.Image = sq
	if side != size {
		out = resize.Resize(uint(size), uint(size), sq, resize.Lanczos3)
	}

	if channels == 1 {
		return imaging.Grayscale(out)
	}
	return imaging.Clone(out)
}

// CHW returns the first channels color planes of img as a row-major
// [channels, H, W] slice with values in [0, 1]. Channels 1 uses the red
// plane, which holds the luminance of a Prepare'd grayscale image. channels
// is clamped to [1, MaxChannels].
func CHW(img *image.NRGBA, channels int) []float32 {
	channels = max(1, min(channels, MaxChannels))
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, channels*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			for c := 0; c < channels; c++ {
				out[c*plane+y*w+x] = float32(img.Pix[i+c]) / 255
			}
		}
	}

	return out
}

// FromCHW renders a row-major [channels, h, w] slice as an image. Values are
// min-max stretched to the full intensity range; a constant map renders
// black. One channel gives a grayscale image, three an RGB image.
func FromCHW(vals []float32, channels, h, w int) (image.Image, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("imageio: cannot render %d channels", channels)
	}
	if len(vals) != channels*h*w {
		return nil, fmt.Errorf("imageio: %d values do not fill [%d %d %d]", len(vals), channels, h, w)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	pix := func(v float32) uint8 {
		return uint8(math.Round((float64(v) - lo) * scale))
	}

	plane := h * w
	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i, v := range vals {
			img.Pix[i] = pix(v)
		}
		return img, nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < plane; i++ {
		img.SetNRGBA(i%w, i/w, color.NRGBA{
			R: pix(vals[i]),
			G: pix(vals[plane+i]),
			B: pix(vals[2*plane+i]),
			A: 255,
		})
	}
	return img, nil
}

// Save writes img to filename, choosing the encoder by extension.
func Save(img image.Image, filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return imaging.Save(img, filename)
}
