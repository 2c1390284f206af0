// Package frames turns raster patches and sample images into normalized,
// channel-last RGB frames and groups them into fixed-length sequences.
package frames

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cropHealth/raster"
)

// ChannelOrder is the channel convention of the source pixels.
type ChannelOrder int

const (
	// RGB sources are stored as red, green, blue.
	RGB ChannelOrder = iota
	// BGR sources are stored blue first and get reversed on normalization.
	BGR
)

func (o ChannelOrder) String() string {
	if o == BGR {
		return "bgr"
	}
	return "rgb"
}

// ParseChannelOrder accepts "rgb" or "bgr".
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch s {
	case "", "rgb", "RGB":
		return RGB, nil
	case "bgr", "BGR":
		return BGR, nil
	}
	return RGB, errors.Errorf("unknown channel order %q, valid values are \"rgb\" and \"bgr\"", s)
}

// Frame is a Size x Size x 3 RGB image with values in [0,1], stored
// channel-last.
type Frame struct {
	Size int
	Pix  []float32
}

// At returns channel c at row y, column x.
func (f Frame) At(y, x, c int) float32 {
	return f.Pix[(y*f.Size+x)*3+c]
}

// Normalizer resizes patches to ImageSize with bilinear interpolation and
// rescales intensities into [0,1].
type Normalizer struct {
	ImageSize int

	// MaxValue overrides the source's largest representable intensity when
	// positive.
	MaxValue float32

	// Order is the channel convention of the source.
	Order ChannelOrder
}

// Normalize converts a (3,P,P) patch into a Frame.
//
// Samples are quantized to 8 bits against the maximum value before resizing,
// so all-max input maps to exactly 1.0 and all-zero to 0.0.
func (n Normalizer) Normalize(p raster.Patch) (Frame, error) {
	if n.ImageSize <= 0 {
		return Frame{}, errors.Errorf("image size must be positive, got %d", n.ImageSize)
	}
	maxValue := n.MaxValue
	if maxValue <= 0 {
		maxValue = p.MaxValue()
	}
	if maxValue <= 0 {
		return Frame{}, errors.Errorf("invalid max value %v", maxValue)
	}

	img := image.NewNRGBA(image.Rect(0, 0, p.Size, p.Size))
	for y := range p.Size {
		for x := range p.Size {
			off := img.PixOffset(x, y)
			for c := range 3 {
				band := c
				if n.Order == BGR {
					band = 2 - c
				}
				img.Pix[off+c] = quantize(p.At(band, y, x), maxValue)
			}
			img.Pix[off+3] = 0xff
		}
	}
	return n.fromNRGBA(img), nil
}

// NormalizeImage converts a decoded sample image into a Frame. Its channels
// are taken as stored in Order.
func (n Normalizer) NormalizeImage(src image.Image) (Frame, error) {
	if n.ImageSize <= 0 {
		return Frame{}, errors.Errorf("image size must be positive, got %d", n.ImageSize)
	}
	img := imaging.Clone(src)
	if n.Order == BGR {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return n.fromNRGBA(img), nil
}

func (n Normalizer) fromNRGBA(img *image.NRGBA) Frame {
	b := img.Bounds()
	if b.Dx() != n.ImageSize || b.Dy() != n.ImageSize {
		img = imaging.Resize(img, n.ImageSize, n.ImageSize, imaging.Linear)
	}
	f := Frame{Size: n.ImageSize, Pix: make([]float32, n.ImageSize*n.ImageSize*3)}
	for y := range n.ImageSize {
		for x := range n.ImageSize {
			off := img.PixOffset(x, y)
			for c := range 3 {
				f.Pix[(y*n.ImageSize+x)*3+c] = float32(img.Pix[off+c]) / 255
			}
		}
	}
	return f
}

func quantize(v, maxValue float32) uint8 {
	q := v * 255 / maxValue
	switch {
	case q <= 0:
		return 0
	case q >= 255:
		return 255
	}
	return uint8(q + 0.5)
}
