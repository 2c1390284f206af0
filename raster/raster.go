// Package raster holds multi-band orthomosaic rasters and cuts them into
// fixed-size patches.
//
// A Raster stores its samples band-major: all of band 0 first, then band 1,
// and so on. Only the pixel grid is interpreted; any geo-referencing carried by
// the source file is ignored.
package raster

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"k8s.io/klog/v2"
)

const (
	// MaxValue8 is the largest representable intensity of an 8-bit raster.
	MaxValue8 = 255
	// MaxValue16 is the largest representable intensity of a 16-bit raster.
	MaxValue16 = 65535
)

// Raster is a (bands, height, width) grid of intensities.
type Raster struct {
	Bands, Height, Width int

	// MaxValue is the largest representable intensity, used to rescale
	// samples into [0,1]. Rasters decoded from 8-bit images use 255.
	MaxValue float32

	// Data holds Bands*Height*Width samples, band-major.
	Data []float32
}

// New allocates a zeroed 8-bit raster.
func New(bands, height, width int) (*Raster, error) {
	if bands <= 0 || height < 0 || width < 0 {
		return nil, errors.Errorf("invalid raster shape (%d, %d, %d)", bands, height, width)
	}
	return &Raster{
		Bands:    bands,
		Height:   height,
		Width:    width,
		MaxValue: MaxValue8,
		Data:     make([]float32, bands*height*width),
	}, nil
}

// At returns the sample of band b at row y, column x.
func (r *Raster) At(b, y, x int) float32 {
	return r.Data[(b*r.Height+y)*r.Width+x]
}

// Set stores v into band b at row y, column x.
func (r *Raster) Set(b, y, x int, v float32) {
	r.Data[(b*r.Height+y)*r.Width+x] = v
}

// Fill sets every sample of band b to v.
func (r *Raster) Fill(b int, v float32) {
	plane := r.Data[b*r.Height*r.Width : (b+1)*r.Height*r.Width]
	for i := range plane {
		plane[i] = v
	}
}

// Shape returns (bands, height, width).
func (r *Raster) Shape() []int {
	return []int{r.Bands, r.Height, r.Width}
}

// SizeBytes is the memory held by the sample buffer.
func (r *Raster) SizeBytes() uint64 {
	return uint64(len(r.Data)) * 4
}

// FromImage converts a decoded image into a 3-band raster (R, G, B). 16-bit
// images keep their full depth, everything else is treated as 8-bit.
func FromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	r := &Raster{
		Bands:    3,
		Height:   h,
		Width:    w,
		MaxValue: MaxValue8,
		Data:     make([]float32, 3*h*w),
	}
	deep := is16Bit(img)
	if deep {
		r.MaxValue = MaxValue16
	}
	for y := range h {
		for x := range w {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			rv, gv, bv := float32(c.R), float32(c.G), float32(c.B)
			if !deep {
				rv, gv, bv = float32(c.R>>8), float32(c.G>>8), float32(c.B>>8)
			}
			r.Set(0, y, x, rv)
			r.Set(1, y, x, gv)
			r.Set(2, y, x, bv)
		}
	}
	return r
}

func is16Bit(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		return true
	}
	return false
}

// Load decodes a raster file. TIFF files go through golang.org/x/image/tiff,
// PNG and JPEG through the standard decoders.
func Load(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening raster %q", path)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	default:
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding raster %q", path)
	}
	r := FromImage(img)
	klog.V(1).Infof("loaded raster %q: %dx%d, %d bands, %s", path, r.Width, r.Height, r.Bands, humanize.Bytes(r.SizeBytes()))
	return r, nil
}
