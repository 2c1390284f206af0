package raster

import (
	"github.com/pkg/errors"
)

// RGBBands is the number of leading bands a patch exposes.
const RGBBands = 3

// ErrNoTilesProduced is returned (wrapped) by Tile when the raster is smaller
// than a single patch.
var ErrNoTilesProduced = errors.New("no tiles produced")

// TileOptions configures Tile. Stride defaults to PatchSize.
type TileOptions struct {
	PatchSize int
	Stride    int
}

// Patch is a read-only (3, P, P) view into a Raster.
type Patch struct {
	Row, Col int
	// X, Y is the pixel origin of the patch in the raster.
	X, Y int
	Size int

	src *Raster
}

// At returns band b (0..2) at patch-local row y, column x.
func (p Patch) At(b, y, x int) float32 {
	return p.src.At(b, p.Y+y, p.X+x)
}

// MaxValue is the source raster's largest representable intensity.
func (p Patch) MaxValue() float32 {
	return p.src.MaxValue
}

// Copy materializes the patch as 3*P*P band-major samples.
func (p Patch) Copy() []float32 {
	out := make([]float32, RGBBands*p.Size*p.Size)
	i := 0
	for b := range RGBBands {
		for y := range p.Size {
			row := p.src.Data[(b*p.src.Height+p.Y+y)*p.src.Width+p.X:]
			i += copy(out[i:i+p.Size], row[:p.Size])
		}
	}
	return out
}

// Grid is the result of tiling: Rows*Cols patches in row-major order.
type Grid struct {
	Rows, Cols int
	PatchSize  int
	Stride     int
	Patches    []Patch
}

// Len is the number of patches.
func (g *Grid) Len() int { return len(g.Patches) }

// Tile cuts r into non-padded patches of opts.PatchSize, stepping by
// opts.Stride. Trailing remainders narrower than a patch are dropped.
//
// A raster smaller than one patch yields an empty grid and an error wrapping
// ErrNoTilesProduced.
func Tile(r *Raster, opts TileOptions) (*Grid, error) {
	p := opts.PatchSize
	s := opts.Stride
	if s == 0 {
		s = p
	}
	if p <= 0 || s <= 0 {
		return nil, errors.Errorf("patch size and stride must be positive, got patch=%d stride=%d", p, s)
	}
	if r.Bands < RGBBands {
		return nil, errors.Errorf("raster has %d bands, at least %d are required", r.Bands, RGBBands)
	}
	grid := &Grid{PatchSize: p, Stride: s}
	if r.Height < p || r.Width < p {
		return grid, errors.Wrapf(ErrNoTilesProduced, "raster %dx%d is smaller than patch size %d", r.Width, r.Height, p)
	}
	grid.Rows = (r.Height-p)/s + 1
	grid.Cols = (r.Width-p)/s + 1
	grid.Patches = make([]Patch, 0, grid.Rows*grid.Cols)
	for row := range grid.Rows {
		for col := range grid.Cols {
			grid.Patches = append(grid.Patches, Patch{
				Row:  row,
				Col:  col,
				X:    col * s,
				Y:    row * s,
				Size: p,
				src:  r,
			})
		}
	}
	return grid, nil
}
