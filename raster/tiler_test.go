package raster

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

func newRaster(t *testing.T, bands, h, w int) *Raster {
	t.Helper()
	r, err := New(bands, h, w)
	if err != nil {
		t.Fatalf("New(%d,%d,%d): %v", bands, h, w, err)
	}
	// encode the pixel position so views can be checked
	for b := range bands {
		for y := range h {
			for x := range w {
				r.Set(b, y, x, float32(b*1_000_000+y*1000+x))
			}
		}
	}
	return r
}

func TestTile_256(t *testing.T) {
	r := newRaster(t, 3, 256, 256)
	grid, err := Tile(r, TileOptions{PatchSize: 128})
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if grid.Rows != 2 || grid.Cols != 2 || grid.Len() != 4 {
		t.Fatalf("expected 2x2 grid with 4 patches, got %dx%d with %d", grid.Rows, grid.Cols, grid.Len())
	}
	want := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for i, p := range grid.Patches {
		if p.Row != want[i][0] || p.Col != want[i][1] {
			t.Fatalf("patch %d at (%d,%d), expected (%d,%d)", i, p.Row, p.Col, want[i][0], want[i][1])
		}
		if p.X != p.Col*128 || p.Y != p.Row*128 {
			t.Fatalf("patch %d origin (%d,%d) does not match its grid position", i, p.X, p.Y)
		}
		if got := len(p.Copy()); got != 3*128*128 {
			t.Fatalf("patch %d copy has %d samples, expected %d", i, got, 3*128*128)
		}
	}
}

func TestTile_DropsRemainder(t *testing.T) {
	r := newRaster(t, 3, 300, 300)
	grid, err := Tile(r, TileOptions{PatchSize: 128, Stride: 128})
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if grid.Len() != 4 {
		t.Fatalf("expected 4 patches, got %d", grid.Len())
	}
	last := grid.Patches[3]
	if last.X+last.Size > 256 || last.Y+last.Size > 256 {
		t.Fatalf("last patch reaches into the dropped remainder: %+v", last)
	}
}

func TestTile_Overlapping(t *testing.T) {
	r := newRaster(t, 3, 8, 12)
	grid, err := Tile(r, TileOptions{PatchSize: 4, Stride: 2})
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	// rows = (8-4)/2+1 = 3, cols = (12-4)/2+1 = 5
	if grid.Rows != 3 || grid.Cols != 5 {
		t.Fatalf("expected 3x5 grid, got %dx%d", grid.Rows, grid.Cols)
	}
}

func TestTile_SmallerThanPatch(t *testing.T) {
	r := newRaster(t, 3, 100, 300)
	grid, err := Tile(r, TileOptions{PatchSize: 128})
	if !errors.Is(err, ErrNoTilesProduced) {
		t.Fatalf("expected ErrNoTilesProduced, got %v", err)
	}
	if grid == nil || grid.Len() != 0 {
		t.Fatalf("expected an empty grid, got %+v", grid)
	}
}

func TestTile_InvalidOptions(t *testing.T) {
	r := newRaster(t, 3, 16, 16)
	if _, err := Tile(r, TileOptions{PatchSize: 0}); err == nil {
		t.Fatalf("expected error for zero patch size")
	}
	if _, err := Tile(r, TileOptions{PatchSize: 4, Stride: -1}); err == nil {
		t.Fatalf("expected error for negative stride")
	}
	if _, err := Tile(newRaster(t, 2, 16, 16), TileOptions{PatchSize: 4}); err == nil {
		t.Fatalf("expected error for a 2-band raster")
	}
}

func TestPatch_OnlyFirstThreeBands(t *testing.T) {
	r := newRaster(t, 5, 4, 4)
	grid, err := Tile(r, TileOptions{PatchSize: 2})
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	p := grid.Patches[3] // row 1, col 1
	data := p.Copy()
	if len(data) != 3*2*2 {
		t.Fatalf("expected 12 samples, got %d", len(data))
	}
	// band 2, local (1,0) -> raster (3,2)
	if got, want := data[2*4+1*2+0], r.At(2, 3, 2); got != want {
		t.Fatalf("copy mismatch: got %v want %v", got, want)
	}
	if got, want := p.At(1, 0, 1), r.At(1, 2, 3); got != want {
		t.Fatalf("At mismatch: got %v want %v", got, want)
	}
}

func TestLoad_PNGAndTIFF(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := range 4 {
		for x := range 6 {
			img.Set(x, y, color.NRGBA{R: uint8(10 * x), G: uint8(20 * y), B: 7, A: 255})
		}
	}

	pngPath := filepath.Join(dir, "ortho.png")
	f, err := os.Create(pngPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	f.Close()

	tifPath := filepath.Join(dir, "ortho.tif")
	f, err = os.Create(tifPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("encode tiff: %v", err)
	}
	f.Close()

	for _, path := range []string{pngPath, tifPath} {
		r, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", path, err)
		}
		if r.Bands != 3 || r.Height != 4 || r.Width != 6 {
			t.Fatalf("%s: unexpected shape %v", path, r.Shape())
		}
		if r.MaxValue != MaxValue8 {
			t.Fatalf("%s: expected 8-bit max value, got %v", path, r.MaxValue)
		}
		if r.At(0, 2, 5) != 50 || r.At(1, 3, 0) != 60 || r.At(2, 0, 0) != 7 {
			t.Fatalf("%s: unexpected samples", path)
		}
	}
}

func TestFromImage_16Bit(t *testing.T) {
	img := image.NewRGBA64(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA64{R: 65535, G: 1000, B: 0, A: 65535})
	r := FromImage(img)
	if r.MaxValue != MaxValue16 {
		t.Fatalf("expected 16-bit max value, got %v", r.MaxValue)
	}
	if r.At(0, 1, 1) != 65535 || r.At(1, 1, 1) != 1000 {
		t.Fatalf("unexpected samples: %v %v", r.At(0, 1, 1), r.At(1, 1, 1))
	}
}
