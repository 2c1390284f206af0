package frames

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/Noofbiz/cropHealth/raster"
)

func singlePatch(t *testing.T, size int, fill [3]float32) raster.Patch {
	t.Helper()
	r, err := raster.New(3, size, size)
	if err != nil {
		t.Fatalf("raster.New: %v", err)
	}
	for b := range 3 {
		r.Fill(b, fill[b])
	}
	grid, err := raster.Tile(r, raster.TileOptions{PatchSize: size})
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	return grid.Patches[0]
}

func TestNormalize_Range(t *testing.T) {
	n := Normalizer{ImageSize: 8}
	cases := []struct {
		name string
		fill float32
		want float32
	}{
		{"all max", 255, 1},
		{"all zero", 0, 0},
	}
	for _, c := range cases {
		f, err := n.Normalize(singlePatch(t, 16, [3]float32{c.fill, c.fill, c.fill}))
		if err != nil {
			t.Fatalf("%s: Normalize: %v", c.name, err)
		}
		if f.Size != 8 || len(f.Pix) != 8*8*3 {
			t.Fatalf("%s: unexpected frame size %d (%d values)", c.name, f.Size, len(f.Pix))
		}
		for i, v := range f.Pix {
			if v != c.want {
				t.Fatalf("%s: value %d is %v, expected %v", c.name, i, v, c.want)
			}
		}
	}
}

func TestNormalize_ValuesInUnitRange(t *testing.T) {
	r, _ := raster.New(3, 10, 10)
	for b := range 3 {
		for y := range 10 {
			for x := range 10 {
				r.Set(b, y, x, float32((b*37+y*11+x*29)%400)) // some above 255
			}
		}
	}
	grid, err := raster.Tile(r, raster.TileOptions{PatchSize: 10})
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	f, err := Normalizer{ImageSize: 7}.Normalize(grid.Patches[0])
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for i, v := range f.Pix {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of range: %v", i, v)
		}
	}
}

func TestNormalize_ChannelOrder(t *testing.T) {
	p := singlePatch(t, 4, [3]float32{255, 0, 51})

	rgb, err := Normalizer{ImageSize: 4, Order: RGB}.Normalize(p)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rgb.At(0, 0, 0) != 1 || rgb.At(0, 0, 1) != 0 || rgb.At(0, 0, 2) != 0.2 {
		t.Fatalf("rgb: unexpected pixel (%v,%v,%v)", rgb.At(0, 0, 0), rgb.At(0, 0, 1), rgb.At(0, 0, 2))
	}

	bgr, err := Normalizer{ImageSize: 4, Order: BGR}.Normalize(p)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if bgr.At(3, 3, 0) != 0.2 || bgr.At(3, 3, 2) != 1 {
		t.Fatalf("bgr source was not reversed: (%v,%v,%v)", bgr.At(3, 3, 0), bgr.At(3, 3, 1), bgr.At(3, 3, 2))
	}
}

func TestNormalize_16BitMaxValue(t *testing.T) {
	r, _ := raster.New(3, 4, 4)
	r.MaxValue = raster.MaxValue16
	for b := range 3 {
		r.Fill(b, raster.MaxValue16)
	}
	grid, _ := raster.Tile(r, raster.TileOptions{PatchSize: 4})
	f, err := Normalizer{ImageSize: 2}.Normalize(grid.Patches[0])
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if f.At(1, 1, 1) != 1 {
		t.Fatalf("expected 1.0 for a saturated 16-bit patch, got %v", f.At(1, 1, 1))
	}
}

func TestNormalizeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := range 6 {
		for x := range 6 {
			img.Set(x, y, color.RGBA{R: 255, G: 102, B: 0, A: 255})
		}
	}
	f, err := Normalizer{ImageSize: 3, Order: BGR}.NormalizeImage(img)
	if err != nil {
		t.Fatalf("NormalizeImage: %v", err)
	}
	if f.At(1, 1, 0) != 0 || f.At(1, 1, 1) != 0.4 || f.At(1, 1, 2) != 1 {
		t.Fatalf("unexpected pixel (%v,%v,%v)", f.At(1, 1, 0), f.At(1, 1, 1), f.At(1, 1, 2))
	}
	if _, err := (Normalizer{}).NormalizeImage(img); err == nil {
		t.Fatalf("expected error for zero image size")
	}
}

func TestReplicate(t *testing.T) {
	f := Frame{Size: 1, Pix: []float32{0.1, 0.2, 0.3}}
	seq := Builder{Timesteps: 3}.Replicate(f)
	if seq.Len() != 3 || !seq.Degenerate() {
		t.Fatalf("expected a degenerate sequence of 3, got len=%d degenerate=%v", seq.Len(), seq.Degenerate())
	}
	flat := seq.Flat()
	if len(flat) != 9 {
		t.Fatalf("expected 9 values, got %d", len(flat))
	}
	for i := range 3 {
		for c := range 3 {
			if flat[i*3+c] != f.Pix[c] {
				t.Fatalf("frame %d differs from the source frame", i)
			}
		}
	}
}

func timed(v float32, day int) TimedFrame {
	return TimedFrame{
		Frame:      Frame{Size: 1, Pix: []float32{v, v, v}},
		CapturedAt: time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuild_TrueTemporal(t *testing.T) {
	b := Builder{Timesteps: 3, Policy: TrueTemporal}

	// unordered, one more than needed: the earliest is dropped
	seq, err := b.Build("plot-7", []TimedFrame{timed(0.4, 4), timed(0.1, 1), timed(0.3, 3), timed(0.2, 2)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if seq.Degenerate() {
		t.Fatalf("sequence with enough captures should not be degenerate")
	}
	for i, want := range []float32{0.2, 0.3, 0.4} {
		if seq.Frames[i].Pix[0] != want {
			t.Fatalf("frame %d: got %v want %v", i, seq.Frames[i].Pix[0], want)
		}
	}

	seq, err = b.Build("plot-8", []TimedFrame{timed(0.9, 9), timed(0.5, 5)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !seq.Degenerate() {
		t.Fatalf("padded sequence must be flagged degenerate")
	}
	for i, want := range []float32{0.5, 0.5, 0.9} {
		if seq.Frames[i].Pix[0] != want {
			t.Fatalf("padded frame %d: got %v want %v", i, seq.Frames[i].Pix[0], want)
		}
	}

	seq, err = b.Build("plot-9", []TimedFrame{timed(0.7, 1)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !seq.Degenerate() || seq.Len() != 3 {
		t.Fatalf("single capture must fall back to replication")
	}

	if _, err := b.Build("empty", nil); err == nil {
		t.Fatalf("expected error for a unit without frames")
	}
}

func TestBuild_ReplicatedUsesLatest(t *testing.T) {
	b := Builder{Timesteps: 2, Policy: Replicated}
	seq, err := b.Build("plot-1", []TimedFrame{timed(0.8, 8), timed(0.2, 2)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if seq.Frames[0].Pix[0] != 0.8 || seq.Frames[1].Pix[0] != 0.8 || !seq.Degenerate() {
		t.Fatalf("expected the latest capture replicated, got %+v", seq)
	}
}

func TestParse(t *testing.T) {
	if p, err := ParsePolicy("true_temporal"); err != nil || p != TrueTemporal {
		t.Fatalf("ParsePolicy: %v %v", p, err)
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
	if o, err := ParseChannelOrder("bgr"); err != nil || o != BGR {
		t.Fatalf("ParseChannelOrder: %v %v", o, err)
	}
}
