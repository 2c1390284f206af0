package report

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// palette colors classes by id, cycling when there are more classes.
var palette = []color.RGBA{
	{R: 200, G: 30, B: 30, A: 230},
	{R: 40, G: 160, B: 60, A: 230},
	{R: 230, G: 160, B: 20, A: 230},
	{R: 20, G: 80, B: 200, A: 230},
	{R: 140, G: 60, B: 170, A: 230},
	{R: 120, G: 120, B: 120, A: 230},
}

// PlotMap renders the tile grid as a PNG scatter, one square per tile at its
// center, colored by label. classNames fixes the legend order and colors.
// The y axis is flipped so the map reads like the raster.
func PlotMap(path string, records []Record, classNames []string, patchSize int) error {
	p := plot.New()
	p.Title.Text = "Crop health by tile"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "-y (px)"

	byLabel := make(map[string]plotter.XYs)
	for _, r := range records {
		half := float64(patchSize) / 2
		byLabel[r.Label] = append(byLabel[r.Label], plotter.XY{X: float64(r.XMin) + half, Y: -(float64(r.YMin) + half)})
	}
	for i, name := range classNames {
		xys := byLabel[name]
		if len(xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = palette[i%len(palette)]
		sc.GlyphStyle.Shape = draw.BoxGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(name, sc)
	}
	p.Add(plotter.NewGrid())

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating %q", dir)
		}
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 8*vg.Inch, path), "saving map %q", path)
}
