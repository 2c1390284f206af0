// Package report writes per-tile predictions: the CSV report, an optional
// SQLite table and a PNG map of the tile grid.
package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Header is the CSV report header. The column set and order are part of the
// report format.
var Header = []string{"tile_row", "tile_col", "label", "x_min", "y_min"}

// Record is the prediction for one tile.
type Record struct {
	TileRow, TileCol int
	Label            string

	// XMin, YMin is the tile's pixel origin in the raster.
	XMin, YMin int

	// Confidence is the probability of Label. Not part of the CSV report.
	Confidence float32
}

func (r Record) fields() []string {
	return []string{
		strconv.Itoa(r.TileRow),
		strconv.Itoa(r.TileCol),
		r.Label,
		strconv.Itoa(r.XMin),
		strconv.Itoa(r.YMin),
	}
}

// Write encodes records as CSV to w.
func Write(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the CSV report to path atomically: the file is written
// to a temporary sibling and renamed into place.
func WriteFile(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "creating temporary report")
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if err := Write(tmp, records); err != nil {
		return errors.Wrap(err, "writing report")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temporary report")
	}
	return errors.Wrapf(os.Rename(tmpName, path), "renaming report into %q", path)
}

// Read parses a CSV report.
func Read(r io.Reader) ([]Record, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading report")
	}
	if len(rows) == 0 {
		return nil, errors.New("empty report")
	}
	for i, col := range Header {
		if i >= len(rows[0]) || rows[0][i] != col {
			return nil, errors.Errorf("unexpected report header %v, want %v", rows[0], Header)
		}
	}
	records := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		var rec Record
		ints := []*int{&rec.TileRow, &rec.TileCol, nil, &rec.XMin, &rec.YMin}
		for i, dst := range ints {
			if dst == nil {
				continue
			}
			v, err := strconv.Atoi(row[i])
			if err != nil {
				return nil, errors.Wrapf(err, "row %d, column %s", n+1, Header[i])
			}
			*dst = v
		}
		rec.Label = row[2]
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile parses the CSV report at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening report %q", path)
	}
	defer f.Close()
	return Read(f)
}
