package datasets

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Metadata column names.
const (
	IDCol         = "id"
	LabelCol      = "label"
	PlotIDCol     = "plot_id"
	CapturedAtCol = "captured_at"
)

// nullValues are read as missing.
var nullValues = []string{"", "NA", "NaN", "null", "NULL", "None", "<nil>"}

// timeLayouts accepted in the captured_at column.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// Record is one labelled training image.
type Record struct {
	ID    string
	Label string

	// PlotID groups captures of the same field plot. Empty when the table has
	// no plot_id column, in which case each image is its own unit.
	PlotID string

	// CapturedAt is zero when the table has no captured_at column.
	CapturedAt time.Time
}

// Unit is the key sequences are grouped by.
func (r Record) Unit() string {
	if r.PlotID != "" {
		return r.PlotID
	}
	return r.ID
}

// Metadata is the training table with unlabelled rows removed.
type Metadata struct {
	Records []Record

	// Unlabelled counts the rows dropped for a missing label.
	Unlabelled int
}

// LoadMetadata reads the metadata CSV at path.
func LoadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metadata %q", path)
	}
	defer f.Close()
	meta, err := ReadMetadata(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "metadata %q", path)
	}
	return meta, nil
}

// ReadMetadata parses a metadata table with columns id and label, and
// optionally plot_id and captured_at. Rows without a label are dropped.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nullValues))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "parsing metadata csv")
	}
	columns := make(map[string]bool)
	for _, name := range df.Names() {
		columns[name] = true
	}
	for _, required := range []string{IDCol, LabelCol} {
		if !columns[required] {
			return nil, errors.Errorf("required column %q not found, columns are %v", required, df.Names())
		}
	}

	ids, idNull := column(df, IDCol)
	labels, labelNull := column(df, LabelCol)
	var plots, captured []string
	var plotNull, capturedNull []bool
	if columns[PlotIDCol] {
		plots, plotNull = column(df, PlotIDCol)
	}
	if columns[CapturedAtCol] {
		captured, capturedNull = column(df, CapturedAtCol)
	}

	meta := &Metadata{}
	for i := range df.Nrow() {
		if idNull[i] {
			return nil, errors.Errorf("row %d has no id", i+1)
		}
		if labelNull[i] {
			meta.Unlabelled++
			continue
		}
		rec := Record{ID: ids[i], Label: labels[i]}
		if plots != nil && !plotNull[i] {
			rec.PlotID = plots[i]
		}
		if captured != nil && !capturedNull[i] {
			t, err := parseTime(captured[i])
			if err != nil {
				return nil, errors.WithMessagef(err, "row %d (id %q)", i+1, rec.ID)
			}
			rec.CapturedAt = t
		}
		meta.Records = append(meta.Records, rec)
	}
	if meta.Unlabelled > 0 {
		klog.Infof("metadata: dropped %d unlabelled rows, %d remain", meta.Unlabelled, len(meta.Records))
	}
	return meta, nil
}

func column(df dataframe.DataFrame, name string) (values []string, null []bool) {
	col := df.Col(name)
	values = col.Records()
	null = col.IsNaN()
	for i, v := range values {
		values[i] = strings.TrimSpace(v)
		if values[i] == "" || values[i] == "NaN" {
			null[i] = true
		}
	}
	return values, null
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("cannot parse capture time %q", s)
}

// Labels returns the label of every record, in table order.
func (m *Metadata) Labels() []string {
	out := make([]string, len(m.Records))
	for i, r := range m.Records {
		out[i] = r.Label
	}
	return out
}
