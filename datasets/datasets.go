// Package datasets turns the training metadata table and its images into
// labelled frame sequences for the classifier.
//
// Layout and intended usage:
//
//   - LoadMetadata reads the CSV table (id, label, optional plot_id and
//     captured_at). Unlabelled rows are dropped.
//   - Assemble resolves every image, failing fast on the first missing one,
//     then decodes, normalizes and groups the frames into sequences.
//   - SequenceDataset.Split makes the stratified train/validation split.
//
// SequenceDataset implements classifier.Dataset.
package datasets

import (
	"github.com/pkg/errors"
)

// SequenceDataset holds assembled sequences, flattened as (T, S, S, 3), with
// their class ids.
type SequenceDataset struct {
	// Units names the plot or image each sequence was built from.
	Units []string

	// Degenerate counts sequences that repeat frames.
	Degenerate int

	seqs [][]float32
	ids  []int
}

// Len returns the number of sequences.
func (d *SequenceDataset) Len() int {
	return len(d.seqs)
}

// Example returns one sequence and its class id.
func (d *SequenceDataset) Example(idx int) ([]float32, int, error) {
	if idx < 0 || idx >= len(d.seqs) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", idx, len(d.seqs))
	}
	return d.seqs[idx], d.ids[idx], nil
}

// Batch returns the sequences and class ids at indices.
func (d *SequenceDataset) Batch(indices []int) ([][]float32, []int, error) {
	seqs := make([][]float32, len(indices))
	ids := make([]int, len(indices))
	for i, idx := range indices {
		seq, id, err := d.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		seqs[i] = seq
		ids[i] = id
	}
	return seqs, ids, nil
}

// Labels returns the class id of every sequence.
func (d *SequenceDataset) Labels() []int {
	out := make([]int, len(d.ids))
	copy(out, d.ids)
	return out
}

// Subset returns a dataset sharing the sequences at indices.
func (d *SequenceDataset) Subset(indices []int) *SequenceDataset {
	sub := &SequenceDataset{
		Units: make([]string, len(indices)),
		seqs:  make([][]float32, len(indices)),
		ids:   make([]int, len(indices)),
	}
	for i, idx := range indices {
		sub.Units[i] = d.Units[idx]
		sub.seqs[i] = d.seqs[idx]
		sub.ids[i] = d.ids[idx]
	}
	return sub
}

func (d *SequenceDataset) add(unit string, seq []float32, id int) {
	d.Units = append(d.Units, unit)
	d.seqs = append(d.seqs, seq)
	d.ids = append(d.ids, id)
}
