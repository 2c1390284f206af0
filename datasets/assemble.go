package datasets

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/frames"
	"github.com/Noofbiz/cropHealth/labels"
)

// MissingSampleError is returned when a metadata row references an image that
// does not exist.
type MissingSampleError struct {
	ID   string
	Path string
}

func (e *MissingSampleError) Error() string {
	return fmt.Sprintf("missing image for sample %q (looked for %s)", e.ID, e.Path)
}

// AssembleOptions configures Assemble.
type AssembleOptions struct {
	// ImageDir holds one image per metadata id.
	ImageDir string

	// Extensions tried for ids without one. Defaults to ImageExtensions.
	Extensions []string

	Normalizer frames.Normalizer
	Builder    frames.Builder

	// Workers decoding images concurrently. Defaults to the number of CPUs.
	Workers int
}

// Assemble builds the labelled sequences described by meta.
//
// All image paths are resolved before anything is decoded, so a missing file
// fails the run immediately. With the TrueTemporal policy records sharing a
// plot id form one sequence labelled by its most recent capture; otherwise
// every record is replicated into its own sequence.
func Assemble(meta *Metadata, codec *labels.Codec, opts AssembleOptions) (*SequenceDataset, error) {
	if len(meta.Records) == 0 {
		return nil, errors.New("metadata has no labelled records")
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = ImageExtensions
	}
	paths := make([]string, len(meta.Records))
	for i, rec := range meta.Records {
		path, ok := resolveImage(opts.ImageDir, rec.ID, exts)
		if !ok {
			return nil, &MissingSampleError{ID: rec.ID, Path: path}
		}
		paths[i] = path
	}

	// decode and normalize every image
	decoded := make([]frames.Frame, len(meta.Records))
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i := range meta.Records {
		eg.Go(func() error {
			img, err := imaging.Open(paths[i])
			if err != nil {
				return errors.Wrapf(err, "decoding image for sample %q", meta.Records[i].ID)
			}
			f, err := opts.Normalizer.NormalizeImage(img)
			if err != nil {
				return errors.WithMessagef(err, "normalizing sample %q", meta.Records[i].ID)
			}
			decoded[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ds := &SequenceDataset{}
	for _, group := range groupUnits(meta.Records, opts.Builder.Policy) {
		captures := make([]frames.TimedFrame, len(group.members))
		for j, idx := range group.members {
			captures[j] = frames.TimedFrame{Frame: decoded[idx], CapturedAt: meta.Records[idx].CapturedAt}
		}
		seq, err := opts.Builder.Build(group.unit, captures)
		if err != nil {
			return nil, err
		}
		latest := meta.Records[group.members[len(group.members)-1]]
		id, err := codec.ID(latest.Label)
		if err != nil {
			return nil, errors.WithMessagef(err, "unit %q", group.unit)
		}
		for _, idx := range group.members {
			if l := meta.Records[idx].Label; l != latest.Label {
				klog.Warningf("unit %q: capture %q is labelled %q, using the latest label %q",
					group.unit, meta.Records[idx].ID, l, latest.Label)
			}
		}
		if seq.Degenerate() {
			ds.Degenerate++
		}
		ds.add(group.unit, seq.Flat(), id)
	}
	klog.Infof("assembled %d sequences from %d images (%d degenerate, policy %s)",
		ds.Len(), len(meta.Records), ds.Degenerate, opts.Builder.Policy)
	return ds, nil
}

type unitGroup struct {
	unit    string
	members []int // record indices, oldest capture first
}

// groupUnits groups record indices per sequence, in order of first
// appearance.
func groupUnits(records []Record, policy frames.Policy) []unitGroup {
	if policy != frames.TrueTemporal {
		groups := make([]unitGroup, len(records))
		for i, rec := range records {
			groups[i] = unitGroup{unit: rec.ID, members: []int{i}}
		}
		return groups
	}
	var groups []unitGroup
	pos := make(map[string]int)
	for i, rec := range records {
		key := rec.Unit()
		g, ok := pos[key]
		if !ok {
			g = len(groups)
			pos[key] = g
			groups = append(groups, unitGroup{unit: key})
		}
		groups[g].members = append(groups[g].members, i)
	}
	for _, g := range groups {
		sort.SliceStable(g.members, func(a, b int) bool {
			return records[g.members[a]].CapturedAt.Before(records[g.members[b]].CapturedAt)
		})
	}
	return groups
}
