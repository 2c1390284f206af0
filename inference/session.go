// Package inference classifies every tile of a raster with a trained model.
//
// A Session is built once from explicit model and codec paths and can be
// used for any number of rasters. There is no package-level model state.
package inference

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/classifier"
	"github.com/Noofbiz/cropHealth/frames"
	"github.com/Noofbiz/cropHealth/labels"
	"github.com/Noofbiz/cropHealth/raster"
	"github.com/Noofbiz/cropHealth/report"
)

// InputShapeError aborts a run before any prediction is produced: the
// raster cannot be tiled, or the configured frame shape disagrees with the
// model.
type InputShapeError struct {
	Reason string
	Err    error
}

func (e *InputShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input shape: %s: %v", e.Reason, e.Err)
	}
	return "input shape: " + e.Reason
}

func (e *InputShapeError) Unwrap() error { return e.Err }

// TileError reports a failure for a specific tile.
type TileError struct {
	Row, Col int
	Err      error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile (%d, %d): %v", e.Row, e.Col, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }

// Options configures how a Session tiles and normalizes rasters. Zero fields
// take the model's values.
type Options struct {
	PatchSize int
	Stride    int

	// ImageSize and Timesteps must match the model when set.
	ImageSize int
	Timesteps int

	// Order is the channel convention of the rasters.
	Order frames.ChannelOrder

	// BatchSize is the number of tiles classified per model call.
	BatchSize int

	// Workers normalizing tiles of a batch concurrently.
	Workers int

	// Progress shows a progress bar over the tiles.
	Progress bool
}

// Session pairs a loaded model with its label codec.
type Session struct {
	Model *classifier.Model
	Codec *labels.Codec

	opts       Options
	normalizer frames.Normalizer
	builder    frames.Builder

	degenerate atomic.Int64
}

// NewSession loads the model artifact at modelDir and the codec at codecPath
// (the codec inside modelDir when empty).
func NewSession(backend backends.Backend, modelDir, codecPath string, opts Options) (*Session, error) {
	model, codec, err := classifier.Load(backend, modelDir, codecPath)
	if err != nil {
		return nil, err
	}
	return NewSessionFromModel(model, codec, opts)
}

// NewSessionFromModel wraps an already loaded model.
func NewSessionFromModel(model *classifier.Model, codec *labels.Codec, opts Options) (*Session, error) {
	cfg := model.Config
	if opts.ImageSize == 0 {
		opts.ImageSize = cfg.ImageSize
	}
	if opts.Timesteps == 0 {
		opts.Timesteps = cfg.Timesteps
	}
	if opts.ImageSize != cfg.ImageSize || opts.Timesteps != cfg.Timesteps {
		return nil, &InputShapeError{Reason: fmt.Sprintf(
			"configured frames (T=%d, S=%d) do not match the model (T=%d, S=%d)",
			opts.Timesteps, opts.ImageSize, cfg.Timesteps, cfg.ImageSize)}
	}
	if opts.PatchSize <= 0 {
		return nil, errors.Errorf("patch size must be positive, got %d", opts.PatchSize)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if codec.Len() != cfg.NumClasses {
		return nil, errors.Errorf("label codec has %d classes, model outputs %d", codec.Len(), cfg.NumClasses)
	}
	return &Session{
		Model:      model,
		Codec:      codec,
		opts:       opts,
		normalizer: frames.Normalizer{ImageSize: opts.ImageSize, Order: opts.Order},
		builder:    frames.Builder{Timesteps: opts.Timesteps, Policy: frames.Replicated},
	}, nil
}

// Run classifies every tile of r and returns one record per tile in
// row-major order.
//
// Cancellation is checked between batches: when ctx is done the records
// produced so far are returned along with the context error.
func (s *Session) Run(ctx context.Context, r *raster.Raster) ([]report.Record, error) {
	grid, err := raster.Tile(r, raster.TileOptions{PatchSize: s.opts.PatchSize, Stride: s.opts.Stride})
	if err != nil {
		if errors.Is(err, raster.ErrNoTilesProduced) {
			return nil, &InputShapeError{Reason: "raster smaller than a patch", Err: err}
		}
		return nil, err
	}
	klog.Infof("classifying %d tiles (%dx%d grid, patch %d, stride %d)",
		grid.Len(), grid.Rows, grid.Cols, grid.PatchSize, grid.Stride)

	var bar *progressbar.ProgressBar
	if s.opts.Progress {
		bar = progressbar.Default(int64(grid.Len()), "tiles")
		defer bar.Close()
	}

	records := make([]report.Record, 0, grid.Len())
	warned := false
	for start := 0; start < grid.Len(); start += s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			klog.Warningf("inference interrupted after %d of %d tiles", len(records), grid.Len())
			return records, err
		}
		batch := grid.Patches[start:min(start+s.opts.BatchSize, grid.Len())]
		batchRecords, degenerate, err := s.classify(batch)
		if err != nil {
			return records, err
		}
		if degenerate > 0 && !warned {
			klog.Warningf("tile sequences are one frame replicated %d times, the recurrent layer sees no temporal change",
				s.opts.Timesteps)
			warned = true
		}
		records = append(records, batchRecords...)
		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}
	return records, nil
}

// DegenerateSequences counts the tile sequences classified so far, over all
// runs, whose timesteps are copies of a single frame.
func (s *Session) DegenerateSequences() int64 { return s.degenerate.Load() }

// classify normalizes a batch of patches concurrently and classifies them.
// It also returns how many of the sequences were degenerate.
func (s *Session) classify(patches []raster.Patch) ([]report.Record, int, error) {
	seqs := make([]frames.Sequence, len(patches))
	var eg errgroup.Group
	eg.SetLimit(s.opts.Workers)
	for i, p := range patches {
		eg.Go(func() error {
			f, err := s.normalizer.Normalize(p)
			if err != nil {
				return &TileError{Row: p.Row, Col: p.Col, Err: err}
			}
			seqs[i] = s.builder.Replicate(f)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}
	degenerate := 0
	for _, seq := range seqs {
		if seq.Degenerate() {
			degenerate++
		}
	}

	preds, err := s.Model.Predict(seqs)
	if err != nil {
		return nil, 0, err
	}
	records, err := s.decode(patches, preds)
	if err != nil {
		return nil, 0, err
	}
	s.degenerate.Add(int64(degenerate))
	return records, degenerate, nil
}

func (s *Session) decode(patches []raster.Patch, preds []classifier.Prediction) ([]report.Record, error) {
	records := make([]report.Record, len(patches))
	for i, p := range patches {
		name, err := s.Codec.Name(preds[i].ClassID)
		if err != nil {
			return nil, &TileError{Row: p.Row, Col: p.Col, Err: err}
		}
		records[i] = report.Record{
			TileRow:    p.Row,
			TileCol:    p.Col,
			Label:      name,
			XMin:       p.X,
			YMin:       p.Y,
			Confidence: preds[i].Confidence,
		}
	}
	return records, nil
}
