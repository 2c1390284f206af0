package pipeline

import (
	"context"

	"github.com/gomlx/gomlx/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/config"
	"github.com/Noofbiz/cropHealth/frames"
	"github.com/Noofbiz/cropHealth/inference"
	"github.com/Noofbiz/cropHealth/raster"
	"github.com/Noofbiz/cropHealth/report"
)

// PredictResult summarizes an inference run.
type PredictResult struct {
	RunID        string
	ModelVersion string
	Records      []report.Record

	// Partial is set when the run was interrupted and Records covers only
	// the tiles classified before that.
	Partial bool
}

// Predict classifies every tile of cfg.Paths.Raster and writes the CSV
// report, plus the SQLite table and map when configured.
//
// If ctx is cancelled mid-run the tiles classified so far are still written
// and the context error is returned along with the partial result.
func Predict(ctx context.Context, backend backends.Backend, cfg *config.Config, progress bool) (*PredictResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths := cfg.Paths
	if paths.ModelDir == "" || paths.Raster == "" || paths.Report == "" {
		return nil, errors.New("prediction needs paths.model_dir, paths.raster and paths.report")
	}
	order, _ := frames.ParseChannelOrder(cfg.Model.ChannelOrder)

	session, err := inference.NewSession(backend, paths.ModelDir, paths.Codec, inference.Options{
		PatchSize: cfg.Tiling.PatchSize,
		Stride:    cfg.Tiling.Stride,
		ImageSize: cfg.Model.ImageSize,
		Timesteps: cfg.Model.Timesteps,
		Order:     order,
		BatchSize: cfg.Tiling.BatchSize,
		Workers:   cfg.Tiling.Workers,
		Progress:  progress,
	})
	if err != nil {
		return nil, err
	}
	r, err := raster.Load(paths.Raster)
	if err != nil {
		return nil, err
	}

	records, runErr := session.Run(ctx, r)
	result := &PredictResult{
		RunID:        uuid.NewString(),
		ModelVersion: session.Model.Version,
		Records:      records,
	}
	if runErr != nil {
		if ctx.Err() == nil || !errors.Is(runErr, ctx.Err()) {
			return nil, runErr
		}
		result.Partial = true
		klog.Warningf("writing partial report with %d tiles", len(records))
	}

	if err := report.WriteFile(paths.Report, records); err != nil {
		return nil, err
	}
	klog.Infof("wrote %d predictions to %q", len(records), paths.Report)

	if paths.SQLite != "" {
		if err := storeRecords(paths.SQLite, result, paths.Raster); err != nil {
			return nil, err
		}
	}
	if paths.Map != "" {
		if err := report.PlotMap(paths.Map, records, session.Codec.Names(), cfg.Tiling.PatchSize); err != nil {
			return nil, err
		}
		klog.Infof("wrote prediction map to %q", paths.Map)
	}
	return result, runErr
}

func storeRecords(dbPath string, result *PredictResult, rasterPath string) error {
	store, err := report.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	run := report.Run{ID: result.RunID, ModelVersion: result.ModelVersion, Raster: rasterPath}
	// the run is stored even when ctx was cancelled
	if err := store.Insert(context.Background(), run, result.Records); err != nil {
		return err
	}
	klog.Infof("stored run %s in %q", result.RunID, dbPath)
	return nil
}
