// Package pipeline wires the packages into the two end-to-end drivers:
// Train builds a model artifact from a metadata table and its images, and
// Predict classifies every tile of a raster with such an artifact.
package pipeline

import (
	"context"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/classifier"
	"github.com/Noofbiz/cropHealth/config"
	"github.com/Noofbiz/cropHealth/datasets"
	"github.com/Noofbiz/cropHealth/frames"
	"github.com/Noofbiz/cropHealth/labels"
)

// TrainResult summarizes a training run.
type TrainResult struct {
	ModelVersion string
	Codec        *labels.Codec

	// Train and Validation are the split sizes.
	Train, Validation int

	// Evaluation is nil when the validation split is empty.
	Evaluation *classifier.Evaluation
}

// Train fits a classifier on the metadata table and images named in
// cfg.Paths and saves it to cfg.Paths.ModelDir. Nothing is written unless
// every step succeeds.
func Train(ctx context.Context, backend backends.Backend, cfg *config.Config, progress bool) (*TrainResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths := cfg.Paths
	if paths.ImageDir == "" || paths.ModelDir == "" {
		return nil, errors.New("training needs paths.image_dir and paths.model_dir")
	}
	if cfg.Model.Extractor == "inception" && paths.ExtractorDir == "" {
		return nil, errors.WithMessage(classifier.ErrNoExtractorWeights, "set paths.extractor_dir")
	}
	metaPath := paths.Metadata
	if metaPath == "" {
		found, err := datasets.FindMetadataCSV(paths.ImageDir)
		if err != nil {
			return nil, errors.WithMessage(err, "no paths.metadata configured")
		}
		klog.Infof("using metadata table %q", found)
		metaPath = found
	}
	order, _ := frames.ParseChannelOrder(cfg.Model.ChannelOrder)
	policy, _ := frames.ParsePolicy(cfg.Training.SequencePolicy)

	meta, err := datasets.LoadMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	codec, err := labels.Build(meta.Labels())
	if err != nil {
		return nil, errors.WithMessage(err, "building label codec")
	}
	klog.Infof("%d labelled samples (%d unlabelled dropped), classes %v",
		len(meta.Records), meta.Unlabelled, codec.Names())

	ds, err := datasets.Assemble(meta, codec, datasets.AssembleOptions{
		ImageDir:   paths.ImageDir,
		Normalizer: frames.Normalizer{ImageSize: cfg.Model.ImageSize, Order: order},
		Builder:    frames.Builder{Timesteps: cfg.Model.Timesteps, Policy: policy},
		Workers:    cfg.Training.Workers,
	})
	if err != nil {
		return nil, err
	}
	trainSet, validation, err := ds.Split(cfg.Training.ValidationFraction, cfg.Training.Seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := classifier.New(backend, cfg.Classifier(codec.Len()))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := model.Train(trainSet, progress); err != nil {
		return nil, err
	}
	klog.Infof("training completed in %v", time.Since(start).Round(time.Millisecond))
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "training interrupted, model not saved")
	}

	result := &TrainResult{Codec: codec, Train: trainSet.Len(), Validation: validation.Len()}
	if validation.Len() > 0 {
		eval, err := model.Evaluate(validation)
		if err != nil {
			return nil, errors.WithMessage(err, "evaluating on validation split")
		}
		klog.Infof("validation: %s", eval)
		result.Evaluation = eval
	} else {
		klog.Warningf("validation split is empty, skipping evaluation")
	}

	if err := model.Save(paths.ModelDir, codec); err != nil {
		return nil, err
	}
	if paths.Codec != "" {
		if err := codec.Save(paths.Codec); err != nil {
			return nil, errors.WithMessage(err, "writing external label codec")
		}
	}
	result.ModelVersion = model.Version
	return result, nil
}
