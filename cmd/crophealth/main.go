// Command crophealth trains the crop health classifier and classifies the
// tiles of drone orthomosaics.
//
// Usage:
//
//	crophealth train   [flags]   fit a model from a metadata table and images
//	crophealth predict [flags]   write per-tile predictions for a raster
//	crophealth print-config [flags]
//
// Every subcommand reads the optional --config JSON on top of the embedded
// defaults; flags given on the command line take precedence over the file.
// The compute backend is picked by gomlx from GOMLX_BACKEND (XLA when
// available, otherwise the pure Go backend).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/config"
	"github.com/Noofbiz/cropHealth/pipeline"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <train|predict|print-config> [flags]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	klog.InitFlags(fs)

	configPath := fs.String("config", "", "path to a JSON configuration (optional); see print-config for the format")
	progress := fs.Bool("progress", true, "show progress bars")

	// overrides, applied only when given on the command line
	metadata := fs.String("metadata", "", "training metadata CSV (id,label[,plot_id,captured_at]); defaults to the first CSV in -images")
	imageDir := fs.String("images", "", "directory with one image per metadata id")
	modelDir := fs.String("model", "", "model artifact directory")
	codecPath := fs.String("codec", "", "label codec JSON (defaults to the one inside -model)")
	extractorDir := fs.String("extractor-dir", "", "directory for the InceptionV3 weights")
	rasterPath := fs.String("raster", "", "raster to classify (TIFF, PNG or JPEG)")
	reportPath := fs.String("out", "", "CSV report path")
	sqlitePath := fs.String("sqlite", "", "also store predictions in this SQLite database")
	mapPath := fs.String("map", "", "also render a PNG prediction map to this path")

	imageSize := fs.Int("image-size", 0, "frame side S")
	timesteps := fs.Int("timesteps", 0, "sequence length T")
	extractor := fs.String("extractor", "", "feature extractor: inception or cnn")
	fineTune := fs.Bool("fine-tune", false, "train the feature extractor weights too")
	recurrent := fs.String("recurrent", "", "temporal aggregator: gru or lstm")
	channelOrder := fs.String("channel-order", "", "channel order of the inputs: rgb or bgr")
	policy := fs.String("sequence-policy", "", "replicated or true_temporal")

	optimizer := fs.String("optimizer", "", "optimizer: adam, adamw or sgd")
	learningRate := fs.Float64("learning-rate", 0, "learning rate")
	epochs := fs.Int("epochs", 0, "training epochs")
	batchSize := fs.Int("batch-size", 0, "training batch size")
	validation := fs.Float64("validation", 0, "validation fraction")
	seed := fs.Int64("seed", 0, "random seed")

	patchSize := fs.Int("patch", 0, "tile side P in pixels")
	stride := fs.Int("stride", 0, "tile stride S in pixels")
	tileBatch := fs.Int("tile-batch", 0, "tiles classified per model call")
	workers := fs.Int("workers", 0, "normalization workers (0 = NumCPU)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		klog.Fatalf("parsing flags: %v", err)
	}
	defer klog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		klog.Fatalf("%v", err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "metadata":
			cfg.Paths.Metadata = *metadata
		case "images":
			cfg.Paths.ImageDir = *imageDir
		case "model":
			cfg.Paths.ModelDir = *modelDir
		case "codec":
			cfg.Paths.Codec = *codecPath
		case "extractor-dir":
			cfg.Paths.ExtractorDir = *extractorDir
		case "raster":
			cfg.Paths.Raster = *rasterPath
		case "out":
			cfg.Paths.Report = *reportPath
		case "sqlite":
			cfg.Paths.SQLite = *sqlitePath
		case "map":
			cfg.Paths.Map = *mapPath
		case "image-size":
			cfg.Model.ImageSize = *imageSize
		case "timesteps":
			cfg.Model.Timesteps = *timesteps
		case "extractor":
			cfg.Model.Extractor = *extractor
		case "fine-tune":
			cfg.Model.FineTuneExtractor = *fineTune
		case "recurrent":
			cfg.Model.Recurrent = *recurrent
		case "channel-order":
			cfg.Model.ChannelOrder = *channelOrder
		case "sequence-policy":
			cfg.Training.SequencePolicy = *policy
		case "optimizer":
			cfg.Training.Optimizer = *optimizer
		case "learning-rate":
			cfg.Training.LearningRate = *learningRate
		case "epochs":
			cfg.Training.Epochs = *epochs
		case "batch-size":
			cfg.Training.BatchSize = *batchSize
		case "validation":
			cfg.Training.ValidationFraction = *validation
		case "seed":
			cfg.Training.Seed = *seed
		case "patch":
			cfg.Tiling.PatchSize = *patchSize
		case "stride":
			cfg.Tiling.Stride = *stride
		case "tile-batch":
			cfg.Tiling.BatchSize = *tileBatch
		case "workers":
			cfg.Tiling.Workers = *workers
			cfg.Training.Workers = *workers
		}
	})

	if cmd == "print-config" {
		data, err := cfg.JSON()
		if err != nil {
			klog.Fatalf("encoding configuration: %v", err)
		}
		fmt.Println(string(data))
		return
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := backends.MustNew()
	klog.V(1).Infof("backend: %s", backend.Name())
	defer backend.Finalize()

	switch cmd {
	case "train":
		result, err := pipeline.Train(ctx, backend, cfg, *progress)
		if err != nil {
			klog.Fatalf("training failed: %v", err)
		}
		klog.Infof("model %s saved to %q (train=%d, validation=%d)",
			result.ModelVersion, cfg.Paths.ModelDir, result.Train, result.Validation)
	case "predict":
		result, err := pipeline.Predict(ctx, backend, cfg, *progress)
		if err != nil {
			if result != nil && result.Partial {
				klog.Warningf("interrupted: partial report with %d tiles written to %q", len(result.Records), cfg.Paths.Report)
				klog.Flush()
				os.Exit(1)
			}
			klog.Fatalf("prediction failed: %v", err)
		}
		klog.Infof("run %s: %d tiles classified", result.RunID, len(result.Records))
	default:
		usage()
	}
}
