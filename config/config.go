// Package config holds the JSON configuration shared by the training and
// inference drivers.
//
// A configuration is layered: DefaultJSON first, then an optional JSON file,
// then whatever the CLI overrides. Every input and output path is part of the
// configuration; nothing is resolved relative to the working directory.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/Noofbiz/cropHealth/classifier"
	"github.com/Noofbiz/cropHealth/frames"
)

// DefaultJSON is the default configuration.
const DefaultJSON = `{
  "model": {
    "image_size": 224,
    "timesteps": 3,
    "extractor": "inception",
    "fine_tune_extractor": false,
    "cnn_channels": [16, 32, 64],
    "recurrent": "gru",
    "recurrent_size": 256,
    "hidden_size": 128,
    "channel_order": "rgb"
  },
  "training": {
    "optimizer": "adam",
    "learning_rate": 0.001,
    "epochs": 20,
    "batch_size": 4,
    "validation_fraction": 0.2,
    "seed": 42,
    "sequence_policy": "replicated",
    "workers": 0
  },
  "tiling": {
    "patch_size": 128,
    "stride": 128,
    "batch_size": 16,
    "workers": 0
  },
  "paths": {
    "metadata": "",
    "image_dir": "",
    "model_dir": "",
    "codec": "",
    "extractor_dir": "",
    "raster": "",
    "report": "",
    "sqlite": "",
    "map": ""
  }
}
`

// Config is the effective configuration.
type Config struct {
	Model    Model    `json:"model"`
	Training Training `json:"training"`
	Tiling   Tiling   `json:"tiling"`
	Paths    Paths    `json:"paths"`
}

// Model is the architecture and frame contract.
type Model struct {
	ImageSize         int    `json:"image_size"`
	Timesteps         int    `json:"timesteps"`
	Extractor         string `json:"extractor"`
	FineTuneExtractor bool   `json:"fine_tune_extractor"`
	CNNChannels       []int  `json:"cnn_channels"`
	Recurrent         string `json:"recurrent"`
	RecurrentSize     int    `json:"recurrent_size"`
	HiddenSize        int    `json:"hidden_size"`

	// ChannelOrder of the source images and rasters: "rgb" or "bgr".
	ChannelOrder string `json:"channel_order"`
}

// Training tunes the training driver.
type Training struct {
	Optimizer          string  `json:"optimizer"`
	LearningRate       float64 `json:"learning_rate"`
	Epochs             int     `json:"epochs"`
	BatchSize          int     `json:"batch_size"`
	ValidationFraction float64 `json:"validation_fraction"`
	Seed               int64   `json:"seed"`

	// SequencePolicy is "replicated" or "true_temporal".
	SequencePolicy string `json:"sequence_policy"`

	// Workers decoding sample images. 0 uses every CPU.
	Workers int `json:"workers"`
}

// Tiling tunes the inference tile loop.
type Tiling struct {
	PatchSize int `json:"patch_size"`
	Stride    int `json:"stride"`
	BatchSize int `json:"batch_size"`
	Workers   int `json:"workers"`
}

// Paths are the inputs and outputs of both drivers. Optional outputs are
// skipped when empty.
type Paths struct {
	Metadata     string `json:"metadata"`
	ImageDir     string `json:"image_dir"`
	ModelDir     string `json:"model_dir"`
	Codec        string `json:"codec"`
	ExtractorDir string `json:"extractor_dir"`
	Raster       string `json:"raster"`
	Report       string `json:"report"`
	SQLite       string `json:"sqlite"`
	Map          string `json:"map"`
}

// Default returns the configuration described by DefaultJSON.
func Default() *Config {
	cfg, err := Parse([]byte(DefaultJSON))
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse decodes data on top of the defaults: keys missing from data keep
// their default value. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decodeInto(cfg, []byte(DefaultJSON)); err != nil {
		return nil, errors.Wrap(err, "default configuration")
	}
	if err := decodeInto(cfg, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return errors.Wrap(dec.Decode(cfg), "parsing configuration")
}

// Load reads the JSON file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %q", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return cfg, nil
}

// JSON renders the configuration, indented.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks the values independent of which driver runs.
func (c *Config) Validate() error {
	if _, err := frames.ParseChannelOrder(c.Model.ChannelOrder); err != nil {
		return err
	}
	if _, err := frames.ParsePolicy(c.Training.SequencePolicy); err != nil {
		return err
	}
	if c.Tiling.PatchSize <= 0 || c.Tiling.Stride <= 0 {
		return errors.Errorf("tiling patch size and stride must be positive, got %d and %d",
			c.Tiling.PatchSize, c.Tiling.Stride)
	}
	if c.Training.ValidationFraction < 0 || c.Training.ValidationFraction >= 1 {
		return errors.Errorf("validation fraction must be in [0, 1), got %v", c.Training.ValidationFraction)
	}
	return c.Classifier(1).Validate()
}

// Classifier returns the classifier configuration for numClasses classes.
func (c *Config) Classifier(numClasses int) classifier.Config {
	return classifier.Config{
		Timesteps:         c.Model.Timesteps,
		ImageSize:         c.Model.ImageSize,
		NumClasses:        numClasses,
		Extractor:         c.Model.Extractor,
		ExtractorDir:      c.Paths.ExtractorDir,
		FineTuneExtractor: c.Model.FineTuneExtractor,
		CNNChannels:       c.Model.CNNChannels,
		Recurrent:         c.Model.Recurrent,
		RecurrentSize:     c.Model.RecurrentSize,
		HiddenSize:        c.Model.HiddenSize,
		Optimizer:         c.Training.Optimizer,
		LearningRate:      c.Training.LearningRate,
		Epochs:            c.Training.Epochs,
		BatchSize:         c.Training.BatchSize,
		Seed:              c.Training.Seed,
	}.WithDefaults()
}
