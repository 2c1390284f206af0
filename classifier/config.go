package classifier

import (
	"slices"

	"github.com/pkg/errors"
)

var (
	// ValidExtractors lists the per-frame feature extractors.
	ValidExtractors = []string{"inception", "cnn"}
	// ValidRecurrent lists the temporal aggregators.
	ValidRecurrent = []string{"gru", "lstm"}
	// ValidOptimizers lists the supported optimizers.
	ValidOptimizers = []string{"adam", "adamw", "sgd"}
)

// Config holds the architecture and training hyperparameters. It is stored in
// the model manifest, so a loaded model rebuilds exactly the same graph.
type Config struct {
	// Timesteps is the sequence length T. Default 3.
	Timesteps int `json:"timesteps"`

	// ImageSize is the frame side S. Default 224, the InceptionV3 input size.
	ImageSize int `json:"image_size"`

	// NumClasses is K, taken from the label codec.
	NumClasses int `json:"num_classes"`

	// Extractor selects the per-frame feature extractor: "inception" (pretrained
	// InceptionV3) or "cnn" (a small convolutional stack trained from scratch).
	Extractor string `json:"extractor"`

	// ExtractorDir is where the InceptionV3 weights are downloaded to. Only
	// read while building a model for training.
	ExtractorDir string `json:"extractor_dir,omitempty"`

	// FineTuneExtractor makes the extractor weights trainable. By default the
	// extractor is frozen.
	FineTuneExtractor bool `json:"fine_tune_extractor"`

	// CNNChannels are the output channels of each strided 3x3 convolution of the
	// "cnn" extractor. Default {16, 32, 64}.
	CNNChannels []int `json:"cnn_channels,omitempty"`

	// Recurrent selects the temporal aggregator: "gru" or "lstm".
	Recurrent string `json:"recurrent"`

	// RecurrentSize is the hidden state size of the aggregator. Default 256.
	RecurrentSize int `json:"recurrent_size"`

	// HiddenSize is the width of the ReLU dense layer of the head. Default 128.
	HiddenSize int `json:"hidden_size"`

	// Optimizer is one of ValidOptimizers. Default "adam".
	Optimizer string `json:"optimizer"`

	// LearningRate of the optimizer. Default 1e-3.
	LearningRate float64 `json:"learning_rate"`

	// Epochs over the training set. Default 20.
	Epochs int `json:"epochs"`

	// BatchSize for training and prediction. Default 4.
	BatchSize int `json:"batch_size"`

	// Seed for variable initialization and shuffling. Default 42.
	Seed int64 `json:"seed"`
}

// WithDefaults returns a copy of cfg with zero fields set to their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.Timesteps == 0 {
		cfg.Timesteps = 3
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 224
	}
	if cfg.Extractor == "" {
		cfg.Extractor = "inception"
	}
	if len(cfg.CNNChannels) == 0 {
		cfg.CNNChannels = []int{16, 32, 64}
	}
	if cfg.Recurrent == "" {
		cfg.Recurrent = "gru"
	}
	if cfg.RecurrentSize == 0 {
		cfg.RecurrentSize = 256
	}
	if cfg.HiddenSize == 0 {
		cfg.HiddenSize = 128
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adam"
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 20
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 4
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return cfg
}

// Validate checks the configuration after defaults were applied.
func (cfg Config) Validate() error {
	switch {
	case cfg.Timesteps <= 0:
		return errors.Errorf("timesteps must be positive, got %d", cfg.Timesteps)
	case cfg.ImageSize <= 0:
		return errors.Errorf("image size must be positive, got %d", cfg.ImageSize)
	case cfg.NumClasses <= 0:
		return errors.Errorf("number of classes must be positive, got %d", cfg.NumClasses)
	case cfg.RecurrentSize <= 0 || cfg.HiddenSize <= 0:
		return errors.Errorf("recurrent (%d) and hidden (%d) sizes must be positive", cfg.RecurrentSize, cfg.HiddenSize)
	case cfg.BatchSize <= 0 || cfg.Epochs < 0:
		return errors.Errorf("invalid batch size %d or epochs %d", cfg.BatchSize, cfg.Epochs)
	}
	if !slices.Contains(ValidExtractors, cfg.Extractor) {
		return errors.Errorf("extractor must be one of %v, got %q", ValidExtractors, cfg.Extractor)
	}
	if !slices.Contains(ValidRecurrent, cfg.Recurrent) {
		return errors.Errorf("recurrent must be one of %v, got %q", ValidRecurrent, cfg.Recurrent)
	}
	if !slices.Contains(ValidOptimizers, cfg.Optimizer) {
		return errors.Errorf("optimizer must be one of %v, got %q", ValidOptimizers, cfg.Optimizer)
	}
	for _, ch := range cfg.CNNChannels {
		if ch <= 0 {
			return errors.Errorf("invalid cnn channels %v", cfg.CNNChannels)
		}
	}
	return nil
}

// InputDims is the expected (T, S, S, 3) shape of one sequence.
func (cfg Config) InputDims() []int {
	return []int{cfg.Timesteps, cfg.ImageSize, cfg.ImageSize, 3}
}

// SequenceLen is the number of float32 values of one flattened sequence.
func (cfg Config) SequenceLen() int {
	return cfg.Timesteps * cfg.ImageSize * cfg.ImageSize * 3
}
