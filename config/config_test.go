package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Model.ImageSize != 224 || cfg.Model.Timesteps != 3 {
		t.Fatalf("unexpected frame defaults: %+v", cfg.Model)
	}
	if cfg.Tiling.PatchSize != 128 || cfg.Tiling.Stride != 128 {
		t.Fatalf("unexpected tiling defaults: %+v", cfg.Tiling)
	}
	if cfg.Training.Epochs != 20 || cfg.Training.BatchSize != 4 || cfg.Training.Seed != 42 {
		t.Fatalf("unexpected training defaults: %+v", cfg.Training)
	}
	if cfg.Training.ValidationFraction != 0.2 || cfg.Training.LearningRate != 0.001 {
		t.Fatalf("unexpected training defaults: %+v", cfg.Training)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	cc := cfg.Classifier(3)
	if cc.NumClasses != 3 || cc.Extractor != "inception" || cc.Recurrent != "gru" || cc.RecurrentSize != 256 {
		t.Fatalf("unexpected classifier config: %+v", cc)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"tiling": {"stride": 64}, "paths": {"raster": "/data/field.tif"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tiling.Stride != 64 {
		t.Fatalf("stride not applied: %d", cfg.Tiling.Stride)
	}
	if cfg.Tiling.PatchSize != 128 {
		t.Fatalf("patch size default lost: %d", cfg.Tiling.PatchSize)
	}
	if cfg.Paths.Raster != "/data/field.tif" {
		t.Fatalf("raster path not applied: %q", cfg.Paths.Raster)
	}
	if cfg.Model.Extractor != "inception" {
		t.Fatalf("model defaults lost: %+v", cfg.Model)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte(`{"tiling": {"patch": 64}}`)); err == nil {
		t.Fatalf("expected error for an unknown key")
	}
	if _, err := Parse([]byte(`{"tiling": `)); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	if err != nil || cfg.Model.ImageSize != 224 {
		t.Fatalf("Load(\"\") = %+v, %v", cfg, err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"model": {"extractor": "cnn", "image_size": 64}}`), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Extractor != "cnn" || cfg.Model.ImageSize != 64 {
		t.Fatalf("file values not applied: %+v", cfg.Model)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"channel order":   func(c *Config) { c.Model.ChannelOrder = "rbg" },
		"sequence policy": func(c *Config) { c.Training.SequencePolicy = "random" },
		"patch size":      func(c *Config) { c.Tiling.PatchSize = 0 },
		"stride":          func(c *Config) { c.Tiling.Stride = -1 },
		"validation":      func(c *Config) { c.Training.ValidationFraction = 1 },
		"extractor":       func(c *Config) { c.Model.Extractor = "vgg" },
		"optimizer":       func(c *Config) { c.Training.Optimizer = "rmsprop" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Paths.ModelDir = "/models/crop"
	data, err := cfg.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(string(data), `"model_dir": "/models/crop"`) {
		t.Fatalf("unexpected JSON:\n%s", data)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.Paths.ModelDir != cfg.Paths.ModelDir {
		t.Fatalf("model dir lost in round trip")
	}
}
