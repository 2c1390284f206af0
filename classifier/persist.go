package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/labels"
)

// Files of a model artifact directory.
const (
	ManifestFile  = "manifest.json"
	CodecFile     = "labels.json"
	CheckpointDir = "checkpoint"
)

// VersionMismatchError is returned when a label codec was not saved together
// with the model weights it is paired with.
type VersionMismatchError struct {
	ModelVersion, CodecVersion string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("label codec version %q does not match model version %q", e.CodecVersion, e.ModelVersion)
}

// Manifest describes a persisted model.
type Manifest struct {
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
	Config       Config    `json:"config"`
}

// Save writes the model to dir: manifest, label codec and gomlx checkpoint.
// Everything is first written to a temporary sibling directory and renamed
// into place, so a failed save leaves no partial artifact. A previous
// artifact at dir is replaced.
//
// On success a fresh version id is assigned to both the model and codec.
func (m *Model) Save(dir string, codec *labels.Codec) error {
	if codec == nil || codec.Len() != m.Config.NumClasses {
		return errors.Errorf("label codec must hold exactly %d classes", m.Config.NumClasses)
	}
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", parent)
	}
	tmpDir, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "creating temporary model directory")
	}
	defer os.RemoveAll(tmpDir)

	version := uuid.NewString()
	handler, err := checkpoints.Build(m.ctx).Dir(filepath.Join(tmpDir, CheckpointDir)).Keep(1).Done()
	if err != nil {
		return errors.WithMessage(err, "creating checkpoint handler")
	}
	if err := handler.Save(); err != nil {
		return errors.WithMessage(err, "saving model weights")
	}

	versioned := *codec
	versioned.ModelVersion = version
	if err := versioned.Save(filepath.Join(tmpDir, CodecFile)); err != nil {
		return err
	}

	cfg := m.Config
	cfg.ExtractorDir = ""
	manifest := Manifest{ModelVersion: version, CreatedAt: time.Now().UTC(), Config: cfg}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ManifestFile), data, 0644); err != nil {
		return errors.Wrap(err, "writing manifest")
	}

	if err := replaceDir(tmpDir, dir); err != nil {
		return err
	}
	m.Version = version
	codec.ModelVersion = version
	klog.Infof("saved model %s to %q (%s)", version, dir, humanize.Bytes(dirSize(dir)))
	return nil
}

// replaceDir moves src to dst, swapping out an existing dst.
func replaceDir(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		old := dst + ".old"
		_ = os.RemoveAll(old)
		if err := os.Rename(dst, old); err != nil {
			return errors.Wrapf(err, "moving previous model %q aside", dst)
		}
		if err := os.Rename(src, dst); err != nil {
			_ = os.Rename(old, dst)
			return errors.Wrapf(err, "moving model into %q", dst)
		}
		return errors.Wrap(os.RemoveAll(old), "removing previous model")
	}
	return errors.Wrapf(os.Rename(src, dst), "moving model into %q", dst)
}

func dirSize(dir string) uint64 {
	var total uint64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

// ReadManifest reads the manifest of a model artifact directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, errors.Wrapf(err, "reading model manifest in %q", dir)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, errors.Wrapf(err, "parsing model manifest in %q", dir)
	}
	return manifest, nil
}

// Load restores a model saved with Save. The codec is read from codecPath,
// or from the artifact directory when codecPath is empty, and must carry the
// same version as the weights.
func Load(backend backends.Backend, dir, codecPath string) (*Model, *labels.Codec, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	if codecPath == "" {
		codecPath = filepath.Join(dir, CodecFile)
	}
	codec, err := labels.Load(codecPath)
	if err != nil {
		return nil, nil, err
	}
	if codec.ModelVersion != manifest.ModelVersion {
		return nil, nil, &VersionMismatchError{ModelVersion: manifest.ModelVersion, CodecVersion: codec.ModelVersion}
	}
	if codec.Len() != manifest.Config.NumClasses {
		return nil, nil, errors.Errorf("label codec has %d classes, model was trained with %d", codec.Len(), manifest.Config.NumClasses)
	}

	m, err := New(backend, manifest.Config)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "invalid configuration in %q", dir)
	}
	_, err = checkpoints.Load(m.ctx).Dir(filepath.Join(dir, CheckpointDir)).Immediate().Done()
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading model weights from %q", dir)
	}
	m.Version = manifest.ModelVersion
	klog.V(1).Infof("loaded model %s from %q: %d classes, T=%d, S=%d",
		m.Version, dir, m.Config.NumClasses, m.Config.Timesteps, m.Config.ImageSize)
	return m, codec, nil
}
