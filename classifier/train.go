package classifier

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/examples/inceptionv3"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Dataset is the minimal interface the trainer needs from a set of labelled
// sequences. It keeps classifier decoupled from the datasets package.
type Dataset interface {
	Len() int
	// Batch returns flattened (T, S, S, 3) sequences and their class ids for
	// the given indices.
	Batch(indices []int) ([][]float32, []int, error)
}

// ErrNoExtractorWeights is returned when training a fresh InceptionV3 model
// without a directory for its pretrained weights.
var ErrNoExtractorWeights = errors.New("the inception extractor needs extractor_dir for its pretrained weights")

// Evaluation summarizes the model on a labelled dataset.
type Evaluation struct {
	Examples int
	Loss     float64
	Accuracy float64

	// Confusion[i][j] counts examples of true class i predicted as class j.
	Confusion *mat.Dense
}

func (e *Evaluation) String() string {
	return fmt.Sprintf("examples=%d loss=%.4f accuracy=%.2f%%\nconfusion (rows: true, cols: predicted):\n%v",
		e.Examples, e.Loss, 100*e.Accuracy, mat.Formatted(e.Confusion, mat.Squeeze()))
}

// Train fits the model on trainSet for Config.Epochs epochs with sparse
// categorical cross-entropy. If progress is set a progress bar is shown.
func (m *Model) Train(trainSet Dataset, progress bool) error {
	if trainSet == nil || trainSet.Len() == 0 {
		return errors.New("empty training set")
	}
	if m.Config.Extractor == "inception" && m.Config.ExtractorDir == "" && m.ctx.NumVariables() == 0 {
		return ErrNoExtractorWeights
	}
	if m.Config.Extractor == "inception" && m.Config.ExtractorDir != "" {
		if err := inceptionv3.DownloadAndUnpackWeights(m.Config.ExtractorDir); err != nil {
			return errors.WithMessagef(err, "fetching InceptionV3 weights into %q", m.Config.ExtractorDir)
		}
	}

	inputs, labels, err := m.tensorsFrom(trainSet)
	if err != nil {
		return err
	}
	ds, err := datasets.InMemoryFromData(m.backend, "train", []any{inputs}, []any{labels})
	if err != nil {
		return errors.Wrap(err, "creating in-memory training dataset")
	}
	ds = ds.BatchSize(min(m.Config.BatchSize, trainSet.Len()), false).
		Shuffle().
		WithRand(rand.New(rand.NewSource(m.Config.Seed)))

	meanAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracy := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	ctx := m.ctx.In("model")
	if m.ctx.NumVariables() > 0 {
		ctx = ctx.Reuse()
	}
	trainer := train.NewTrainer(m.backend, ctx, m.modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracy},
		[]metrics.Interface{meanAccuracy})
	loop := train.NewLoop(trainer)
	if progress {
		commandline.AttachProgressBar(loop)
	}

	klog.Infof("training %s/%s classifier on %d sequences: %d epochs, batch size %d",
		m.Config.Extractor, m.Config.Recurrent, trainSet.Len(), m.Config.Epochs, m.Config.BatchSize)
	var loopErr error
	if panicErr := exceptions.TryCatch[error](func() {
		if m.Config.Epochs > 0 {
			_, loopErr = loop.RunEpochs(ds, m.Config.Epochs)
		}
	}); panicErr != nil {
		return errors.Wrap(panicErr, "training classifier")
	}
	if loopErr != nil {
		return errors.Wrap(loopErr, "training classifier")
	}
	klog.V(1).Infof("training finished at global step %d", optimizers.GetGlobalStep(m.ctx.In("model")))
	m.resetPredictor()
	return nil
}

// Evaluate predicts every example of ds and compares against its labels.
func (m *Model) Evaluate(ds Dataset) (*Evaluation, error) {
	k := m.Config.NumClasses
	eval := &Evaluation{Confusion: mat.NewDense(k, k, nil)}
	n := ds.Len()
	if n == 0 {
		return eval, nil
	}
	correct := 0
	for start := 0; start < n; start += m.Config.BatchSize {
		end := min(start+m.Config.BatchSize, n)
		seqs, ids, err := ds.Batch(indexRange(start, end))
		if err != nil {
			return nil, errors.WithMessagef(err, "reading evaluation batch [%d, %d)", start, end)
		}
		flat, err := m.flatten(seqs)
		if err != nil {
			return nil, err
		}
		probs, err := m.probabilities(flat, len(seqs))
		if err != nil {
			return nil, err
		}
		for i, p := range probs {
			truth := ids[i]
			if truth < 0 || truth >= k {
				return nil, errors.Errorf("label id %d outside [0, %d]", truth, k-1)
			}
			pred := BestClass(p)
			if pred == truth {
				correct++
			}
			eval.Confusion.Set(truth, pred, eval.Confusion.At(truth, pred)+1)
			eval.Loss -= math.Log(math.Max(float64(p[truth]), 1e-12))
		}
	}
	eval.Examples = n
	eval.Loss /= float64(n)
	eval.Accuracy = float64(correct) / float64(n)
	return eval, nil
}

// tensorsFrom reads the whole dataset into an inputs tensor
// [N, T, S, S, 3] and an int32 labels tensor [N, 1].
func (m *Model) tensorsFrom(ds Dataset) (*tensors.Tensor, *tensors.Tensor, error) {
	n := ds.Len()
	seqs, ids, err := ds.Batch(indexRange(0, n))
	if err != nil {
		return nil, nil, errors.WithMessage(err, "reading training set")
	}
	flat, err := m.flatten(seqs)
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int32, n)
	for i, id := range ids {
		if id < 0 || id >= m.Config.NumClasses {
			return nil, nil, errors.Errorf("label id %d outside [0, %d]", id, m.Config.NumClasses-1)
		}
		labels[i] = int32(id)
	}
	dims := append([]int{n}, m.Config.InputDims()...)
	return tensors.FromFlatDataAndDimensions(flat, dims...), tensors.FromFlatDataAndDimensions(labels, n, 1), nil
}

func (m *Model) flatten(seqs [][]float32) ([]float32, error) {
	want := m.Config.SequenceLen()
	flat := make([]float32, 0, len(seqs)*want)
	for _, s := range seqs {
		if len(s) != want {
			return nil, &ShapeMismatchError{Want: m.Config.InputDims(), Got: []int{len(s)}}
		}
		flat = append(flat, s...)
	}
	return flat, nil
}

func indexRange(start, end int) []int {
	idx := make([]int, end-start)
	for i := range idx {
		idx[i] = start + i
	}
	return idx
}
