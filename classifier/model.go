// Package classifier implements the spatiotemporal crop-health classifier:
// a per-frame convolutional feature extractor, a recurrent layer over the
// frame sequence and a small dense head, built and trained with gomlx.
package classifier

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cropHealth/frames"
)

// ShapeMismatchError is returned when an input sequence does not have the
// (T, S, S, 3) shape the model was built for.
type ShapeMismatchError struct {
	Want, Got []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("input shape mismatch: model expects %v, got %v", e.Want, e.Got)
}

// Prediction is the classification of one sequence.
type Prediction struct {
	ClassID       int
	Confidence    float32
	Probabilities []float32
}

// Model is the classifier with its trained (or loaded) variables. After
// training it is safe for concurrent Predict calls.
type Model struct {
	// Config used to build the graph, defaults applied.
	Config Config

	// Version identifies the persisted weights. Empty until saved or loaded.
	Version string

	backend backends.Backend
	ctx     *context.Context

	muExec      sync.Mutex
	predictExec *context.Exec
}

// New creates an untrained model. Zero fields of cfg take their defaults.
func New(backend backends.Backend, cfg Config) (*Model, error) {
	if backend == nil {
		return nil, errors.New("nil backend")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    cfg.Optimizer,
		optimizers.ParamLearningRate: cfg.LearningRate,
		context.ParamInitialSeed:     cfg.Seed,
	})
	return &Model{Config: cfg, backend: backend, ctx: ctx}, nil
}

// modelFn adapts ModelGraph to gomlx's train.ModelFn.
func (m *Model) modelFn(ctx *context.Context, _ any, inputs []*Node) []*Node {
	return []*Node{ModelGraph(ctx, m.Config, inputs[0])}
}

// CheckSequence verifies seq matches the model input shape.
func (m *Model) CheckSequence(seq frames.Sequence) error {
	size := 0
	if seq.Len() > 0 {
		size = seq.Frames[0].Size
	}
	if seq.Len() != m.Config.Timesteps || size != m.Config.ImageSize {
		return &ShapeMismatchError{
			Want: m.Config.InputDims(),
			Got:  []int{seq.Len(), size, size, 3},
		}
	}
	for _, f := range seq.Frames {
		if f.Size != size || len(f.Pix) != size*size*3 {
			return &ShapeMismatchError{Want: m.Config.InputDims(), Got: []int{seq.Len(), f.Size, f.Size, 3}}
		}
	}
	return nil
}

// Predict classifies a batch of sequences.
func (m *Model) Predict(seqs []frames.Sequence) ([]Prediction, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	flat := make([]float32, 0, len(seqs)*m.Config.SequenceLen())
	for _, seq := range seqs {
		if err := m.CheckSequence(seq); err != nil {
			return nil, err
		}
		flat = append(flat, seq.Flat()...)
	}
	probs, err := m.probabilities(flat, len(seqs))
	if err != nil {
		return nil, err
	}
	preds := make([]Prediction, len(probs))
	for i, p := range probs {
		id := BestClass(p)
		preds[i] = Prediction{ClassID: id, Confidence: p[id], Probabilities: p}
	}
	return preds, nil
}

// probabilities runs the softmax head over n flattened sequences.
func (m *Model) probabilities(flat []float32, n int) (probs [][]float32, err error) {
	exec, err := m.predictor()
	if err != nil {
		return nil, err
	}
	dims := append([]int{n}, m.Config.InputDims()...)
	input := tensors.FromFlatDataAndDimensions(flat, dims...)
	var output *tensors.Tensor
	if panicErr := exceptions.TryCatch[error](func() {
		output, err = exec.Exec1(input)
	}); panicErr != nil {
		return nil, errors.Wrap(panicErr, "running classifier")
	}
	if err != nil {
		return nil, errors.Wrap(err, "running classifier")
	}
	value, ok := output.Value().([][]float32)
	if !ok {
		return nil, errors.Errorf("unexpected classifier output shape %s", output.Shape())
	}
	return value, nil
}

func (m *Model) predictor() (*context.Exec, error) {
	m.muExec.Lock()
	defer m.muExec.Unlock()
	if m.predictExec != nil {
		return m.predictExec, nil
	}
	ctx := m.ctx.In("model")
	if m.ctx.NumVariables() > 0 {
		ctx = ctx.Reuse()
	}
	exec, err := context.NewExec(m.backend, ctx, func(ctx *context.Context, seqs *Node) *Node {
		return Softmax(ModelGraph(ctx, m.Config, seqs))
	})
	if err != nil {
		return nil, errors.Wrap(err, "building classifier executor")
	}
	m.predictExec = exec
	return exec, nil
}

// resetPredictor drops the compiled executor, after the variables changed
// scope state (training, loading).
func (m *Model) resetPredictor() {
	m.muExec.Lock()
	defer m.muExec.Unlock()
	m.predictExec = nil
}

// BestClass returns the index of the largest probability. Ties resolve to
// the lowest index.
func BestClass(probs []float32) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
