package classifier

import (
	"github.com/gomlx/gomlx/examples/inceptionv3"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	timages "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
)

// ModelGraph builds the classifier logits, shaped [batch, NumClasses], from
// sequences shaped [batch, Timesteps, ImageSize, ImageSize, 3] with values in
// [0,1].
//
// Each frame goes through the same extractor independently, folding the time
// axis into the batch axis. Spatial features are averaged, the recurrent
// layer reads the timesteps in order and only its final state reaches the
// head.
func ModelGraph(ctx *context.Context, cfg Config, seqs *Node) *Node {
	seqs.AssertDims(-1, cfg.Timesteps, cfg.ImageSize, cfg.ImageSize, 3)
	batchSize := seqs.Shape().Dim(0)
	timesteps := cfg.Timesteps

	frames := Reshape(seqs, batchSize*timesteps, cfg.ImageSize, cfg.ImageSize, 3)
	extractorCtx := ctx.In("extractor")
	features := globalAveragePool(extractFeatures(extractorCtx, cfg, frames))
	if !cfg.FineTuneExtractor {
		features = StopGradient(features)
		extractorCtx.EnumerateVariablesInScope(func(v *context.Variable) {
			v.Trainable = false
		})
	}
	numFeatures := features.Shape().Dim(features.Rank() - 1)
	features = Reshape(features, batchSize, timesteps, numFeatures)

	var state *Node
	switch cfg.Recurrent {
	case "lstm":
		_, last, _ := lstm.New(ctx.In("lstm"), features, cfg.RecurrentSize).Done()
		state = Reshape(last, batchSize, cfg.RecurrentSize)
	default:
		state = gru(ctx.In("gru"), features, cfg.RecurrentSize, nil)
	}

	hidden := activations.Relu(layers.Dense(ctx.In("hidden"), state, true, cfg.HiddenSize))
	return layers.Dense(ctx.In("logits"), hidden, true, cfg.NumClasses)
}

func extractFeatures(ctx *context.Context, cfg Config, frames *Node) *Node {
	if cfg.Extractor == "inception" {
		// Without a weights directory the model is being rebuilt from a
		// checkpoint, which already holds the extractor variables. Freezing
		// is then left to ModelGraph.
		trainable := cfg.FineTuneExtractor || cfg.ExtractorDir == ""
		images := inceptionv3.PreprocessImage(frames, 1.0, timages.ChannelsLast)
		return inceptionv3.BuildGraph(ctx, images).
			PreTrained(cfg.ExtractorDir).
			SetPooling(inceptionv3.MeanPooling).
			ClassificationTop(false).
			Trainable(trainable).
			Done()
	}
	x := frames
	for i, channels := range cfg.CNNChannels {
		x = layers.Convolution(ctx.Inf("conv_%d", i), x).
			Channels(channels).
			KernelSize(3).
			Strides(2).
			PadSame().
			Done()
		x = activations.Relu(x)
	}
	return x
}

// globalAveragePool reduces [N, H, W, C] feature maps to [N, C]. Already
// pooled features pass through.
func globalAveragePool(x *Node) *Node {
	if x.Rank() == 4 {
		return ReduceMean(x, 1, 2)
	}
	return x
}

var gruGates = [3]string{"update", "reset", "candidate"}

// gru runs a gated recurrent unit over x [batch, steps, features] and returns
// the last hidden state [batch, hiddenSize]. Gates follow the Keras
// reset-after layout. initial is the state before step 0, zeros if nil.
//
// Timesteps are picked with a one-hot mask instead of slicing, so the
// gradient only uses ops every backend implements.
func gru(ctx *context.Context, x *Node, hiddenSize int, initial *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	batchSize := x.Shape().Dim(0)
	steps := x.Shape().Dim(1)
	featuresSize := x.Shape().Dim(2)

	var projected, recurrentW, recurrentB [3]*Node
	for i, gate := range gruGates {
		gateCtx := ctx.In(gate)
		inputsW := gateCtx.VariableWithShape("inputsW", shapes.Make(dtype, featuresSize, hiddenSize)).ValueGraph(g)
		inputsB := gateCtx.VariableWithValue("inputsB", make([]float32, hiddenSize)).ValueGraph(g)
		recurrentW[i] = gateCtx.VariableWithShape("recurrentW", shapes.Make(dtype, hiddenSize, hiddenSize)).ValueGraph(g)
		recurrentB[i] = ExpandAxes(gateCtx.VariableWithValue("recurrentB", make([]float32, hiddenSize)).ValueGraph(g), 0)

		// all steps at once: [batch, steps, hidden]
		p := Add(MatMul(Reshape(x, batchSize*steps, featuresSize), inputsW), ExpandAxes(inputsB, 0))
		projected[i] = Reshape(p, batchSize, steps, hiddenSize)
	}

	h := initial
	if h == nil {
		h = ZerosLike(timestep(projected[0], 0))
	}
	for t := range steps {
		recurrent := func(i int) *Node { return Add(MatMul(h, recurrentW[i]), recurrentB[i]) }
		z := Sigmoid(Add(timestep(projected[0], t), recurrent(0)))
		r := Sigmoid(Add(timestep(projected[1], t), recurrent(1)))
		candidate := Tanh(Add(timestep(projected[2], t), Mul(r, recurrent(2))))
		h = Add(Mul(z, h), Mul(OneMinus(z), candidate))
	}
	return h
}

// timestep returns x[:, t, :] for x shaped [batch, steps, features].
func timestep(x *Node, t int) *Node {
	steps := x.Shape().Dim(1)
	mask := make([]float32, steps)
	mask[t] = 1
	return ReduceSum(Mul(x, Reshape(Const(x.Graph(), mask), 1, steps, 1)), 1)
}
