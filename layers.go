package main

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerNorm normalizes each token over the feature axis using biased variance,
// then applies a learned elementwise affine (gamma, beta).
type LayerNorm struct {
	gamma *gorgonia.Node // [1 x d]
	beta  *gorgonia.Node // [1 x d]
	eps   *gorgonia.Node
}

func NewLayerNorm(g *gorgonia.ExprGraph, dim int, name string) *LayerNorm {
	return &LayerNorm{
		gamma: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, dim),
			gorgonia.WithName(name+".gamma"),
			gorgonia.WithInit(gorgonia.Ones())),
		beta: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, dim),
			gorgonia.WithName(name+".beta"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		eps: gorgonia.NewConstant(float32(1e-5), gorgonia.WithName(name+".eps")),
	}
}

// Forward maps [T x d] -> [T x d].
func (l *LayerNorm) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	rows := x.Shape()[0]

	mean, err := gorgonia.Mean(x, 1)
	if err != nil {
		return nil, fmt.Errorf("layernorm mean: %w", err)
	}
	mean, err = gorgonia.Reshape(mean, tensor.Shape{rows, 1})
	if err != nil {
		return nil, fmt.Errorf("layernorm reshape mean: %w", err)
	}

	centered, err := gorgonia.BroadcastSub(x, mean, nil, []byte{1})
	if err != nil {
		return nil, fmt.Errorf("layernorm center: %w", err)
	}

	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, fmt.Errorf("layernorm square: %w", err)
	}
	variance, err := gorgonia.Mean(sq, 1) // biased: divide by d, not d-1
	if err != nil {
		return nil, fmt.Errorf("layernorm variance: %w", err)
	}
	variance, err = gorgonia.Reshape(variance, tensor.Shape{rows, 1})
	if err != nil {
		return nil, fmt.Errorf("layernorm reshape variance: %w", err)
	}

	shifted, err := gorgonia.Add(variance, l.eps)
	if err != nil {
		return nil, fmt.Errorf("layernorm add eps: %w", err)
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, fmt.Errorf("layernorm sqrt: %w", err)
	}

	xhat, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, fmt.Errorf("layernorm normalize: %w", err)
	}

	scaled, err := gorgonia.BroadcastHadamardProd(xhat, l.gamma, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("layernorm scale: %w", err)
	}
	out, err := gorgonia.BroadcastAdd(scaled, l.beta, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("layernorm shift: %w", err)
	}
	return out, nil
}

func (l *LayerNorm) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{l.gamma, l.beta}
}

// causalMaskTensor builds the additive attention mask: 0 on and below the
// diagonal, -1e9 strictly above it (future positions).
func causalMaskTensor(seqLen int) *tensor.Dense {
	data := make([]float32, seqLen*seqLen)
	for i := 0; i < seqLen; i++ {
		for j := i + 1; j < seqLen; j++ {
			data[i*seqLen+j] = -1e9
		}
	}
	return tensor.New(tensor.WithShape(seqLen, seqLen), tensor.WithBacking(data))
}

// SingleHeadAttention is one causal self-attention head with bias-free
// key/query/value projections, as in Attention is All You Need.
type SingleHeadAttention struct {
	query *gorgonia.Node // [in x dk]
	key   *gorgonia.Node // [in x dk]
	value *gorgonia.Node // [in x dv]
	mask  *gorgonia.Node // [T x T] additive, nil for bidirectional use
	scale *gorgonia.Node

	dropout  float64
	training bool
}

func NewSingleHeadAttention(g *gorgonia.ExprGraph, inputDim, keyQueryDim, valueDim, seqLen int, causal bool, dropout float64, training bool, name string) *SingleHeadAttention {
	h := &SingleHeadAttention{
		query: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputDim, keyQueryDim),
			gorgonia.WithName(name+".wq"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		key: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputDim, keyQueryDim),
			gorgonia.WithName(name+".wk"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		value: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputDim, valueDim),
			gorgonia.WithName(name+".wv"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		scale: gorgonia.NewConstant(float32(1.0/math.Sqrt(float64(keyQueryDim))),
			gorgonia.WithName(name+".scale")),
		dropout:  dropout,
		training: training,
	}
	if causal {
		h.mask = gorgonia.NewConstant(causalMaskTensor(seqLen), gorgonia.WithName(name+".mask"))
	}
	return h
}

// Forward maps [T x in] -> [T x dv].
func (h *SingleHeadAttention) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	q, err := gorgonia.Mul(x, h.query)
	if err != nil {
		return nil, fmt.Errorf("attention query projection: %w", err)
	}
	k, err := gorgonia.Mul(x, h.key)
	if err != nil {
		return nil, fmt.Errorf("attention key projection: %w", err)
	}
	v, err := gorgonia.Mul(x, h.value)
	if err != nil {
		return nil, fmt.Errorf("attention value projection: %w", err)
	}

	kt, err := gorgonia.Transpose(k, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("attention transpose keys: %w", err)
	}
	scores, err := gorgonia.Mul(q, kt)
	if err != nil {
		return nil, fmt.Errorf("attention scores: %w", err)
	}
	scores, err = gorgonia.Mul(scores, h.scale)
	if err != nil {
		return nil, fmt.Errorf("attention scale: %w", err)
	}
	if h.mask != nil {
		scores, err = gorgonia.Add(scores, h.mask)
		if err != nil {
			return nil, fmt.Errorf("attention mask: %w", err)
		}
	}

	weights, err := gorgonia.SoftMax(scores, 1)
	if err != nil {
		return nil, fmt.Errorf("attention softmax: %w", err)
	}
	if h.training && h.dropout > 0 {
		weights, err = gorgonia.Dropout(weights, h.dropout)
		if err != nil {
			return nil, fmt.Errorf("attention dropout: %w", err)
		}
	}

	out, err := gorgonia.Mul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("attention context: %w", err)
	}
	return out, nil
}

func (h *SingleHeadAttention) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{h.query, h.key, h.value}
}

// MultiHeadAttention runs numHeads single heads in parallel, concatenates
// their outputs and projects back to the model dimension.
type MultiHeadAttention struct {
	heads   []*SingleHeadAttention
	out     *gorgonia.Node // [d x d]
	outBias *gorgonia.Node // [1 x d]

	dropout  float64
	training bool
}

func NewMultiHeadAttention(g *gorgonia.ExprGraph, inputDim, numHeads, seqLen int, causal bool, dropout float64, training bool, name string) *MultiHeadAttention {
	headDim := inputDim / numHeads
	heads := make([]*SingleHeadAttention, numHeads)
	for i := range heads {
		heads[i] = NewSingleHeadAttention(g, inputDim, headDim, headDim, seqLen, causal, dropout, training,
			fmt.Sprintf("%s.head%d", name, i))
	}
	return &MultiHeadAttention{
		heads: heads,
		out: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputDim, inputDim),
			gorgonia.WithName(name+".wo"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		outBias: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, inputDim),
			gorgonia.WithName(name+".wo_bias"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		dropout:  dropout,
		training: training,
	}
}

// Forward maps [T x d] -> [T x d].
func (m *MultiHeadAttention) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	outs := make([]*gorgonia.Node, len(m.heads))
	for i, h := range m.heads {
		o, err := h.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
		outs[i] = o
	}

	cat := outs[0]
	var err error
	if len(outs) > 1 {
		cat, err = gorgonia.Concat(1, outs...)
		if err != nil {
			return nil, fmt.Errorf("concat heads: %w", err)
		}
	}

	proj, err := gorgonia.Mul(cat, m.out)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	proj, err = gorgonia.BroadcastAdd(proj, m.outBias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("output bias: %w", err)
	}
	if m.training && m.dropout > 0 {
		proj, err = gorgonia.Dropout(proj, m.dropout)
		if err != nil {
			return nil, fmt.Errorf("output dropout: %w", err)
		}
	}
	return proj, nil
}

func (m *MultiHeadAttention) Learnables() gorgonia.Nodes {
	ns := gorgonia.Nodes{}
	for _, h := range m.heads {
		ns = append(ns, h.Learnables()...)
	}
	return append(ns, m.out, m.outBias)
}

// gelu applies the tanh approximation of GELU:
// 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715*x^3)))
func gelu(x *gorgonia.Node) (*gorgonia.Node, error) {
	c := gorgonia.NewConstant(float32(0.044715))
	k := gorgonia.NewConstant(float32(0.7978845608028654)) // sqrt(2/pi)
	one := gorgonia.NewConstant(float32(1))
	half := gorgonia.NewConstant(float32(0.5))

	x3, err := gorgonia.Cube(x)
	if err != nil {
		return nil, err
	}
	x3, err = gorgonia.Mul(x3, c)
	if err != nil {
		return nil, err
	}
	inner, err := gorgonia.Add(x, x3)
	if err != nil {
		return nil, err
	}
	inner, err = gorgonia.Mul(inner, k)
	if err != nil {
		return nil, err
	}
	th, err := gorgonia.Tanh(inner)
	if err != nil {
		return nil, err
	}
	th, err = gorgonia.Add(th, one)
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.HadamardProd(x, th)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(out, half)
}

// FeedForward is the position-wise MLP: linear -> GELU -> linear -> dropout.
type FeedForward struct {
	fc1     *gorgonia.Node // [d x h]
	fc1Bias *gorgonia.Node // [1 x h]
	fc2     *gorgonia.Node // [h x d]
	fc2Bias *gorgonia.Node // [1 x d]

	dropout  float64
	training bool
}

// NewFeedForward builds the MLP. fc2 uses the GPT-2 style residual-scaled
// init std 0.02/sqrt(2*numLayers); pass numLayers=1 outside a residual stack.
func NewFeedForward(g *gorgonia.ExprGraph, inputDim, hiddenDim, numLayers int, dropout float64, training bool, name string) *FeedForward {
	fc2Std := 0.02 / math.Sqrt(float64(2*numLayers))
	return &FeedForward{
		fc1: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputDim, hiddenDim),
			gorgonia.WithName(name+".fc1"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		fc1Bias: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, hiddenDim),
			gorgonia.WithName(name+".fc1_bias"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		fc2: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(hiddenDim, inputDim),
			gorgonia.WithName(name+".fc2"),
			gorgonia.WithInit(gorgonia.Gaussian(0, fc2Std))),
		fc2Bias: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, inputDim),
			gorgonia.WithName(name+".fc2_bias"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		dropout:  dropout,
		training: training,
	}
}

// Forward maps [T x d] -> [T x d].
func (f *FeedForward) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := gorgonia.Mul(x, f.fc1)
	if err != nil {
		return nil, fmt.Errorf("feedforward fc1: %w", err)
	}
	h, err = gorgonia.BroadcastAdd(h, f.fc1Bias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("feedforward fc1 bias: %w", err)
	}
	h, err = gelu(h)
	if err != nil {
		return nil, fmt.Errorf("feedforward gelu: %w", err)
	}
	h, err = gorgonia.Mul(h, f.fc2)
	if err != nil {
		return nil, fmt.Errorf("feedforward fc2: %w", err)
	}
	h, err = gorgonia.BroadcastAdd(h, f.fc2Bias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("feedforward fc2 bias: %w", err)
	}
	if f.training && f.dropout > 0 {
		h, err = gorgonia.Dropout(h, f.dropout)
		if err != nil {
			return nil, fmt.Errorf("feedforward dropout: %w", err)
		}
	}
	return h, nil
}

func (f *FeedForward) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{f.fc1, f.fc1Bias, f.fc2, f.fc2Bias}
}

// oneHotMatrix encodes token ids as a [len(ids) x vocab] one-hot matrix, the
// lookup form the embedding matmul expects. Out-of-range ids map to row zero.
func oneHotMatrix(ids []int, vocab int) *tensor.Dense {
	data := make([]float32, len(ids)*vocab)
	for i, id := range ids {
		if id < 0 || id >= vocab {
			id = 0
		}
		data[i*vocab+id] = 1
	}
	return tensor.New(tensor.WithShape(len(ids), vocab), tensor.WithBacking(data))
}
