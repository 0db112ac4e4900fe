package main

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestCausalMaskStrictlyUpperTriangular(t *testing.T) {
	const seqLen = 8
	m := causalMaskTensor(seqLen)
	data := m.Data().([]float32)

	for i := 0; i < seqLen; i++ {
		for j := 0; j < seqLen; j++ {
			v := data[i*seqLen+j]
			if j > i {
				if v != -1e9 {
					t.Errorf("mask[%d][%d] = %v, want -1e9 above diagonal", i, j, v)
				}
			} else if v != 0 {
				t.Errorf("mask[%d][%d] = %v, want 0 on and below diagonal", i, j, v)
			}
		}
	}
}

func TestLayerNormNormalizesPerToken(t *testing.T) {
	const (
		rows = 4
		dim  = 8
	)
	rng := rand.New(rand.NewSource(7))

	g := gorgonia.NewGraph()
	ln := NewLayerNorm(g, dim, "ln")
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(rows, dim), gorgonia.WithName("x"))
	out, err := ln.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	backing := make([]float32, rows*dim)
	for i := range backing {
		backing[i] = float32(rng.NormFloat64()*3 + 1)
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := gorgonia.Let(x, tensor.New(tensor.WithShape(rows, dim), tensor.WithBacking(backing))); err != nil {
		t.Fatalf("let: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.Value().Data().([]float32)
	for r := 0; r < rows; r++ {
		row := make([]float64, dim)
		for c := 0; c < dim; c++ {
			row[c] = float64(got[r*dim+c])
		}
		mean := stat.Mean(row, nil)
		variance := stat.PopVariance(row, nil) // biased, matching the layer
		if math.Abs(mean) > 1e-4 {
			t.Errorf("row %d mean = %v, want ~0", r, mean)
		}
		if math.Abs(variance-1) > 1e-2 {
			t.Errorf("row %d biased variance = %v, want ~1", r, variance)
		}
	}
}

func TestSingleHeadAttentionOutputShape(t *testing.T) {
	const (
		seqLen = 6
		inDim  = 8
		dv     = 4
	)
	g := gorgonia.NewGraph()
	head := NewSingleHeadAttention(g, inDim, 4, dv, seqLen, true, 0, false, "head")
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(seqLen, inDim), gorgonia.WithName("x"))
	out, err := head.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	shape := out.Shape()
	if shape[0] != seqLen || shape[1] != dv {
		t.Errorf("expected shape [%d %d], got %v", seqLen, dv, shape)
	}
}

// Reference check against a hand-computed attention on small matrices.
func TestSingleHeadAttentionMatchesReference(t *testing.T) {
	const (
		seqLen = 3
		dim    = 2
	)
	g := gorgonia.NewGraph()
	head := NewSingleHeadAttention(g, dim, dim, dim, seqLen, true, 0, false, "head")
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(seqLen, dim), gorgonia.WithName("x"))
	out, err := head.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	wq := []float32{0.3, -0.1, 0.2, 0.4}
	wk := []float32{-0.2, 0.5, 0.1, -0.3}
	wv := []float32{0.6, 0.2, -0.4, 0.1}
	xs := []float32{1, 2, -1, 0.5, 0.25, -0.75}

	if err := gorgonia.Let(head.query, tensor.New(tensor.WithShape(dim, dim), tensor.WithBacking(wq))); err != nil {
		t.Fatalf("let wq: %v", err)
	}
	if err := gorgonia.Let(head.key, tensor.New(tensor.WithShape(dim, dim), tensor.WithBacking(wk))); err != nil {
		t.Fatalf("let wk: %v", err)
	}
	if err := gorgonia.Let(head.value, tensor.New(tensor.WithShape(dim, dim), tensor.WithBacking(wv))); err != nil {
		t.Fatalf("let wv: %v", err)
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := gorgonia.Let(x, tensor.New(tensor.WithShape(seqLen, dim), tensor.WithBacking(xs))); err != nil {
		t.Fatalf("let x: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := referenceAttention(xs, wq, wk, wv, seqLen, dim)
	got := out.Value().Data().([]float32)
	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > 1e-4 {
			t.Errorf("out[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// referenceAttention computes causal scaled dot-product attention in float64
// with gonum.
func referenceAttention(xs, wq, wk, wv []float32, seqLen, dim int) []float64 {
	toDense := func(data []float32, r, c int) *mat.Dense {
		d := make([]float64, len(data))
		for i, v := range data {
			d[i] = float64(v)
		}
		return mat.NewDense(r, c, d)
	}

	x := toDense(xs, seqLen, dim)
	var q, k, v mat.Dense
	q.Mul(x, toDense(wq, dim, dim))
	k.Mul(x, toDense(wk, dim, dim))
	v.Mul(x, toDense(wv, dim, dim))

	var scores mat.Dense
	scores.Mul(&q, k.T())
	scale := 1 / math.Sqrt(float64(dim))

	probs := mat.NewDense(seqLen, seqLen, nil)
	for i := 0; i < seqLen; i++ {
		maxv := math.Inf(-1)
		for j := 0; j <= i; j++ {
			s := scores.At(i, j) * scale
			if s > maxv {
				maxv = s
			}
		}
		var sum float64
		row := make([]float64, seqLen)
		for j := 0; j <= i; j++ {
			row[j] = math.Exp(scores.At(i, j)*scale - maxv)
			sum += row[j]
		}
		for j := 0; j <= i; j++ {
			probs.Set(i, j, row[j]/sum)
		}
	}

	var out mat.Dense
	out.Mul(probs, &v)

	flat := make([]float64, seqLen*dim)
	for i := 0; i < seqLen; i++ {
		for j := 0; j < dim; j++ {
			flat[i*dim+j] = out.At(i, j)
		}
	}
	return flat
}

func TestMultiHeadAttentionOutputShape(t *testing.T) {
	const (
		seqLen = 8
		dim    = 16
	)
	g := gorgonia.NewGraph()
	mha := NewMultiHeadAttention(g, dim, 4, seqLen, true, 0, false, "mha")
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(seqLen, dim), gorgonia.WithName("x"))
	out, err := mha.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	shape := out.Shape()
	if shape[0] != seqLen || shape[1] != dim {
		t.Errorf("expected shape [%d %d], got %v", seqLen, dim, shape)
	}
}

func TestFeedForwardOutputShape(t *testing.T) {
	const (
		seqLen = 8
		dim    = 16
	)
	g := gorgonia.NewGraph()
	ff := NewFeedForward(g, dim, 4*dim, 2, 0, false, "ffn")
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(seqLen, dim), gorgonia.WithName("x"))
	out, err := ff.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	shape := out.Shape()
	if shape[0] != seqLen || shape[1] != dim {
		t.Errorf("expected shape [%d %d], got %v", seqLen, dim, shape)
	}
}

func TestGELUMatchesReference(t *testing.T) {
	inputs := []float32{-2, -0.5, 0, 0.5, 2}

	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, len(inputs)), gorgonia.WithName("x"))
	out, err := gelu(x)
	if err != nil {
		t.Fatalf("gelu: %v", err)
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := gorgonia.Let(x, tensor.New(tensor.WithShape(1, len(inputs)), tensor.WithBacking(append([]float32(nil), inputs...)))); err != nil {
		t.Fatalf("let: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.Value().Data().([]float32)
	for i, in := range inputs {
		x := float64(in)
		want := 0.5 * x * (1 + math.Tanh(0.7978845608028654*(x+0.044715*x*x*x)))
		if math.Abs(float64(got[i])-want) > 1e-5 {
			t.Errorf("gelu(%v) = %v, want %v", in, got[i], want)
		}
	}
}

func TestOneHotMatrix(t *testing.T) {
	m := oneHotMatrix([]int{2, 0, 3}, 4)
	data := m.Data().([]float32)

	want := []float32{
		0, 0, 1, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("one-hot mismatch at %d: got %v want %v", i, data[i], want[i])
		}
	}

	// out-of-range ids fall back to row zero
	m = oneHotMatrix([]int{7}, 4)
	data = m.Data().([]float32)
	if data[0] != 1 {
		t.Errorf("out-of-range id should map to index 0, got %v", data)
	}
}
