package main

import (
	"fmt"
	"math"
	"sort"
	"time"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Sampler drives autoregressive generation: a dropout-free model graph plus
// a sliding, fixed-length context window left-padded with the pad token.
type Sampler struct {
	g      *gorgonia.ExprGraph
	model  languageModel
	x      *gorgonia.Node
	logits *gorgonia.Node
	vm     gorgonia.VM

	contextLength int
	vocabSize     int
	padID         int
	eosID         int

	src exprand.Source
}

// NewSampler builds a generation graph and restores the checkpoint weights
// into it. eosID < 0 disables early stopping.
func NewSampler(build modelBuilder, ckpt *Checkpoint, contextLength, vocabSize, padID, eosID int) (*Sampler, error) {
	g := gorgonia.NewGraph()
	model, err := build(g, false)
	if err != nil {
		return nil, err
	}

	x := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(contextLength, vocabSize), gorgonia.WithName("x"))
	logits, err := model.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("build forward pass: %w", err)
	}
	if err := ckpt.Restore(model.Learnables()); err != nil {
		return nil, err
	}

	return &Sampler{
		g:             g,
		model:         model,
		x:             x,
		logits:        logits,
		vm:            gorgonia.NewTapeMachine(g),
		contextLength: contextLength,
		vocabSize:     vocabSize,
		padID:         padID,
		eosID:         eosID,
		src:           exprand.NewSource(uint64(time.Now().UnixNano())),
	}, nil
}

func (s *Sampler) Close() {
	s.vm.Close()
}

// Generate extends the prompt with up to maxNewTokens sampled tokens,
// stopping early on the end-of-sequence token.
func (s *Sampler) Generate(prompt []int, cfg GenerateConfig) ([]int, error) {
	out := append([]int(nil), prompt...)
	seen := make(map[int]int)
	for _, id := range prompt {
		seen[id]++
	}

	for i := 0; i < cfg.MaxNewTokens; i++ {
		lastRow, err := s.forwardLast(out)
		if err != nil {
			return nil, err
		}

		probs := softmaxTemp(lastRow, cfg.Temperature)
		if cfg.RepetitionPenalty > 0 {
			probs = applyRepetitionPenalty(probs, seen, cfg.RepetitionPenalty)
		}
		if cfg.TopK > 0 {
			probs = topK(probs, cfg.TopK)
		}
		if cfg.TopP > 0 && cfg.TopP < 1 {
			probs = topP(probs, cfg.TopP)
		}

		id, err := multinomial(probs, s.src)
		if err != nil {
			return nil, err
		}
		if id == s.eosID {
			break
		}
		out = append(out, id)
		seen[id]++
	}
	return out, nil
}

// forwardLast runs the model over the last contextLength tokens (left-padded)
// and returns the logits of the final position.
func (s *Sampler) forwardLast(tokens []int) ([]float32, error) {
	window := make([]int, s.contextLength)
	for i := range window {
		window[i] = s.padID
	}
	start := len(tokens) - s.contextLength
	if start < 0 {
		start = 0
	}
	tail := tokens[start:]
	copy(window[s.contextLength-len(tail):], tail)

	s.vm.Reset()
	if err := gorgonia.Let(s.x, oneHotMatrix(window, s.vocabSize)); err != nil {
		return nil, fmt.Errorf("bind context: %w", err)
	}
	if err := s.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}

	data, ok := s.logits.Value().Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("logits are not float32 backed")
	}
	last := make([]float32, s.vocabSize)
	copy(last, data[(s.contextLength-1)*s.vocabSize:])
	return last, nil
}

// softmaxTemp converts logits to probabilities at the given temperature.
func softmaxTemp(logits []float32, temp float32) []float32 {
	if temp <= 0 {
		temp = 1
	}
	maxv := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}

	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64((v - maxv) / temp)))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func applyRepetitionPenalty(probs []float32, seen map[int]int, penalty float32) []float32 {
	out := append([]float32(nil), probs...)
	var sum float32
	for id, cnt := range seen {
		if id >= 0 && id < len(out) && cnt > 0 {
			out[id] /= 1 + penalty*float32(cnt)
		}
	}
	for _, p := range out {
		sum += p
	}
	if sum == 0 {
		return probs
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// topK zeroes everything outside the k most likely tokens and renormalizes.
func topK(probs []float32, k int) []float32 {
	if k <= 0 || k >= len(probs) {
		return probs
	}
	type kv struct {
		i int
		p float32
	}
	arr := make([]kv, len(probs))
	for i, p := range probs {
		arr[i] = kv{i, p}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].p > arr[j].p })

	out := make([]float32, len(probs))
	var sum float32
	for _, e := range arr[:k] {
		out[e.i] = e.p
		sum += e.p
	}
	if sum == 0 {
		return probs
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// topP keeps the smallest set of tokens whose cumulative probability reaches
// the threshold and renormalizes.
func topP(probs []float32, threshold float32) []float32 {
	type kv struct {
		i int
		p float32
	}
	arr := make([]kv, len(probs))
	for i, p := range probs {
		arr[i] = kv{i, p}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].p > arr[j].p })

	var cum float32
	keep := 0
	for keep = 0; keep < len(arr); keep++ {
		cum += arr[keep].p
		if cum >= threshold {
			keep++
			break
		}
	}

	out := make([]float32, len(probs))
	var sum float32
	for i := 0; i < keep; i++ {
		out[arr[i].i] = arr[i].p
		sum += arr[i].p
	}
	if sum == 0 {
		return probs
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// multinomial draws one index from the distribution.
func multinomial(probs []float32, src exprand.Source) (int, error) {
	weights := make([]float64, len(probs))
	var sum float64
	for i, p := range probs {
		if p < 0 {
			return 0, fmt.Errorf("negative probability at %d", i)
		}
		weights[i] = float64(p)
		sum += weights[i]
	}
	if sum == 0 {
		return 0, fmt.Errorf("all probabilities are zero")
	}

	dist := distuv.NewCategorical(weights, src)
	return int(dist.Rand()), nil
}
