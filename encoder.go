package main

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// EncoderBlock is a post-norm bidirectional transformer block:
// LN1(x + Attn(x)), then LN2(h + FFN(h)). No causal mask.
type EncoderBlock struct {
	attention   *MultiHeadAttention
	norm1       *LayerNorm
	feedforward *FeedForward
	norm2       *LayerNorm
}

func NewEncoderBlock(g *gorgonia.ExprGraph, inputDim, numHeads, feedforwardDim, seqLen int, dropout float64, training bool, name string) *EncoderBlock {
	return &EncoderBlock{
		attention:   NewMultiHeadAttention(g, inputDim, numHeads, seqLen, false, dropout, training, name+".attn"),
		norm1:       NewLayerNorm(g, inputDim, name+".norm1"),
		feedforward: NewFeedForward(g, inputDim, feedforwardDim, 1, dropout, training, name+".ffn"),
		norm2:       NewLayerNorm(g, inputDim, name+".norm2"),
	}
}

// Forward maps [T x d] -> [T x d].
func (b *EncoderBlock) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	attn, err := b.attention.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	res, err := gorgonia.Add(x, attn)
	if err != nil {
		return nil, fmt.Errorf("attention residual: %w", err)
	}
	h, err := b.norm1.Forward(res)
	if err != nil {
		return nil, fmt.Errorf("norm1: %w", err)
	}

	ff, err := b.feedforward.Forward(h)
	if err != nil {
		return nil, fmt.Errorf("feedforward: %w", err)
	}
	res, err = gorgonia.Add(h, ff)
	if err != nil {
		return nil, fmt.Errorf("feedforward residual: %w", err)
	}
	out, err := b.norm2.Forward(res)
	if err != nil {
		return nil, fmt.Errorf("norm2: %w", err)
	}
	return out, nil
}

func (b *EncoderBlock) Learnables() gorgonia.Nodes {
	ns := append(gorgonia.Nodes{}, b.attention.Learnables()...)
	ns = append(ns, b.norm1.Learnables()...)
	ns = append(ns, b.feedforward.Learnables()...)
	return append(ns, b.norm2.Learnables()...)
}

// Encoder is a bidirectional transformer encoder producing per-token features.
type Encoder struct {
	cfg MiniGPTConfig

	vocabEmbedding      *gorgonia.Node
	positionalEmbedding *gorgonia.Node
	blocks              []*EncoderBlock

	training bool
}

func NewEncoder(g *gorgonia.ExprGraph, cfg MiniGPTConfig, training bool) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		cfg: cfg,
		vocabEmbedding: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(cfg.VocabSize, cfg.EmbedDim),
			gorgonia.WithName("enc.wte"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		positionalEmbedding: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(cfg.ContextLength, cfg.EmbedDim),
			gorgonia.WithName("enc.wpe"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		training: training,
	}
	e.blocks = make([]*EncoderBlock, cfg.NumLayers)
	for i := range e.blocks {
		e.blocks[i] = NewEncoderBlock(g, cfg.EmbedDim, cfg.NumHeads, cfg.feedforwardDim(),
			cfg.ContextLength, cfg.Dropout, training, fmt.Sprintf("enc.block%d", i))
	}
	return e, nil
}

// Forward maps a one-hot [T x vocab] window to [T x d] features.
func (e *Encoder) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	tok, err := gorgonia.Mul(x, e.vocabEmbedding)
	if err != nil {
		return nil, fmt.Errorf("encoder embedding: %w", err)
	}
	hidden, err := gorgonia.Add(tok, e.positionalEmbedding)
	if err != nil {
		return nil, fmt.Errorf("encoder positional embedding: %w", err)
	}
	if e.training && e.cfg.EmbedDropout > 0 {
		hidden, err = gorgonia.Dropout(hidden, e.cfg.EmbedDropout)
		if err != nil {
			return nil, fmt.Errorf("encoder embedding dropout: %w", err)
		}
	}
	for i, b := range e.blocks {
		hidden, err = b.Forward(hidden)
		if err != nil {
			return nil, fmt.Errorf("encoder block %d: %w", i, err)
		}
	}
	return hidden, nil
}

func (e *Encoder) Learnables() gorgonia.Nodes {
	ns := gorgonia.Nodes{e.vocabEmbedding, e.positionalEmbedding}
	for _, b := range e.blocks {
		ns = append(ns, b.Learnables()...)
	}
	return ns
}
