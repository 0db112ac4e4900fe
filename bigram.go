package main

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BigramLanguageModel is the baseline: each position's logits depend only on
// the token at that position. Embedding -> linear head -> dropout.
type BigramLanguageModel struct {
	cfg BigramConfig

	embedding  *gorgonia.Node // [vocab x d]
	headWeight *gorgonia.Node // [d x vocab]
	headBias   *gorgonia.Node // [1 x vocab]

	training bool
}

func NewBigramLanguageModel(g *gorgonia.ExprGraph, cfg BigramConfig, training bool) (*BigramLanguageModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BigramLanguageModel{
		cfg: cfg,
		embedding: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(cfg.VocabSize, cfg.EmbedDim),
			gorgonia.WithName("bigram.embed"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		headWeight: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(cfg.EmbedDim, cfg.VocabSize),
			gorgonia.WithName("bigram.head"),
			gorgonia.WithInit(gorgonia.Gaussian(0, 0.02))),
		headBias: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, cfg.VocabSize),
			gorgonia.WithName("bigram.head_bias"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		training: training,
	}, nil
}

// Forward maps a one-hot [T x vocab] window to [T x vocab] logits.
func (m *BigramLanguageModel) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	emb, err := gorgonia.Mul(x, m.embedding)
	if err != nil {
		return nil, fmt.Errorf("bigram embedding: %w", err)
	}
	logits, err := gorgonia.Mul(emb, m.headWeight)
	if err != nil {
		return nil, fmt.Errorf("bigram head: %w", err)
	}
	logits, err = gorgonia.BroadcastAdd(logits, m.headBias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("bigram head bias: %w", err)
	}
	if m.training && m.cfg.Dropout > 0 {
		logits, err = gorgonia.Dropout(logits, m.cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("bigram dropout: %w", err)
		}
	}
	return logits, nil
}

func (m *BigramLanguageModel) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{m.embedding, m.headWeight, m.headBias}
}
