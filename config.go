package main

import "fmt"

// BigramConfig holds the hyperparameters for the bigram baseline.
type BigramConfig struct {
	VocabSize     int
	ContextLength int
	EmbedDim      int
	Dropout       float64
}

// MiniGPTConfig holds the hyperparameters for the MiniGPT model.
type MiniGPTConfig struct {
	VocabSize      int
	ContextLength  int
	EmbedDim       int
	NumHeads       int
	NumLayers      int
	FeedforwardDim int // 0 means 4*EmbedDim
	Dropout        float64
	EmbedDropout   float64
	WeightTie      bool
}

// TrainConfig controls the training loop.
type TrainConfig struct {
	LearningRate float64
	WeightDecay  float64
	GradClip     float64
	MaxIters     int
	LogInterval  int
	EvalWindows  int // held-out windows averaged per validation pass
}

// GenerateConfig controls autoregressive sampling.
type GenerateConfig struct {
	MaxNewTokens      int
	Temperature       float32
	TopK              int
	TopP              float32
	RepetitionPenalty float32
}

func DefaultBigramConfig(vocabSize int) BigramConfig {
	return BigramConfig{
		VocabSize:     vocabSize,
		ContextLength: 32,
		EmbedDim:      64,
		Dropout:       0.1,
	}
}

func DefaultMiniGPTConfig(vocabSize int) MiniGPTConfig {
	return MiniGPTConfig{
		VocabSize:     vocabSize,
		ContextLength: 64,
		EmbedDim:      128,
		NumHeads:      4,
		NumLayers:     4,
		Dropout:       0.1,
		EmbedDropout:  0.1,
		WeightTie:     true,
	}
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 1e-3,
		WeightDecay:  1e-4,
		GradClip:     1.0,
		MaxIters:     5000,
		LogInterval:  100,
		EvalWindows:  20,
	}
}

func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		MaxNewTokens:      100,
		Temperature:       1.0,
		TopK:              0,
		TopP:              0,
		RepetitionPenalty: 0,
	}
}

func (c BigramConfig) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("bigram config: vocab size must be positive, got %d", c.VocabSize)
	}
	if c.ContextLength <= 0 {
		return fmt.Errorf("bigram config: context length must be positive, got %d", c.ContextLength)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("bigram config: embed dim must be positive, got %d", c.EmbedDim)
	}
	return nil
}

func (c MiniGPTConfig) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("minigpt config: vocab size must be positive, got %d", c.VocabSize)
	}
	if c.ContextLength <= 0 {
		return fmt.Errorf("minigpt config: context length must be positive, got %d", c.ContextLength)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("minigpt config: num layers must be positive, got %d", c.NumLayers)
	}
	if c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("minigpt config: embed dim %d must divide evenly by %d heads", c.EmbedDim, c.NumHeads)
	}
	return nil
}

// feedforwardDim resolves the MLP hidden size, defaulting to 4x the embedding.
func (c MiniGPTConfig) feedforwardDim() int {
	if c.FeedforwardDim > 0 {
		return c.FeedforwardDim
	}
	return 4 * c.EmbedDim
}
