package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorgonia.org/gorgonia"
)

// Run configuration. There are no flags: pick the model and paths here, the
// way the training script is meant to be edited.
const (
	modelName = "minigpt" // "bigram" or "minigpt"

	corpusPath    = "data/tinystories.txt" // local path or s3://bucket/key
	tokenizerPath = "models/tokenizer.json"
	outputDir     = "models"

	vocabSize = 2048

	trainSplit = 0.9

	// Set to an HTTP endpoint to stream metrics to an external service.
	metricsEndpoint = ""
	metricsProject  = "minigpt"

	samplePrompt = "once upon a time"
)

func main() {
	fmt.Println("MiniGPT - decoder-only transformer language model")
	fmt.Println("=================================================")

	ctx := context.Background()

	fmt.Printf("\nLoading corpus from %s...\n", corpusPath)
	corpus, err := LoadCorpus(ctx, corpusPath)
	if err != nil {
		log.Fatalf("load corpus: %v", err)
	}
	fmt.Printf("Corpus length: %d bytes\n", len(corpus))

	fmt.Println("\nBuilding tokenizer...")
	tok, err := TrainOrLoadTokenizer(corpusPath, tokenizerPath, vocabSize)
	if err != nil {
		log.Fatalf("tokenizer: %v", err)
	}
	fmt.Printf("Vocabulary size: %d\n", tok.VocabSize())

	tokens, err := tok.Encode(string(corpus))
	if err != nil {
		log.Fatalf("encode corpus: %v", err)
	}
	fmt.Printf("Token stream length: %d\n", len(tokens))

	build, contextLength := selectModel(tok.VocabSize())

	data, err := NewDataset(tokens, contextLength)
	if err != nil {
		log.Fatalf("dataset: %v", err)
	}
	trainSet, evalSet := data.Split(trainSplit)
	fmt.Printf("Training windows: %d, validation windows: %d\n", trainSet.Len(), evalSet.Len())

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	fmt.Printf("\nTraining %s...\n", modelName)
	trainCfg := DefaultTrainConfig()
	logger := NewRunLogger(metricsProject, metricsEndpoint)

	ckpt, err := Train(build, contextLength, tok.VocabSize(), trainCfg, trainSet, evalSet, logger)
	if err != nil {
		log.Fatalf("training: %v", err)
	}

	total := 0
	for _, p := range ckpt.Params {
		total += len(p.Data)
	}
	fmt.Printf("Trainable parameters: %.2fM\n", float64(total)/1e6)

	metricsPath := filepath.Join(outputDir, "metrics.json")
	if err := logger.Flush(metricsPath); err != nil {
		fmt.Printf("   Warning: failed to save metrics: %v\n", err)
	} else {
		fmt.Printf("Metrics saved to %s\n", metricsPath)
	}

	ckptPath := filepath.Join(outputDir, modelName+".ckpt")
	if err := ckpt.Save(ckptPath); err != nil {
		log.Fatalf("save checkpoint: %v", err)
	}
	fmt.Printf("Checkpoint saved to %s\n", ckptPath)

	fmt.Println("\nGenerating sample...")
	sampler, err := NewSampler(build, ckpt, contextLength, tok.VocabSize(), tok.PadID(), tok.EosID())
	if err != nil {
		log.Fatalf("sampler: %v", err)
	}
	defer sampler.Close()

	prompt, err := tok.Encode(samplePrompt)
	if err != nil {
		log.Fatalf("encode prompt: %v", err)
	}
	genCfg := DefaultGenerateConfig()
	out, err := sampler.Generate(prompt, genCfg)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	fmt.Printf("Prompt:    %q\n", samplePrompt)
	fmt.Printf("Generated: %q\n", tok.Decode(out))
}

// selectModel resolves the in-file model constant to a builder and its
// context length.
func selectModel(vocab int) (modelBuilder, int) {
	switch modelName {
	case "bigram":
		cfg := DefaultBigramConfig(vocab)
		build := func(g *gorgonia.ExprGraph, training bool) (languageModel, error) {
			return NewBigramLanguageModel(g, cfg, training)
		}
		return build, cfg.ContextLength
	case "minigpt":
		cfg := DefaultMiniGPTConfig(vocab)
		fmt.Printf("Model: %d layers, %d heads, embed dim %d, context %d\n",
			cfg.NumLayers, cfg.NumHeads, cfg.EmbedDim, cfg.ContextLength)
		build := func(g *gorgonia.ExprGraph, training bool) (languageModel, error) {
			return NewMiniGPT(g, cfg, training)
		}
		return build, cfg.ContextLength
	default:
		log.Fatalf("invalid model name %q", modelName)
		return nil, 0
	}
}
