package main

import (
	"fmt"
	"math/rand"
)

// Window is one training example: Target is Input shifted one token left.
type Window struct {
	Input  []int
	Target []int
}

// Dataset holds fixed-length next-token windows over an encoded token stream.
type Dataset struct {
	windows []Window
}

// NewDataset chunks tokens into non-overlapping windows of contextLength.
// Each window needs contextLength+1 tokens so the target can shift by one;
// the trailing remainder that cannot fill a window is dropped.
func NewDataset(tokens []int, contextLength int) (*Dataset, error) {
	if contextLength <= 0 {
		return nil, fmt.Errorf("dataset: context length must be positive, got %d", contextLength)
	}
	if len(tokens) < contextLength+1 {
		return nil, fmt.Errorf("dataset: need at least %d tokens, got %d", contextLength+1, len(tokens))
	}

	var windows []Window
	for start := 0; start+contextLength+1 <= len(tokens); start += contextLength {
		chunk := tokens[start : start+contextLength+1]
		in := make([]int, contextLength)
		tgt := make([]int, contextLength)
		copy(in, chunk[:contextLength])
		copy(tgt, chunk[1:])
		windows = append(windows, Window{Input: in, Target: tgt})
	}
	return &Dataset{windows: windows}, nil
}

// Split partitions the windows into train and eval sets. frac is the train
// share; the split is positional so eval text never leaks into training.
func (d *Dataset) Split(frac float64) (train, eval *Dataset) {
	cut := int(float64(len(d.windows)) * frac)
	if cut < 1 {
		cut = 1
	}
	if cut > len(d.windows) {
		cut = len(d.windows)
	}
	return &Dataset{windows: d.windows[:cut]}, &Dataset{windows: d.windows[cut:]}
}

func (d *Dataset) Len() int { return len(d.windows) }

func (d *Dataset) At(i int) Window { return d.windows[i] }

// Shuffle permutes the windows in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.windows), func(i, j int) {
		d.windows[i], d.windows[j] = d.windows[j], d.windows[i]
	})
}
