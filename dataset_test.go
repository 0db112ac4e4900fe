package main

import (
	"math/rand"
	"testing"
)

func TestDatasetWindowsShiftTargetsByOne(t *testing.T) {
	tokens := make([]int, 100)
	for i := range tokens {
		tokens[i] = i
	}

	d, err := NewDataset(tokens, 10)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	// starts 0,10,...,80: the chunk at 90 has no token 101 to shift into.
	if d.Len() != 9 {
		t.Fatalf("expected 9 windows, got %d", d.Len())
	}

	for i := 0; i < d.Len(); i++ {
		w := d.At(i)
		if len(w.Input) != 10 || len(w.Target) != 10 {
			t.Fatalf("window %d has lengths %d/%d, want 10/10", i, len(w.Input), len(w.Target))
		}
		for j := range w.Input {
			if w.Target[j] != w.Input[j]+1 {
				t.Errorf("window %d pos %d: target %d, want %d", i, j, w.Target[j], w.Input[j]+1)
			}
		}
	}
}

func TestDatasetTooShort(t *testing.T) {
	if _, err := NewDataset([]int{1, 2, 3}, 10); err == nil {
		t.Error("expected error for stream shorter than one window")
	}
	if _, err := NewDataset([]int{1, 2, 3}, 0); err == nil {
		t.Error("expected error for non-positive context length")
	}
}

func TestDatasetSplit(t *testing.T) {
	tokens := make([]int, 1001)
	d, err := NewDataset(tokens, 10)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	train, eval := d.Split(0.9)
	if train.Len()+eval.Len() != d.Len() {
		t.Errorf("split lost windows: %d + %d != %d", train.Len(), eval.Len(), d.Len())
	}
	if train.Len() == 0 || eval.Len() == 0 {
		t.Errorf("split produced an empty side: %d / %d", train.Len(), eval.Len())
	}
}

func TestDatasetShufflePreservesWindows(t *testing.T) {
	tokens := make([]int, 101)
	for i := range tokens {
		tokens[i] = i
	}
	d, err := NewDataset(tokens, 10)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	before := make(map[int]bool)
	for i := 0; i < d.Len(); i++ {
		before[d.At(i).Input[0]] = true
	}

	d.Shuffle(rand.New(rand.NewSource(1)))

	after := make(map[int]bool)
	for i := 0; i < d.Len(); i++ {
		after[d.At(i).Input[0]] = true
	}
	if len(after) != len(before) {
		t.Fatalf("shuffle changed the window set: %d vs %d", len(after), len(before))
	}
	for k := range before {
		if !after[k] {
			t.Errorf("window starting at %d lost in shuffle", k)
		}
	}
}
