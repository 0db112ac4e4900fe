package main

import (
	"math"
	"testing"

	exprand "golang.org/x/exp/rand"
)

func TestSoftmaxTempSumsToOne(t *testing.T) {
	logits := []float32{2, 0, -1, 3.5}
	for _, temp := range []float32{0.5, 1, 2} {
		probs := softmaxTemp(logits, temp)
		var sum float64
		for _, p := range probs {
			if p < 0 {
				t.Fatalf("negative probability at temp %v: %v", temp, p)
			}
			sum += float64(p)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("temp %v: probabilities sum to %v, want 1", temp, sum)
		}
	}
}

func TestSoftmaxTempSharpens(t *testing.T) {
	logits := []float32{1, 2, 3}
	cold := softmaxTemp(logits, 0.5)
	hot := softmaxTemp(logits, 2)
	// lower temperature concentrates mass on the argmax
	if cold[2] <= hot[2] {
		t.Errorf("expected cold[2] > hot[2], got %v vs %v", cold[2], hot[2])
	}
}

func TestTopKRestrictsSupport(t *testing.T) {
	probs := []float32{0.1, 0.4, 0.05, 0.3, 0.15}
	out := topK(probs, 2)

	var sum float64
	nonzero := 0
	for _, p := range out {
		if p > 0 {
			nonzero++
		}
		sum += float64(p)
	}
	if nonzero != 2 {
		t.Errorf("expected 2 surviving tokens, got %d", nonzero)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("top-k probabilities sum to %v, want 1", sum)
	}
	if out[1] == 0 || out[3] == 0 {
		t.Errorf("top-k dropped the two most likely tokens: %v", out)
	}
}

func TestTopPRestrictsSupport(t *testing.T) {
	probs := []float32{0.5, 0.3, 0.1, 0.05, 0.05}
	out := topP(probs, 0.7)

	if out[0] == 0 || out[1] == 0 {
		t.Errorf("top-p dropped tokens inside the nucleus: %v", out)
	}
	if out[3] != 0 || out[4] != 0 {
		t.Errorf("top-p kept tokens outside the nucleus: %v", out)
	}

	var sum float64
	for _, p := range out {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("top-p probabilities sum to %v, want 1", sum)
	}
}

func TestMultinomialRespectsSupport(t *testing.T) {
	src := exprand.NewSource(42)
	probs := []float32{0, 0.5, 0.5, 0}

	for i := 0; i < 200; i++ {
		id, err := multinomial(probs, src)
		if err != nil {
			t.Fatalf("multinomial: %v", err)
		}
		if id != 1 && id != 2 {
			t.Fatalf("drew zero-probability token %d", id)
		}
	}
}

func TestMultinomialRejectsDegenerate(t *testing.T) {
	src := exprand.NewSource(42)
	if _, err := multinomial([]float32{0, 0}, src); err == nil {
		t.Error("expected error for all-zero distribution")
	}
	if _, err := multinomial([]float32{-1, 2}, src); err == nil {
		t.Error("expected error for negative probability")
	}
}

func TestApplyRepetitionPenalty(t *testing.T) {
	probs := []float32{0.25, 0.25, 0.25, 0.25}
	seen := map[int]int{1: 3}
	out := applyRepetitionPenalty(probs, seen, 1.0)

	if out[1] >= out[0] {
		t.Errorf("repeated token should lose mass: %v", out)
	}
	var sum float64
	for _, p := range out {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("penalized probabilities sum to %v, want 1", sum)
	}
}
