package rag

import (
	"math"
	"testing"
)

func TestNormalizeVector(t *testing.T) {
	vec := NormalizeVector([]float64{3, 4})
	if math.Abs(vec[0]-0.6) > 1e-9 || math.Abs(vec[1]-0.8) > 1e-9 {
		t.Fatalf("normalize [3 4] = %v", vec)
	}

	zero := NormalizeVector([]float64{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector should pass through, got %v", zero)
	}

	if out := NormalizeVector(nil); len(out) != 0 {
		t.Fatalf("nil vector should pass through, got %v", out)
	}
}

func TestCosineSimilarity(t *testing.T) {
	identical, err := CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3})
	if err != nil || math.Abs(identical-1) > 1e-9 {
		t.Fatalf("identical vectors: %f, %v", identical, err)
	}

	orthogonal, err := CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	if err != nil || math.Abs(orthogonal) > 1e-9 {
		t.Fatalf("orthogonal vectors: %f, %v", orthogonal, err)
	}

	opposite, err := CosineSimilarity([]float64{1, 0}, []float64{-1, 0})
	if err != nil || math.Abs(opposite+1) > 1e-9 {
		t.Fatalf("opposite vectors: %f, %v", opposite, err)
	}

	if _, err := CosineSimilarity([]float64{1}, []float64{1, 2}); err == nil {
		t.Fatal("dimension mismatch should error")
	}
}

func TestIsValidVector(t *testing.T) {
	if !IsValidVector([]float64{0.1, -0.2, 0.3}) {
		t.Fatal("finite vector should be valid")
	}
	if IsValidVector([]float64{math.NaN()}) {
		t.Fatal("NaN vector should be invalid")
	}
	if IsValidVector([]float64{math.Inf(1)}) {
		t.Fatal("Inf vector should be invalid")
	}
	if IsValidVector(nil) {
		t.Fatal("empty vector should be invalid")
	}
}
