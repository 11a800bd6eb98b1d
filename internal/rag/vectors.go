package rag

import (
	"fmt"
	"math"
)

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(vector []float64) []float64 {
	if len(vector) == 0 {
		return vector
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	// Avoid division by zero
	if norm == 0 {
		return vector
	}

	normalized := make([]float64, len(vector))
	for i, v := range vector {
		normalized[i] = v / norm
	}

	return normalized
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(v1, v2 []float64) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}

	if len(v1) == 0 {
		return 0, nil
	}

	var dotProduct, norm1, norm2 float64
	for i := range v1 {
		dotProduct += v1[i] * v2[i]
		norm1 += v1[i] * v1[i]
		norm2 += v2[i] * v2[i]
	}

	norm1 = math.Sqrt(norm1)
	norm2 = math.Sqrt(norm2)

	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}

	return dotProduct / (norm1 * norm2), nil
}

// IsValidVector checks if a vector is valid (no NaN or Inf values)
func IsValidVector(vector []float64) bool {
	for _, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return len(vector) > 0
}
