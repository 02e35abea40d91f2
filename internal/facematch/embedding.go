// Package facematch provides the vector math and geometry shared by the identity index,
// the recognition stream and the management API.
package facematch

import "math"

// zeroNormEpsilon is the norm below which a vector is treated as zero.
const zeroNormEpsilon = 1e-12

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a copy of v scaled to unit Euclidean norm.
// A vector with numerically zero norm is returned unchanged (as a copy).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n < zeroNormEpsilon {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// IsUnit reports whether v has unit norm within tol.
func IsUnit(v []float32, tol float64) bool {
	return math.Abs(Norm(v)-1) <= tol
}

// L2Distance computes the Euclidean distance between a and b.
// Returns +Inf for vectors of different length.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// SimilarityFromL2 converts the Euclidean distance between two unit vectors
// into their cosine similarity: 1 - d²/2, clamped to [-1, 1].
func SimilarityFromL2(d float64) float64 {
	s := 1 - (d*d)/2
	// Clamp to [-1, 1] to absorb floating point error
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// CosineSimilarity computes the cosine similarity between two vectors of any norm.
// Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
