package memory

import "math"

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (as a copy).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Dot returns the dot product of a and b over their common length.
func Dot(a, b []float32) float64 {
	length := len(a)
	if len(b) < length {
		length = len(b)
	}
	var dot float64
	for i := 0; i < length; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// updateCentroid folds vec (unit length) into a prototype whose mean is
// centroid*meanNorm over n members. It returns the new centroid and the
// norm of the new mean.
func updateCentroid(centroid []float32, meanNorm float64, n int, vec []float32) ([]float32, float64) {
	sum := make([]float64, len(centroid))
	for i := range centroid {
		sum[i] = float64(centroid[i])*meanNorm*float64(n) + float64(vec[i])
	}
	var sq float64
	for _, x := range sum {
		sq += x * x
	}
	length := math.Sqrt(sq)
	out := make([]float32, len(sum))
	if length == 0 {
		return out, 0
	}
	for i, x := range sum {
		out[i] = float32(x / length)
	}
	return out, length / float64(n+1)
}
