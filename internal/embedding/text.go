package embedding

import (
	"math"
	"strings"
)

// Preprocess collapses whitespace, trims and truncates text to maxLength characters.
// Truncation is a rough token-budget proxy, not tokenization.
func Preprocess(text string, maxLength int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if maxLength <= 0 {
		return cleaned
	}

	runes := []rune(cleaned)
	if len(runes) <= maxLength {
		return cleaned
	}
	return string(runes[:maxLength])
}

// Normalize scales vec to unit L2 length in place. Zero vectors are left untouched.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	norm := math.Sqrt(sum)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}

// IsZero reports whether vec is the "unembedded" sentinel (all components zero).
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// toFloat32 converts []float64 to []float32.
// Remote APIs return float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
