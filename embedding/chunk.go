package embedding

import (
	"math"
	"strings"
)

// MaxChunkTokens is the per-chunk token budget before mean-pooling kicks in.
const MaxChunkTokens = 512

// Chunk splits text into whitespace-token chunks of at most MaxChunkTokens
// each. The core has no tokenizer of its own — it counts whitespace-split
// words as a token proxy, which is the same granularity MlBridge.
// generate_embedding ultimately re-tokenizes with the real model
// tokenizer; this chunking only needs to keep each call within a size the
// model can accept, not match its tokenizer exactly.
func Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(words); i += MaxChunkTokens {
		end := i + MaxChunkTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// MeanPool averages a set of equal-length vectors element-wise and
// L2-normalizes the result, implementing the "mean-pooled... L2-normalizes"
// step of embed_fast/embed_accurate.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	n := float64(len(vectors))
	out := make([]float32, dim)
	var sumSq float64
	for i := range sum {
		avg := sum[i] / n
		out[i] = float32(avg)
		sumSq += avg * avg
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
