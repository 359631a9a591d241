package search

import (
	"math"
	"sort"
)

// CosineSimilarity は 2 つのベクトルのコサイン類似度を返す
// 長さが異なる場合やゼロベクトルの場合は 0 を返す
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK はスコアの降順で上位 k 件を返す。同点の場合は元の順序を保つ。
func TopK(results []*SearchResult, k int) []*SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
