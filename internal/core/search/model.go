package search

import (
	"errors"

	"github.com/jinford/docqa/internal/core/document"
)

// ErrDimensionMismatch は保存済みインデックスと異なる次元のベクトルを扱おうとした場合のエラー
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// IndexedSegment はベクトル付きのセグメントを表す
type IndexedSegment struct {
	Segment document.Segment
	Vector  []float32
}

// SearchResult はベクトル検索の結果を表す
type SearchResult struct {
	Segment document.Segment
	Score   float64 // コサイン類似度（大きいほど近い）
}
