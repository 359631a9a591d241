package search

import (
	"context"
)

// Index はセグメントのベクトルインデックスを表すインターフェース
type Index interface {
	// Add はセグメントを 1 トランザクションで追加する。途中で失敗した場合は何も追加されない。
	Add(ctx context.Context, segments []IndexedSegment) error

	// Search はクエリベクトルに近い順に最大 k 件を返す
	Search(ctx context.Context, vector []float32, k int) ([]*SearchResult, error)

	// Count は登録済みセグメント数を返す
	Count(ctx context.Context) (int, error)

	// Dimension はインデックスのベクトル次元を返す（未作成なら 0）
	Dimension(ctx context.Context) (int, error)

	// Close はインデックスを閉じる
	Close() error
}
