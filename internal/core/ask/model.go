package ask

import (
	"github.com/samber/mo"
)

// AskResult は質問応答の結果を表す
type AskResult struct {
	Answer  string            // LLMによる回答（加工しない）
	Sources []SourceReference // 検索順位順の根拠セグメント
}

// SourceReference は回答の根拠となったセグメントを表す
type SourceReference struct {
	Text       string         // セグメント本文（全文）
	SourceName string         // ファイル名
	Page       mo.Option[int] // ページ番号（PDF のみ）
	Score      float64        // 関連度スコア
}
