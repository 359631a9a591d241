package ask

import (
	"fmt"
	"strings"

	"github.com/jinford/docqa/internal/core/search"
)

// BuildAskPrompt は検索結果と質問から回答生成用のプロンプトを構築する
func BuildAskPrompt(query string, results []*search.SearchResult) string {
	var sb strings.Builder

	// 指示
	sb.WriteString("You are an assistant that answers questions about the user's documents.\n")
	sb.WriteString("Use only the context below to answer the question.\n")
	sb.WriteString("If the answer is not in the context, say that you don't know. Do not make up an answer.\n")
	sb.WriteString("Keep the answer concise and cite the source page numbers when possible.\n\n")

	// コンテキスト
	sb.WriteString("Context:\n")
	if len(results) > 0 {
		for _, r := range results {
			sb.WriteString(formatSourceHeader(r))
			sb.WriteString("\n")
			sb.WriteString(r.Segment.Text)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("(no relevant context found)\n\n")
	}

	// 質問
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString("Helpful answer:")

	return sb.String()
}

// formatSourceHeader は "[source, page N]" 形式のヘッダーを返す
func formatSourceHeader(r *search.SearchResult) string {
	if page, ok := r.Segment.Page.Get(); ok {
		return fmt.Sprintf("[%s, page %d]", r.Segment.SourceName, page)
	}
	return fmt.Sprintf("[%s]", r.Segment.SourceName)
}
