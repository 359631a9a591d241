package document

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize は 1 セグメントの最大文字数
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は隣接セグメント間で重複させる文字数
	DefaultChunkOverlap = 200
)

// defaultSeparators は分割に使う区切り文字（優先度順）
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter は区切り文字を再帰的に試しながら固定長の重複付きセグメントに分割する
// 長さはルーン数で数える
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter は新しい Splitter を作成する。不正な値はデフォルトに戻す。
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

// Split は Document 列をセグメント列に変換する。ページとソース名は各セグメントに引き継ぐ。
func (s *Splitter) Split(docs []Document) []Segment {
	var segments []Segment
	for _, doc := range docs {
		for _, text := range s.SplitText(doc.Content) {
			segments = append(segments, Segment{
				ID:         uuid.New(),
				Text:       text,
				SourceName: doc.SourceName,
				Page:       doc.Page,
			})
		}
	}
	return segments
}

// SplitText は 1 つのテキストを分割する
func (s *Splitter) SplitText(text string) []string {
	return s.splitText(text, s.separators)
}

func (s *Splitter) splitText(text string, separators []string) []string {
	// 最初にテキスト中に現れる区切り文字を選ぶ
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final []string
	var good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				final = append(final, t)
			}
			continue
		}
		final = append(final, s.splitText(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge は小片をチャンクサイズ以内にまとめ、末尾 overlap 文字分を次のチャンクに持ち越す
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current []string
	total := 0

	for _, piece := range pieces {
		l := runeLen(piece)
		if total+l > s.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+l > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += l
	}

	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator は区切り文字を後続片の先頭に残したまま分割する
func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, separator)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = separator + part
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
