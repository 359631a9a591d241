package document

import (
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Document はローダーが返す正規化済みテキスト単位を表す
// PDF はページごとに 1 件、TXT/DOCX はファイル全体で 1 件になる
type Document struct {
	Content    string         // 抽出済みテキスト
	SourceName string         // 元ファイルのベース名
	Page       mo.Option[int] // 1 始まりのページ番号（PDF のみ）
}

// Segment は検索単位となる文書の断片を表す。作成後は変更しない。
type Segment struct {
	ID         uuid.UUID
	Text       string
	SourceName string
	Page       mo.Option[int]
}

// PagePtr は JSON 等で扱いやすいようページ番号をポインタで返す
func (s Segment) PagePtr() *int {
	if p, ok := s.Page.Get(); ok {
		return &p
	}
	return nil
}
