package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
)

// IndexFileName は VECTOR_INDEX_PATH 配下のインデックスファイル名
const IndexFileName = "index.sqlite3"

const indexSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	source_name TEXT NOT NULL,
	page        INTEGER,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
`

// IndexPath はディレクトリ配下のインデックスファイルのパスを返す
func IndexPath(dir string) string {
	return filepath.Join(dir, IndexFileName)
}

// Exists はインデックスファイルが存在するかを返す
func Exists(dir string) bool {
	info, err := os.Stat(IndexPath(dir))
	return err == nil && !info.IsDir()
}

// ResetIndex はインデックスを空にする。インデックスが存在しないか空の場合は false を返す。
// ファイルは削除しないため、他プロセスが開いているハンドルも同じファイルを参照し続ける。
func ResetIndex(ctx context.Context, dir string, opts ...IndexOption) (bool, error) {
	if !Exists(dir) {
		return false, nil
	}
	idx, err := OpenIndex(ctx, dir, opts...)
	if err != nil {
		return false, err
	}
	defer idx.Close()
	return idx.Reset(ctx)
}

// Index は SQLite に保存する総当たりコサイン検索のベクトルインデックス
type Index struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

type IndexOption func(*Index)

// WithIndexLogger は Index にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) {
		i.logger = logger
	}
}

// OpenIndex はインデックスを開く。存在しない場合は作成する。
func OpenIndex(ctx context.Context, dir string, opts ...IndexOption) (*Index, error) {
	path := IndexPath(dir)
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	idx := &Index{db: db, path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx, nil
}

// Path はインデックスファイルのパスを返す
func (i *Index) Path() string {
	return i.path
}

// Add はセグメントを 1 トランザクションで追加する
func (i *Index) Add(ctx context.Context, segments []search.IndexedSegment) error {
	if len(segments) == 0 {
		return nil
	}

	dim := len(segments[0].Vector)
	if dim == 0 {
		return fmt.Errorf("empty embedding vector")
	}
	for _, s := range segments {
		if len(s.Vector) != dim {
			return fmt.Errorf("%w: mixed dimensions %d and %d in one batch", search.ErrDimensionMismatch, dim, len(s.Vector))
		}
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// 最初に書き込みを行い、書き込みロックを先に確保する
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('dimension', ?) ON CONFLICT(key) DO NOTHING`,
		strconv.Itoa(dim),
	); err != nil {
		return fmt.Errorf("saving dimension: %w", err)
	}

	stored, err := readDimension(ctx, tx)
	if err != nil {
		return err
	}
	if stored != dim {
		return fmt.Errorf("%w: index has %d, got %d", search.ErrDimensionMismatch, stored, dim)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (id, source_name, page, content, embedding)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range segments {
		var page sql.NullInt64
		if p, ok := s.Segment.Page.Get(); ok {
			page = sql.NullInt64{Int64: int64(p), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			s.Segment.ID.String(),
			s.Segment.SourceName,
			page,
			s.Segment.Text,
			float32SliceToBytes(s.Vector),
		); err != nil {
			return fmt.Errorf("saving segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	i.logger.Debug("segments appended", "count", len(segments), "dimension", dim)
	return nil
}

// Search はコサイン類似度の高い順に最大 k 件を返す
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]*search.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	stored, err := readDimension(ctx, i.db)
	if err != nil {
		return nil, err
	}
	if stored == 0 {
		return nil, nil
	}
	if stored != len(vector) {
		return nil, fmt.Errorf("%w: index has %d, query has %d", search.ErrDimensionMismatch, stored, len(vector))
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT id, source_name, page, content, embedding
		FROM segments
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer rows.Close()

	var results []*search.SearchResult
	for rows.Next() {
		var (
			id, source, content string
			page                sql.NullInt64
			blob                []byte
		)
		if err := rows.Scan(&id, &source, &page, &content, &blob); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}

		segID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing segment id: %w", err)
		}

		seg := document.Segment{
			ID:         segID,
			Text:       content,
			SourceName: source,
		}
		if page.Valid {
			seg.Page = mo.Some(int(page.Int64))
		}

		results = append(results, &search.SearchResult{
			Segment: seg,
			Score:   search.CosineSimilarity(vector, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating segments: %w", err)
	}

	return search.TopK(results, k), nil
}

// Count は登録済みセグメント数を返す
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting segments: %w", err)
	}
	return n, nil
}

// Dimension はインデックスのベクトル次元を返す（未登録なら 0）
func (i *Index) Dimension(ctx context.Context) (int, error) {
	return readDimension(ctx, i.db)
}

// Reset は全セグメントと次元情報を削除する
func (i *Index) Reset(ctx context.Context) (bool, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM segments`)
	if err != nil {
		return false, fmt.Errorf("deleting segments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted segments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
		return false, fmt.Errorf("deleting index metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	i.logger.Info("index reset", "deleted", n)
	return n > 0, nil
}

// Close はデータベース接続を閉じる
func (i *Index) Close() error {
	return i.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDimension(ctx context.Context, q queryRower) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dimension'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", value, err)
	}
	return dim, nil
}

// インターフェース実装の確認
var _ search.Index = (*Index)(nil)
