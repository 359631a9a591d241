package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
	"github.com/jinford/docqa/internal/platform/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS docqa_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS docqa_segments (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	source_name TEXT NOT NULL,
	page        INTEGER,
	content     TEXT NOT NULL,
	embedding   vector NOT NULL
);
`

// segmentsLockID は docqa_segments への書き込みを直列化するアドバイザリロック
var segmentsLockID = database.GenerateLockID("docqa", "segments")

// Index は pgvector を使ったベクトルインデックス
type Index struct {
	db     *database.Database
	logger *slog.Logger
}

type IndexOption func(*Index)

// WithIndexLogger は Index にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex はスキーマを作成して Index を返す
func NewIndex(ctx context.Context, db *database.Database, opts ...IndexOption) (*Index, error) {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	idx := &Index{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx, nil
}

// インターフェース実装の確認
var _ search.Index = (*Index)(nil)

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

	_, err := database.Transact(ctx, i.db, func(tx pgx.Tx) (struct{}, error) {
		if err := database.AcquireXactLock(ctx, tx, segmentsLockID); err != nil {
			return struct{}{}, err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO docqa_meta (key, value) VALUES ('dimension', $1) ON CONFLICT (key) DO NOTHING`,
			strconv.Itoa(dim),
		); err != nil {
			return struct{}{}, fmt.Errorf("failed to save dimension: %w", err)
		}

		stored, err := readDimension(ctx, tx)
		if err != nil {
			return struct{}{}, err
		}
		if stored != dim {
			return struct{}{}, fmt.Errorf("%w: index has %d, got %d", search.ErrDimensionMismatch, stored, dim)
		}

		batch := &pgx.Batch{}
		for _, s := range segments {
			batch.Queue(`
				INSERT INTO docqa_segments (id, source_name, page, content, embedding)
				VALUES ($1, $2, $3, $4, $5)
			`,
				UUIDToPgtype(s.Segment.ID),
				s.Segment.SourceName,
				PageToPgtype(s.Segment.Page),
				s.Segment.Text,
				pgvector.NewVector(s.Vector),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("failed to insert segments: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	i.logger.Debug("segments appended", "count", len(segments), "dimension", dim)
	return nil
}

// Search はコサイン距離 (<=>) の小さい順に最大 k 件を返す
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]*search.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	stored, err := readDimension(ctx, i.db.Pool)
	if err != nil {
		return nil, err
	}
	if stored == 0 {
		return nil, nil
	}
	if stored != len(vector) {
		return nil, fmt.Errorf("%w: index has %d, query has %d", search.ErrDimensionMismatch, stored, len(vector))
	}

	rows, err := i.db.Pool.Query(ctx, `
		SELECT id, source_name, page, content, 1 - (embedding <=> $1) AS score
		FROM docqa_segments
		ORDER BY embedding <=> $1, seq
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search segments: %w", err)
	}
	defer rows.Close()

	var results []*search.SearchResult
	for rows.Next() {
		var (
			id      pgtype.UUID
			source  string
			page    pgtype.Int4
			content string
			score   float64
		)
		if err := rows.Scan(&id, &source, &page, &content, &score); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		results = append(results, &search.SearchResult{
			Segment: document.Segment{
				ID:         PgtypeToUUID(id),
				Text:       content,
				SourceName: source,
				Page:       PgtypeToPage(page),
			},
			Score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}
	return results, nil
}

// Count は登録済みセグメント数を返す
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int64
	if err := i.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM docqa_segments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count segments: %w", err)
	}
	return int(n), nil
}

// Dimension はインデックスのベクトル次元を返す（未登録なら 0）
func (i *Index) Dimension(ctx context.Context) (int, error) {
	return readDimension(ctx, i.db.Pool)
}

// Reset は全セグメントと次元情報を削除する
func (i *Index) Reset(ctx context.Context) (bool, error) {
	return database.Transact(ctx, i.db, func(tx pgx.Tx) (bool, error) {
		if err := database.AcquireXactLock(ctx, tx, segmentsLockID); err != nil {
			return false, err
		}
		var n int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM docqa_segments`).Scan(&n); err != nil {
			return false, fmt.Errorf("failed to count segments: %w", err)
		}
		if _, err := tx.Exec(ctx, `TRUNCATE docqa_segments, docqa_meta`); err != nil {
			return false, fmt.Errorf("failed to truncate index: %w", err)
		}
		return n > 0, nil
	})
}

// Close は何もしない（接続プールは呼び出し側が閉じる）
func (i *Index) Close() error {
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readDimension(ctx context.Context, q queryRower) (int, error) {
	var value string
	err := q.QueryRow(ctx, `SELECT value FROM docqa_meta WHERE key = 'dimension'`).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", value, err)
	}
	return dim, nil
}
