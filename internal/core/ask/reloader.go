package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jinford/docqa/internal/core/search"
)

// ErrEmptyIndex はインデックスにセグメントが 1 件もない場合のエラー
var ErrEmptyIndex = errors.New("vector index is empty")

// IndexOpener はインデックスの新しいハンドルを開く
type IndexOpener func(ctx context.Context) (search.Index, error)

// Reloader はインデックスから新しい Pipeline を構築して Holder に公開する
type Reloader struct {
	holder   *Holder
	embedder search.Embedder
	llm      LLMClient
	open     IndexOpener
	logger   *slog.Logger

	mu      sync.Mutex
	index   search.Index
	owned   bool         // index を Reloader が開いた場合 true
	retired search.Index // 1 世代前のハンドル。次の公開時に閉じる
}

type ReloaderOption func(*Reloader)

// WithReloaderLogger は Reloader にロガーを設定する
func WithReloaderLogger(logger *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithIndexOpener は Reload ごとにインデックスを開き直す関数を設定する。
// 取り込みプロセスがインデックスファイルを作り直した場合も新しい内容を検索できる。
func WithIndexOpener(open IndexOpener) ReloaderOption {
	return func(r *Reloader) {
		r.open = open
	}
}

// NewReloader は新しいReloaderを作成する
func NewReloader(holder *Holder, index search.Index, embedder search.Embedder, llm LLMClient, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		holder:   holder,
		index:    index,
		embedder: embedder,
		llm:      llm,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// Reload は新しい Pipeline を構築して公開する
// 失敗した場合や空のインデックスの場合は、公開中の Pipeline をそのまま残す
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, fresh, err := r.acquire(ctx)
	if err != nil {
		return err
	}

	count, err := index.Count(ctx)
	if err != nil {
		r.discard(index, fresh)
		return fmt.Errorf("failed to count index: %w", err)
	}
	if count == 0 {
		r.discard(index, fresh)
		return ErrEmptyIndex
	}

	retriever := search.NewRetriever(index, r.embedder, search.WithRetrieverLogger(r.logger))
	p := NewPipeline(retriever, r.llm,
		WithPipelineLogger(r.logger),
		WithSegmentCount(count),
	)
	version := r.holder.Publish(p)

	if fresh {
		r.swap(index)
	}

	r.logger.Info("query pipeline published", "version", version, "segments", count)
	return nil
}

// Close は Reloader が開いたハンドルをすべて閉じる
func (r *Reloader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.retired != nil {
		errs = append(errs, r.retired.Close())
		r.retired = nil
	}
	if r.owned && r.index != nil {
		errs = append(errs, r.index.Close())
		r.index = nil
		r.owned = false
	}
	return errors.Join(errs...)
}

// acquire は今回の構築に使うインデックスを返す。fresh は新しく開いたハンドルかどうか。
func (r *Reloader) acquire(ctx context.Context) (search.Index, bool, error) {
	if r.open == nil {
		return r.index, false, nil
	}
	index, err := r.open(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open index: %w", err)
	}
	if index == r.index {
		return index, false, nil
	}
	return index, true, nil
}

func (r *Reloader) discard(index search.Index, fresh bool) {
	if !fresh {
		return
	}
	if err := index.Close(); err != nil {
		r.logger.Warn("failed to close unused index handle", "error", err)
	}
}

// swap は公開したハンドルを現在のものにする。
// 置き換えたハンドルは実行中の問い合わせのために 1 世代残し、その前の世代を閉じる。
func (r *Reloader) swap(index search.Index) {
	if r.retired != nil {
		if err := r.retired.Close(); err != nil {
			r.logger.Warn("failed to close retired index handle", "error", err)
		}
		r.retired = nil
	}
	if r.owned {
		r.retired = r.index
	}
	r.index = index
	r.owned = true
}
