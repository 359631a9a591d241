package ask

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNotReady はまだパイプラインが公開されていない場合のエラー
var ErrNotReady = errors.New("query pipeline is not ready")

// Holder は現在公開中の Pipeline を 1 つだけ保持する
// 読み取りはロックなしで行い、差し替えはポインタの入れ替えで行う
type Holder struct {
	current atomic.Pointer[Pipeline]
	version atomic.Uint64
}

func NewHolder() *Holder {
	return &Holder{}
}

// Publish は Pipeline に世代番号を付与して公開し、その番号を返す
func (h *Holder) Publish(p *Pipeline) uint64 {
	p.version = h.version.Add(1)
	h.current.Store(p)
	return p.version
}

// Current は現在の Pipeline を返す
func (h *Holder) Current() (*Pipeline, bool) {
	p := h.current.Load()
	return p, p != nil
}

// Ready は Pipeline が公開済みかどうかを返す
func (h *Holder) Ready() bool {
	return h.current.Load() != nil
}

// Answer は現在の Pipeline で回答を生成する
func (h *Holder) Answer(ctx context.Context, query string) (*AskResult, error) {
	p := h.current.Load()
	if p == nil {
		return nil, ErrNotReady
	}
	return p.Answer(ctx, query)
}
