package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
)

const (
	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// retryPolicy はレート制限時のリトライ設定
type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	retryable  func(error) bool
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries: MaxRetries,
		base:       BaseBackoff,
		max:        MaxBackoff,
		retryable:  isRateLimitError,
	}
}

// backoff は attempt 回目（1 始まり）の待機時間を返す
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.base
	if d > p.max {
		d = p.max
	}
	return d
}

// do は fn を実行し、レート制限エラーの場合は Exponential Backoff でリトライする
func do[T any](ctx context.Context, p retryPolicy, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt)
			logger.Warn("rate limited by provider, retrying", "attempt", attempt, "wait", wait)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}
