package openai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/platform/logger"
)

// wordCounter は単語数をトークン数とみなすテスト用 TokenCounter
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

var errThrottled = errors.New("throttled")

func newTestEmbedder(opts ...EmbedderOption) *Embedder {
	e := NewEmbedder("dummy-key", append([]EmbedderOption{WithEmbedderLogger(logger.Discard())}, opts...)...)
	e.retry = retryPolicy{
		maxRetries: 2,
		base:       time.Millisecond,
		max:        2 * time.Millisecond,
		retryable:  func(err error) bool { return errors.Is(err, errThrottled) },
	}
	return e
}

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, MaxInputsPerRequest, embedder.MaxBatchSize())
}

func TestEmbedder_BatchEmbed_SplitsByInputCount(t *testing.T) {
	e := newTestEmbedder()

	var sizes []int
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		sizes = append(sizes, len(inputs))
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = []float32{float32(len(in))}
		}
		return out, nil
	}

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("x", i%7+1)
	}

	vectors, err := e.BatchEmbed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, sizes)
	require.Len(t, vectors, 250)
	assert.Equal(t, []float32{float32(len(texts[123]))}, vectors[123])
}

func TestEmbedder_BatchEmbed_SplitsByTokenBudget(t *testing.T) {
	e := newTestEmbedder(WithTokenCounter(wordCounter{}))

	var sizes []int
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		sizes = append(sizes, len(inputs))
		return make([][]float32, len(inputs)), nil
	}

	// 1 入力あたり 8191 トークンに切り詰められるため、30 入力で 250k を超える
	big := strings.TrimSpace(strings.Repeat("w ", 9000))
	texts := make([]string, 32)
	for i := range texts {
		texts[i] = big
	}

	_, err := e.BatchEmbed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 2}, sizes)
}

func TestEmbedder_BatchEmbed_TruncatesLongInputs(t *testing.T) {
	e := newTestEmbedder(WithTokenCounter(wordCounter{}))

	var got []string
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		got = append(got, inputs...)
		return make([][]float32, len(inputs)), nil
	}

	long := strings.TrimSpace(strings.Repeat("token ", MaxTokensPerInput+50))
	_, err := e.BatchEmbed(context.Background(), []string{long, "short text"})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, MaxTokensPerInput, len(strings.Fields(got[0])))
	assert.Equal(t, "short text", got[1])
}

func TestEmbedder_BatchEmbed_RetriesRateLimit(t *testing.T) {
	e := newTestEmbedder()

	calls := 0
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		calls++
		if calls < 3 {
			return nil, errThrottled
		}
		return [][]float32{{1, 2}}, nil
	}

	vector, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vector)
	assert.Equal(t, 3, calls)
}

func TestEmbedder_BatchEmbed_GivesUpAfterMaxRetries(t *testing.T) {
	e := newTestEmbedder()

	calls := 0
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		calls++
		return nil, errThrottled
	}

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 3, calls)
}

func TestEmbedder_BatchEmbed_NonRetryableError(t *testing.T) {
	e := newTestEmbedder()

	boom := errors.New("invalid model")
	calls := 0
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		calls++
		return nil, boom
	}

	_, err := e.BatchEmbed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	_, err := newTestEmbedder().BatchEmbed(context.Background(), nil)
	assert.Error(t, err)
}

func TestEmbedder_RateLimiterHonoursContext(t *testing.T) {
	e := newTestEmbedder(WithRequestsPerSecond(0.001))
	e.create = func(ctx context.Context, inputs []string) ([][]float32, error) {
		return make([][]float32, len(inputs)), nil
	}

	// 1 回目はバーストで即時に通る
	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Embed(ctx, "second")
	assert.Error(t, err)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := defaultRetryPolicy()
	assert.Equal(t, 2*time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(2))
	assert.Equal(t, 32*time.Second, p.backoff(10))
}
