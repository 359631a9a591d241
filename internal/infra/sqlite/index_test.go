package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
	"github.com/jinford/docqa/internal/platform/logger"
)

func seg(text, source string, page mo.Option[int], vector ...float32) search.IndexedSegment {
	return search.IndexedSegment{
		Segment: document.Segment{ID: uuid.New(), Text: text, SourceName: source, Page: page},
		Vector:  vector,
	}
}

func openTestIndex(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := OpenIndex(context.Background(), dir, WithIndexLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	idx := openTestIndex(t, dir)
	assert.True(t, Exists(dir))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, idx.Add(ctx, []search.IndexedSegment{
		seg("refunds within 30 days", "policy.pdf", mo.Some(4), 1, 0, 0),
		seg("shipping takes a week", "policy.pdf", mo.Some(5), 0, 1, 0),
		seg("contact support", "faq.txt", mo.None[int](), 0.7, 0.7, 0),
	}))

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dim, err := idx.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	results, err = idx.Search(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "refunds within 30 days", results[0].Segment.Text)
	assert.Equal(t, mo.Some(4), results[0].Segment.Page)
	assert.Equal(t, "contact support", results[1].Segment.Text)
	assert.True(t, results[1].Segment.Page.IsAbsent())
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir())

	require.NoError(t, idx.Add(ctx, []search.IndexedSegment{seg("a", "a.txt", mo.None[int](), 1, 2)}))

	err := idx.Add(ctx, []search.IndexedSegment{seg("b", "b.txt", mo.None[int](), 1, 2, 3)})
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)

	_, err = idx.Search(ctx, []float32{1, 2, 3}, 5)
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)

	// 失敗した追加は反映されない
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndex_AddIsAtomic(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir())

	dup := seg("dup", "a.txt", mo.None[int](), 1, 0)
	err := idx.Add(ctx, []search.IndexedSegment{
		seg("first", "a.txt", mo.None[int](), 0, 1),
		dup,
		dup,
	})
	require.Error(t, err)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIndex_SharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reader := openTestIndex(t, dir)
	writer := openTestIndex(t, dir)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, writer.Add(ctx, []search.IndexedSegment{
				seg("x", "x.txt", mo.None[int](), 1, 1),
				seg("y", "x.txt", mo.None[int](), 1, -1),
			}))
		}()
	}
	wg.Wait()

	// 別ハンドルからも追加済みのセグメントが見える
	n, err := reader.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestResetIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	removed, err := ResetIndex(ctx, dir)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.False(t, Exists(dir))

	server := openTestIndex(t, dir)
	require.NoError(t, server.Add(ctx, []search.IndexedSegment{seg("old", "a.txt", mo.None[int](), 1, 0, 0)}))

	removed, err = ResetIndex(ctx, dir, WithIndexLogger(logger.Discard()))
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, Exists(dir))

	n, err := server.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	dim, err := server.Dimension(ctx)
	require.NoError(t, err)
	assert.Zero(t, dim, "a reset index accepts a new dimension")

	// 別ハンドルから追加した内容が開いたままのハンドルから検索できる
	writer, err := OpenIndex(ctx, dir, WithIndexLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, writer.Add(ctx, []search.IndexedSegment{seg("new", "b.txt", mo.Some(2), 0, 1)}))
	require.NoError(t, writer.Close())

	results, err := server.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Segment.Text)
	assert.Equal(t, mo.Some(2), results[0].Segment.Page)

	removed, err = ResetIndex(ctx, dir)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = ResetIndex(ctx, dir)
	require.NoError(t, err)
	assert.False(t, removed, "already empty")
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
