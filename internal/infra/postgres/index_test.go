package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
	"github.com/jinford/docqa/internal/platform/database"
	"github.com/jinford/docqa/internal/platform/logger"
)

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動する。
// -short 指定時や Docker が使えない環境ではスキップする。
func startPostgres(t *testing.T) *database.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("DOCQA_SKIP_DOCKER") != "" {
		t.Skip("DOCQA_SKIP_DOCKER is set")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	pool.MaxWait = 60 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=docqa",
			"POSTGRES_PASSWORD=docqa",
			"POSTGRES_DB=docqa",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(120)

	var port int
	_, err = fmt.Sscanf(resource.GetPort("5432/tcp"), "%d", &port)
	require.NoError(t, err)

	params := database.ConnectionParams{
		Host:     "localhost",
		Port:     port,
		User:     "docqa",
		Password: "docqa",
		DBName:   "docqa",
		SSLMode:  "disable",
	}

	var db *database.Database
	require.NoError(t, pool.Retry(func() error {
		var err error
		db, err = database.New(context.Background(), params)
		return err
	}))
	t.Cleanup(db.Close)
	return db
}

func indexed(text string, page mo.Option[int], vector ...float32) search.IndexedSegment {
	return search.IndexedSegment{
		Segment: document.Segment{ID: uuid.New(), Text: text, SourceName: "policy.pdf", Page: page},
		Vector:  vector,
	}
}

func TestIndex_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	idx, err := NewIndex(ctx, db, WithIndexLogger(logger.Discard()))
	require.NoError(t, err)

	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, idx.Add(ctx, []search.IndexedSegment{
		indexed("refunds", mo.Some(1), 1, 0),
		indexed("shipping", mo.None[int](), 0, 1),
	}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err = idx.Search(ctx, []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "refunds", results[0].Segment.Text)
	assert.Equal(t, mo.Some(1), results[0].Segment.Page)
	assert.InDelta(t, 0.99, results[0].Score, 0.01)

	err = idx.Add(ctx, []search.IndexedSegment{indexed("bad", mo.None[int](), 1, 2, 3)})
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)

	removed, err := idx.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, removed)

	dim, err := idx.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)
}

func TestPageConversion(t *testing.T) {
	assert.Equal(t, mo.Some(3), PgtypeToPage(PageToPgtype(mo.Some(3))))
	assert.True(t, PgtypeToPage(PageToPgtype(mo.None[int]())).IsAbsent())

	id := uuid.New()
	assert.Equal(t, id, PgtypeToUUID(UUIDToPgtype(id)))
}
