package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/internal/vector/memory"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)%7 + 1), 1, 0.5}
	}
	return out, nil
}

type fakeThemes struct{}

func (fakeThemes) Themes(text string) []string { return []string{"waistband"} }

type recordingGraph struct {
	mu      sync.Mutex
	indexed []string
}

func (g *recordingGraph) IndexReview(ctx context.Context, reviewID, productID string, rating float64, themes []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexed = append(g.indexed, reviewID)
	return nil
}

func setup(t *testing.T, emb *fakeEmbedder, opts Options) (*Processor, *sqlite.Client, *memory.Index) {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	idx, err := memory.New("reviews", "")
	require.NoError(t, err)

	return NewProcessor(db, idx, emb, opts), db, idx
}

func TestBulkUpsertNormalizesAndDedupes(t *testing.T) {
	emb := &fakeEmbedder{}
	graph := &recordingGraph{}
	p, db, idx := setup(t, emb, Options{BatchSize: 2, Themes: fakeThemes{}, Graph: graph})
	ctx := context.Background()

	raw := []RawReview{
		{ProductID: "X", AuthorName: "placeholder", Rating: 0, CreatedAt: "2024-05-01T10:00:00Z",
			Body: `{'authorProfile': {'displayName': 'Abby M.'}, 'rating': 4, 'body': 'Smooth under dresses'}`},
		{ProductID: "X", AuthorName: "Kim", Rating: 5, Body: "Runs small, size up", CreatedAt: "2024-05-02"},
		{ProductID: "X", AuthorName: " kim ", Rating: 5, Body: "runs small size up"},
		{ProductID: "X", AuthorName: "Lee", Rating: 3, Body: "   "},
		{ProductID: "Y", ExternalID: "ext-1", AuthorName: "Jo", Rating: 9, Body: "Soft fabric"},
	}

	res, err := p.BulkUpsert(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 2, emb.calls)
	assert.Len(t, graph.indexed, 3)

	stored, err := db.ListReviews(ctx, sqlite.ReviewFilter{ProductID: "X"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	var abby models.Review
	for _, r := range stored {
		if r.AuthorName == "Abby M." {
			abby = r
		}
	}
	assert.Equal(t, "Smooth under dresses", abby.Body)
	assert.Equal(t, 4.0, abby.Rating)

	others, err := db.ListReviews(ctx, sqlite.ReviewFilter{ProductID: "Y"})
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, 5.0, others[0].Rating)

	seeded, err := db.GetSetting(ctx, models.SettingReviewsSeeded)
	require.NoError(t, err)
	assert.Equal(t, "true", seeded.Value)
	_, err = db.GetSetting(ctx, models.SettingLastUploadAt)
	assert.NoError(t, err)

	again, err := p.BulkUpsert(ctx, raw[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 2, again.Skipped)
}

func TestBulkUpsertEmbeddingFailureStoresNothing(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("quota")}
	p, db, idx := setup(t, emb, Options{})

	_, err := p.BulkUpsert(context.Background(), []RawReview{{AuthorName: "A", Body: "Nice", Rating: 5}})
	require.Error(t, err)

	n, err := db.CountReviews(context.Background(), sqlite.ReviewFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, idx.Count())
}

func TestNormalizeAndDedupe(t *testing.T) {
	emb := &fakeEmbedder{}
	p, db, idx := setup(t, emb, Options{})
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Review{
		{ID: "old", ProductID: "X", AuthorName: "Kim", Rating: 5, Body: "Runs small", CreatedAt: base},
		{ID: "new", ProductID: "X", AuthorName: "Kim", Rating: 5, Body: "runs small!", CreatedAt: base.Add(time.Hour)},
		{ID: "dirty", ProductID: "X", AuthorName: `{"displayName": "Ann"}`, Rating: 4,
			Body: `{"body": "Great hold", "rating": 4}`, CreatedAt: base.Add(-time.Hour)},
	}
	for i := range rows {
		require.NoError(t, db.UpsertReview(ctx, &rows[i]))
	}
	require.NoError(t, idx.Upsert(ctx, []vector.Document{
		{ID: "old", ProductID: "X", Embedding: []float32{1, 0, 0}},
		{ID: "new", ProductID: "X", Embedding: []float32{0, 1, 0}},
	}))

	report, err := p.NormalizeAndDedupe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Patched)
	assert.Equal(t, 1, report.Deleted)

	left, err := db.GetReviewsByIDs(ctx, []string{"old", "new", "dirty"})
	require.NoError(t, err)
	ids := map[string]models.Review{}
	for _, r := range left {
		ids[r.ID] = r
	}
	assert.Contains(t, ids, "new")
	assert.NotContains(t, ids, "old")
	assert.Equal(t, "Great hold", ids["dirty"].Body)
	assert.Equal(t, "Ann", ids["dirty"].AuthorName)

	assert.Equal(t, 2, idx.Count())

	second, err := p.NormalizeAndDedupe(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Patched)
	assert.Zero(t, second.Deleted)
}

func TestParseCreatedAt(t *testing.T) {
	fallback := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), parseCreatedAt("2024-05-02", fallback))
	assert.Equal(t, fallback, parseCreatedAt("yesterday", fallback))
	assert.Equal(t, fallback, parseCreatedAt("", fallback))
}
