package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/internal/vector/memory"
	"github.com/reco-agent/backend/pkg/config"
)

type fakeStore struct {
	reviews   map[string]models.Review
	fetches   int
	lastIDs   []string
	fetchErr  error
	recentErr error
}

func (f *fakeStore) GetReviewsByIDs(_ context.Context, ids []string) ([]models.Review, error) {
	f.fetches++
	f.lastIDs = ids
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []models.Review
	// Deliberately not in request order.
	for i := len(ids) - 1; i >= 0; i-- {
		if r, ok := f.reviews[ids[i]]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListReviews(_ context.Context, filter sqlite.ReviewFilter) ([]models.Review, error) {
	var out []models.Review
	for _, r := range f.reviews {
		if filter.ProductID == "" || r.ProductID == filter.ProductID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentReviews(_ context.Context, limit int) ([]models.Review, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	var out []models.Review
	for _, r := range f.reviews {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func setup(t *testing.T) (*Retriever, *fakeStore) {
	t.Helper()
	idx, err := memory.New("reviews", "")
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(context.Background(), []vector.Document{
		{ID: "r1", ProductID: "X", Embedding: []float32{1, 0, 0}},
		{ID: "r2", ProductID: "X", Embedding: []float32{0.8, 0.2, 0}},
		{ID: "r3", ProductID: "Y", Embedding: []float32{0, 1, 0}},
		{ID: "ghost", ProductID: "X", Embedding: []float32{0.7, 0.3, 0}},
	}))

	store := &fakeStore{reviews: map[string]models.Review{
		"r1": {ID: "r1", ProductID: "X", Body: "Runs small"},
		"r2": {ID: "r2", ProductID: "X", Body: "True to size"},
		"r3": {ID: "r3", ProductID: "Y", Body: "Too long"},
	}}
	return NewRetriever(idx, store), store
}

func TestRetrieveOrdersByScoreWithOneFetch(t *testing.T) {
	r, store := setup(t)

	ev, err := r.Retrieve(context.Background(), []float32{1, 0, 0}, 4, vector.Filter{ProductID: "X"})
	require.NoError(t, err)

	assert.Equal(t, 1, store.fetches)
	assert.Len(t, store.lastIDs, 3)
	require.Len(t, ev, 2, "ids missing from the store are skipped")
	assert.Equal(t, "r1", ev[0].ID)
	assert.Equal(t, "r2", ev[1].ID)
	assert.GreaterOrEqual(t, ev[0].Score, ev[1].Score)
}

func TestRetrieveNoMatchIsEmpty(t *testing.T) {
	r, store := setup(t)

	ev, err := r.Retrieve(context.Background(), []float32{1, 0, 0}, 5, vector.Filter{ProductID: "none"})
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Zero(t, store.fetches)
}

func TestRetrieveWrapsStoreFailure(t *testing.T) {
	r, store := setup(t)
	store.fetchErr = errors.New("db gone")

	_, err := r.Retrieve(context.Background(), []float32{1, 0, 0}, 2, vector.Filter{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindRetrieval))
}

func TestListAllAndRecent(t *testing.T) {
	r, store := setup(t)

	all, err := r.ListAll(context.Background(), vector.Filter{ProductID: "X"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := r.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	store.recentErr = errors.New("boom")
	_, err = r.Recent(context.Background(), 2)
	assert.True(t, apperr.IsKind(err, apperr.KindRetrieval))
}

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(config.RetrievalConfig{
		BaseK:            24,
		ResearchK:        48,
		MinK:             16,
		MaxK:             64,
		ShortQuestionLen: 40,
		LongQuestionLen:  140,
		LongBoost:        16,
		ResearchPattern:  `(?i)\banaly[sz]e\b|\binsight|\btrend|\btheme|\bsummary\b|\bacross reviews\b`,
		OffDomainPattern: `(?i)(t-shirt|tshirt|shirt|\btee\b|\btop\b)`,
		CoMentionPattern: `(?i)(bodysuit|onesie|one-piece)`,
	})
	require.NoError(t, err)
	return p
}

func TestKFor(t *testing.T) {
	p := testPolicy(t)
	long := "I am five foot ten with a long torso and I usually wear a medium in most brands but sometimes a large, " +
		"would this bodysuit be comfortable for a full day?"
	require.Greater(t, len(long), 140)

	tests := []struct {
		name     string
		question string
		research bool
		want     int
	}{
		{"short direct", "Does it run small?", false, 16},
		{"medium direct", "How does the bodysuit look under a fitted dress at work?", false, 24},
		{"long direct", long, false, 40},
		{"short research", "Analyze sizing", true, 24},
		{"long research", long, true, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.KFor(tt.question, tt.research))
		})
	}
}

func TestIsResearchQuestion(t *testing.T) {
	p := testPolicy(t)
	assert.True(t, p.IsResearchQuestion("Give me insights across reviews"))
	assert.True(t, p.IsResearchQuestion("What are the main themes?"))
	assert.False(t, p.IsResearchQuestion("Does it run small?"))
}

func TestClampK(t *testing.T) {
	p := testPolicy(t)
	tests := []struct {
		in, want int
	}{
		{0, 16},
		{3, 16},
		{16, 16},
		{40, 40},
		{500, 64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ClampK(tt.in), "k=%d", tt.in)
	}
}

func TestExcludeOffDomain(t *testing.T) {
	p := testPolicy(t)
	ev := []models.Evidence{
		{Review: models.Review{ID: "1", Body: "Great under a T-shirt"}},
		{Review: models.Review{ID: "2", Body: "This bodysuit works under my tee"}},
		{Review: models.Review{ID: "3", Body: "Smooth and comfy"}},
		{Review: models.Review{ID: "4", Body: "Stopped wearing it, stuck to tops instead"}},
	}

	got := p.ExcludeOffDomain(ev)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"2", "3", "4"}, ids)
	assert.Len(t, ev, 4, "input is not modified")
}
