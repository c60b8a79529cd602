package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/kg/neo4j"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/synth"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/config"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeRetriever struct {
	evidence []models.Evidence
	filter   vector.Filter
	k        int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]models.Evidence, error) {
	f.k = k
	f.filter = filter
	return f.evidence, nil
}

type fakeSynth struct {
	answer string
	mode   synth.Mode
}

func (f *fakeSynth) Synthesize(ctx context.Context, in synth.Input) (synth.Result, error) {
	f.mode = in.Mode
	if f.answer == "" {
		return synth.Result{}, apperr.SynthesisEmpty("synthesize")
	}
	return synth.Result{Answer: f.answer, Tier: synth.TierPrimary}, nil
}

type fakeSuggester struct{}

func (fakeSuggester) Suggest(ctx context.Context, question string, evidence []models.Evidence, history []models.Turn) []string {
	return []string{"Does it run small?", "Is it breathable?", "How is the compression?"}
}

type fakeThemes struct{}

func (fakeThemes) Merge(texts []string, limit int) []string {
	return []string{"waistband", "fabric"}
}

type fakeGraph struct {
	stats []neo4j.ThemeStat
	err   error
}

func (f fakeGraph) TopThemes(ctx context.Context, productID string, limit int) ([]neo4j.ThemeStat, error) {
	return f.stats, f.err
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })
	return db
}

func evidence(n int) []models.Evidence {
	out := make([]models.Evidence, n)
	for i := range n {
		out[i] = models.Evidence{Review: models.Review{
			ID:     fmt.Sprintf("r%d", i),
			Rating: 5,
			Body:   "The waistband stays put all day.",
		}, Score: 0.9}
	}
	return out
}

func TestRunnerCompletesAfterCallerCancels(t *testing.T) {
	db := newStore(t)
	retriever := &fakeRetriever{evidence: evidence(3)}
	syn := &fakeSynth{answer: "Shoppers praise the hold."}

	r := NewRunner(Deps{
		Store:     db,
		Embedder:  fakeEmbedder{},
		Retriever: retriever,
		Synth:     syn,
		Suggester: fakeSuggester{},
		Themes:    fakeThemes{},
	}, config.ResearchConfig{K: 12, TimeoutSec: 5})

	var mu sync.Mutex
	var observed []string
	ctx, cancel := context.WithCancel(context.Background())
	id, err := r.Start(ctx, StartRequest{
		Question:  "Analyze fit trends",
		ProductID: "X",
		Observer: func(_, step string) {
			mu.Lock()
			observed = append(observed, step)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	cancel()
	r.Wait()

	session, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchDone, session.Status)
	assert.Equal(t, []string{
		StepStarted,
		StepEmbedding,
		"Searching reviews (product=X)",
		"Analyzing 3 reviews",
		StepThemes,
		StepSuggestions,
		StepDone,
	}, session.Steps)
	assert.Contains(t, session.Answer, "Shoppers praise the hold.")
	assert.Contains(t, session.Answer, "waistband, fabric")
	assert.Len(t, session.Sources, 3)
	assert.Len(t, session.Suggestions, 3)

	assert.Equal(t, 12, retriever.k)
	assert.Equal(t, "X", retriever.filter.ProductID)
	assert.Equal(t, synth.ModeResearch, syn.mode)

	mu.Lock()
	assert.Equal(t, session.Steps, observed)
	mu.Unlock()
}

func TestRunnerMarksErrorOnce(t *testing.T) {
	db := newStore(t)
	r := NewRunner(Deps{
		Store:     db,
		Embedder:  fakeEmbedder{err: apperr.Embedding("embed", errors.New("boom"))},
		Retriever: &fakeRetriever{},
		Synth:     &fakeSynth{answer: "x"},
		Suggester: fakeSuggester{},
	}, config.ResearchConfig{})

	id, err := r.Start(context.Background(), StartRequest{Question: "Analyze fit"})
	require.NoError(t, err)
	r.Wait()

	session, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchError, session.Status)
	assert.Equal(t, []string{StepStarted, StepEmbedding, StepError}, session.Steps)
	assert.Empty(t, session.Answer)

	assert.ErrorIs(t, db.FinalizeResearch(context.Background(), id, "late", nil, nil), sqlite.ErrSessionClosed)
}

func TestRunnerTemplateWhenSynthesisEmpty(t *testing.T) {
	db := newStore(t)
	r := NewRunner(Deps{
		Store:     db,
		Embedder:  fakeEmbedder{},
		Retriever: &fakeRetriever{evidence: evidence(2)},
		Synth:     &fakeSynth{},
		Suggester: fakeSuggester{},
	}, config.ResearchConfig{})

	id, err := r.Start(context.Background(), StartRequest{Question: "What do customers mention?"})
	require.NoError(t, err)
	r.Wait()

	session, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchDone, session.Status)
	assert.Contains(t, session.Answer, "Here's what customers mention")
	assert.Contains(t, session.Steps, "Searching reviews (product=any)")
}

func TestRunnerPrefersGraphThemes(t *testing.T) {
	db := newStore(t)
	r := NewRunner(Deps{
		Store:     db,
		Embedder:  fakeEmbedder{},
		Retriever: &fakeRetriever{evidence: evidence(1)},
		Synth:     &fakeSynth{answer: "Good."},
		Suggester: fakeSuggester{},
		Themes:    fakeThemes{},
		Graph:     fakeGraph{stats: []neo4j.ThemeStat{{Name: "compression", Mentions: 9, AvgRating: 4.6}}},
	}, config.ResearchConfig{})

	id, err := r.Start(context.Background(), StartRequest{Question: "Analyze"})
	require.NoError(t, err)
	r.Wait()

	session, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, session.Answer, "Recurring themes: compression.")
	assert.NotContains(t, session.Answer, "waistband")
}

func TestRunnerGraphErrorFallsBackToTagging(t *testing.T) {
	r := NewRunner(Deps{Themes: fakeThemes{}, Graph: fakeGraph{err: errors.New("down")}}, config.ResearchConfig{})
	got := r.mapThemes(context.Background(), "X", evidence(1))
	assert.Equal(t, []string{"waistband", "fabric"}, got)
}

func TestStartRequiresQuestion(t *testing.T) {
	r := NewRunner(Deps{Store: newStore(t)}, config.ResearchConfig{})
	_, err := r.Start(context.Background(), StartRequest{Question: "  "})
	assert.Error(t, err)
}
