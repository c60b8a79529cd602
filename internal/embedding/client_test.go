package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/apperr"
)

type fakeEmbedder struct {
	vecs  [][]float32
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vecs, nil
}

type mapCache struct {
	data   map[string][]float32
	getErr error
}

func (m *mapCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) SetEmbedding(ctx context.Context, key string, vec []float32) error {
	m.data[key] = vec
	return nil
}

func TestEmbedFailures(t *testing.T) {
	tests := []struct {
		name     string
		embedder *fakeEmbedder
	}{
		{"upstream error", &fakeEmbedder{err: errors.New("503")}},
		{"no vectors", &fakeEmbedder{}},
		{"empty vector", &fakeEmbedder{vecs: [][]float32{{}}}},
		{"wrong dimension", &fakeEmbedder{vecs: [][]float32{{1, 2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.embedder, 3, nil)
			_, err := c.Embed(context.Background(), "does it run small?")
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindEmbedding))
			assert.Equal(t, 1, tt.embedder.calls, "no retry at this layer")
		})
	}
}

func TestEmbedUsesCacheByNormalizedText(t *testing.T) {
	emb := &fakeEmbedder{vecs: [][]float32{{1, 0, 0}}}
	cache := &mapCache{data: map[string][]float32{}}
	c := NewClient(emb, 3, cache)

	first, err := c.Embed(context.Background(), "Does it run small?")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "  does it RUN small ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, emb.calls)
}

func TestEmbedIgnoresCacheErrors(t *testing.T) {
	emb := &fakeEmbedder{vecs: [][]float32{{1, 0, 0}}}
	c := NewClient(emb, 3, &mapCache{data: map[string][]float32{}, getErr: errors.New("redis down")})

	vec, err := c.Embed(context.Background(), "comfy?")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestEmbedDocumentsAlignment(t *testing.T) {
	c := NewClient(&fakeEmbedder{vecs: [][]float32{{1, 0}}}, 2, nil)
	_, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.True(t, apperr.IsKind(err, apperr.KindEmbedding))

	c = NewClient(&fakeEmbedder{vecs: [][]float32{{1, 0}, {0, 1}}}, 2, nil)
	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}
