package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/llm"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/pkg/logger"
	"github.com/reco-agent/backend/pkg/utils"
)

// Cache stores query embeddings keyed by a hash of the normalized query.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

var ErrEmptyVector = errors.New("embedding service returned an empty vector")

type Client struct {
	embedder llm.Embedder
	dim      int
	cache    Cache
}

// NewClient wraps embedder. cache may be nil.
func NewClient(embedder llm.Embedder, dim int, cache Cache) *Client {
	return &Client{embedder: embedder, dim: dim, cache: cache}
}

func (c *Client) Dim() int { return c.dim }

// Embed turns a query into a vector. Every failure is an embedding error; there is
// no retry here.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(utils.NormalizeText(text))

	if c.cache != nil {
		vec, ok, err := c.cache.GetEmbedding(ctx, key)
		switch {
		case err != nil:
			logger.Warn("Embedding cache read failed", zap.Error(err))
		case ok && len(vec) == c.dim:
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return vec, nil
		default:
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
		}
	}

	vecs, err := c.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, apperr.Embedding("embed query", err)
	}
	if len(vecs) == 0 {
		return nil, apperr.Embedding("embed query", ErrEmptyVector)
	}
	vec := vecs[0]
	if err := c.check(vec); err != nil {
		return nil, apperr.Embedding("embed query", err)
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, key, vec); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return vec, nil
}

// EmbedDocuments embeds review bodies for storage. The result is index-aligned with texts.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, apperr.Embedding("embed documents", err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.Embedding("embed documents",
			fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	for i, vec := range vecs {
		if err := c.check(vec); err != nil {
			return nil, apperr.Embedding("embed documents", fmt.Errorf("text %d: %w", i, err))
		}
	}
	return vecs, nil
}

func (c *Client) check(vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if c.dim > 0 && len(vec) != c.dim {
		return fmt.Errorf("embedding dimension %d, want %d", len(vec), c.dim)
	}
	return nil
}
