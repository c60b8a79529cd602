package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/logger"
)

// ReviewStore resolves review records. *sqlite.Client satisfies it.
type ReviewStore interface {
	GetReviewsByIDs(ctx context.Context, ids []string) ([]models.Review, error)
	ListReviews(ctx context.Context, filter sqlite.ReviewFilter) ([]models.Review, error)
	RecentReviews(ctx context.Context, limit int) ([]models.Review, error)
}

type Retriever struct {
	index vector.Index
	store ReviewStore
}

func NewRetriever(index vector.Index, store ReviewStore) *Retriever {
	return &Retriever{index: index, store: store}
}

// Retrieve returns up to k reviews nearest to embedding, best first. No match is an
// empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]models.Evidence, error) {
	start := time.Now()

	hits, err := r.index.Search(ctx, embedding, k, filter)
	if err != nil {
		return nil, apperr.Retrieval("vector search", err)
	}
	if len(hits) == 0 {
		return []models.Evidence{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	reviews, err := r.store.GetReviewsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Retrieval("resolve reviews", err)
	}

	byID := make(map[string]models.Review, len(reviews))
	for _, rv := range reviews {
		byID[rv.ID] = rv
	}

	evidence := make([]models.Evidence, 0, len(hits))
	for _, h := range hits {
		rv, ok := byID[h.ID]
		if !ok {
			continue
		}
		evidence = append(evidence, models.Evidence{Review: rv, Score: h.Score})
	}
	sort.SliceStable(evidence, func(i, j int) bool { return evidence[i].Score > evidence[j].Score })

	logger.Debug("Evidence retrieved",
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
		zap.Int("evidence", len(evidence)),
		zap.String("product_id", filter.ProductID),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	return evidence, nil
}

// ListAll returns the whole corpus in scope with a zero score, for full-scan filtering.
func (r *Retriever) ListAll(ctx context.Context, filter vector.Filter) ([]models.Evidence, error) {
	reviews, err := r.store.ListReviews(ctx, sqlite.ReviewFilter{ProductID: filter.ProductID, StoreID: filter.StoreID})
	if err != nil {
		return nil, apperr.Retrieval("list reviews", err)
	}
	return asEvidence(reviews), nil
}

// Recent returns the n newest reviews regardless of scope.
func (r *Retriever) Recent(ctx context.Context, n int) ([]models.Evidence, error) {
	reviews, err := r.store.RecentReviews(ctx, n)
	if err != nil {
		return nil, apperr.Retrieval("recent reviews", err)
	}
	return asEvidence(reviews), nil
}

func asEvidence(reviews []models.Review) []models.Evidence {
	out := make([]models.Evidence, len(reviews))
	for i, rv := range reviews {
		out[i] = models.Evidence{Review: rv}
	}
	return out
}
