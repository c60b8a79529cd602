// Package ingestion loads reviews into the store and the similarity index.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/normalize"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/logger"
	"github.com/reco-agent/backend/pkg/utils"
)

const (
	defaultBatchSize = 32
	defaultWorkers   = 4
)

type Store interface {
	UpsertReview(ctx context.Context, r *models.Review) error
	UpdateReviewFields(ctx context.Context, r *models.Review) error
	DeleteReviews(ctx context.Context, ids []string) error
	ListReviews(ctx context.Context, filter sqlite.ReviewFilter) ([]models.Review, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type ThemeExtractor interface {
	Themes(text string) []string
}

type ThemeGraph interface {
	IndexReview(ctx context.Context, reviewID, productID string, rating float64, themes []string) error
}

// RawReview is the import shape. Author and body may still hold serialized objects.
type RawReview struct {
	ID           string  `json:"id,omitempty"`
	ExternalID   string  `json:"external_id,omitempty"`
	StoreID      string  `json:"store_id,omitempty"`
	ProductID    string  `json:"product,omitempty"`
	ProductTitle string  `json:"product_title,omitempty"`
	AuthorName   string  `json:"author_name"`
	Rating       float64 `json:"rating"`
	FitFeedback  string  `json:"fit_feedback"`
	Body         string  `json:"review_body"`
	CreatedAt    string  `json:"created_at"`
	Source       string  `json:"source,omitempty"`
}

type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

type Report struct {
	Total   int `json:"total"`
	Patched int `json:"patched"`
	Deleted int `json:"deleted"`
}

type Options struct {
	BatchSize int
	Workers   int
	Themes    ThemeExtractor
	Graph     ThemeGraph
}

type Processor struct {
	db        Store
	index     vector.Index
	embedder  Embedder
	themes    ThemeExtractor
	graph     ThemeGraph
	batchSize int
	workers   int
	now       func() time.Time
}

func NewProcessor(db Store, index vector.Index, embedder Embedder, opts Options) *Processor {
	p := &Processor{
		db:        db,
		index:     index,
		embedder:  embedder,
		themes:    opts.Themes,
		graph:     opts.Graph,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		now:       time.Now,
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	return p
}

// BulkUpsert normalizes, de-duplicates, embeds and stores reviews. Records whose
// signature is already stored or repeats earlier in the batch are skipped.
func (p *Processor) BulkUpsert(ctx context.Context, raw []RawReview) (*Result, error) {
	logger.Info("Bulk upsert started", zap.Int("reviews", len(raw)))

	existing, err := p.db.ListReviews(ctx, sqlite.ReviewFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load existing reviews: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(raw))
	for _, r := range existing {
		seen[normalize.Signature(r)] = true
	}

	result := &Result{}
	var fresh []models.Review
	for _, rr := range raw {
		r := p.toReview(rr)
		if strings.TrimSpace(r.Body) == "" {
			result.Skipped++
			continue
		}
		sig := normalize.Signature(r)
		if seen[sig] {
			result.Skipped++
			continue
		}
		seen[sig] = true
		if r.ID == "" {
			r.ID = utils.HashString(sig)
		}
		fresh = append(fresh, r)
	}

	vectors, err := p.embedAll(ctx, fresh)
	if err != nil {
		return nil, err
	}

	docs := make([]vector.Document, 0, len(fresh))
	for i := range fresh {
		r := &fresh[i]
		if err := p.db.UpsertReview(ctx, r); err != nil {
			return result, fmt.Errorf("failed to store review %s: %w", r.ID, err)
		}
		docs = append(docs, vector.Document{
			ID:        r.ID,
			ProductID: r.ProductID,
			StoreID:   r.StoreID,
			Embedding: vectors[i],
		})
		result.Inserted++
	}

	if len(docs) > 0 {
		if err := p.index.Upsert(ctx, docs); err != nil {
			return result, fmt.Errorf("failed to index reviews: %w", err)
		}
	}

	p.indexThemes(ctx, fresh)
	p.markSeeded(ctx)

	metrics.ReviewsIngested.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.ReviewsIngested.WithLabelValues("skipped").Add(float64(result.Skipped))

	logger.Info("Bulk upsert completed",
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// NormalizeAndDedupe rewrites stored reviews that still carry serialized artifacts and
// deletes signature duplicates, keeping the newest copy.
func (p *Processor) NormalizeAndDedupe(ctx context.Context) (*Report, error) {
	reviews, err := p.db.ListReviews(ctx, sqlite.ReviewFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	report := &Report{Total: len(reviews)}
	keep := make(map[string]bool, len(reviews))
	var duplicates []string
	var patched []models.Review

	for _, r := range reviews {
		clean, changed := normalize.NormalizeReview(r)

		sig := normalize.Signature(clean)
		if keep[sig] {
			duplicates = append(duplicates, r.ID)
			continue
		}
		keep[sig] = true

		if !changed {
			continue
		}
		if err := p.db.UpdateReviewFields(ctx, &clean); err != nil {
			return report, fmt.Errorf("failed to patch review %s: %w", r.ID, err)
		}
		report.Patched++
		if clean.Body != r.Body {
			patched = append(patched, clean)
		}
	}

	if len(duplicates) > 0 {
		if err := p.db.DeleteReviews(ctx, duplicates); err != nil {
			return report, fmt.Errorf("failed to delete duplicates: %w", err)
		}
		if err := p.index.Delete(ctx, duplicates); err != nil {
			logger.Warn("Failed to drop duplicate vectors", zap.Error(err))
		}
		report.Deleted = len(duplicates)
	}

	// bodies that changed need fresh vectors
	if len(patched) > 0 {
		if err := p.reindex(ctx, patched); err != nil {
			logger.Warn("Failed to re-embed patched reviews", zap.Error(err))
		}
	}

	logger.Info("Normalize and dedupe completed",
		zap.Int("total", report.Total),
		zap.Int("patched", report.Patched),
		zap.Int("deleted", report.Deleted),
	)
	return report, nil
}

func (p *Processor) toReview(rr RawReview) models.Review {
	r := models.Review{
		ID:           strings.TrimSpace(rr.ID),
		ExternalID:   strings.TrimSpace(rr.ExternalID),
		StoreID:      rr.StoreID,
		ProductID:    rr.ProductID,
		ProductTitle: rr.ProductTitle,
		AuthorName:   rr.AuthorName,
		Rating:       rr.Rating,
		FitFeedback:  rr.FitFeedback,
		Body:         rr.Body,
		Source:       rr.Source,
		CreatedAt:    parseCreatedAt(rr.CreatedAt, p.now()),
	}
	if r.Source == "" {
		r.Source = "import"
	}
	clean, _ := normalize.NormalizeReview(r)
	clean.Rating = min(5, max(0, clean.Rating))
	return clean
}

// embedAll embeds review bodies in batches on a bounded worker pool. The result is
// index-aligned with reviews.
func (p *Processor) embedAll(ctx context.Context, reviews []models.Review) ([][]float32, error) {
	vectors := make([][]float32, len(reviews))
	if len(reviews) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for start := 0; start < len(reviews); start += p.batchSize {
		end := min(start+p.batchSize, len(reviews))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = reviews[start+i].Body
			}
			vecs, err := p.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return err
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *Processor) reindex(ctx context.Context, reviews []models.Review) error {
	vectors, err := p.embedAll(ctx, reviews)
	if err != nil {
		return err
	}
	docs := make([]vector.Document, len(reviews))
	for i, r := range reviews {
		docs[i] = vector.Document{ID: r.ID, ProductID: r.ProductID, StoreID: r.StoreID, Embedding: vectors[i]}
	}
	if err := p.index.Upsert(ctx, docs); err != nil {
		return err
	}
	p.indexThemes(ctx, reviews)
	return nil
}

func (p *Processor) indexThemes(ctx context.Context, reviews []models.Review) {
	if p.themes == nil || p.graph == nil {
		return
	}
	for _, r := range reviews {
		themes := p.themes.Themes(r.Body)
		if err := p.graph.IndexReview(ctx, r.ID, r.ProductID, r.Rating, themes); err != nil {
			logger.Warn("Failed to index review themes", zap.String("review_id", r.ID), zap.Error(err))
			return
		}
	}
}

func (p *Processor) markSeeded(ctx context.Context) {
	if err := p.db.SetSetting(ctx, models.SettingReviewsSeeded, "true"); err != nil {
		logger.Warn("Failed to set seeded flag", zap.Error(err))
	}
	if err := p.db.SetSetting(ctx, models.SettingLastUploadAt, p.now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("Failed to set last upload time", zap.Error(err))
	}
}

func parseCreatedAt(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
