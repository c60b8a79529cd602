package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/logger"
)

// ReviewFilter scopes review listings. Empty fields match everything.
type ReviewFilter struct {
	ProductID string
	StoreID   string
}

const reviewColumns = `id, external_id, store_id, product_id, product_title, author_name, rating, fit_feedback, review_body, source, created_at`

// idChunk keeps IN (...) lists under SQLite's host parameter limit.
const idChunk = 500

func (c *Client) UpsertReview(ctx context.Context, r *models.Review) error {
	query := `
		INSERT INTO reviews (` + reviewColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author_name = excluded.author_name,
			rating = excluded.rating,
			fit_feedback = excluded.fit_feedback,
			review_body = excluded.review_body,
			product_title = excluded.product_title,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		r.ID,
		nullIfEmpty(r.ExternalID),
		r.StoreID,
		r.ProductID,
		r.ProductTitle,
		r.AuthorName,
		r.Rating,
		r.FitFeedback,
		r.Body,
		r.Source,
		toMillis(r.CreatedAt),
		toMillis(c.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert review: %w", err)
	}

	logger.Debug("Review upserted", zap.String("review_id", r.ID), zap.String("product_id", r.ProductID))
	return nil
}

// UpdateReviewFields rewrites the normalizable fields of a stored review.
func (c *Client) UpdateReviewFields(ctx context.Context, r *models.Review) error {
	query := `
		UPDATE reviews
		SET author_name = ?, rating = ?, fit_feedback = ?, review_body = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := c.db.ExecContext(ctx, query,
		r.AuthorName, r.Rating, r.FitFeedback, r.Body, toMillis(r.CreatedAt), toMillis(c.now()), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	return nil
}

func (c *Client) DeleteReviews(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		batch := ids[start:end]

		query := `DELETE FROM reviews WHERE id IN (` + placeholders(len(batch)) + `)`
		if _, err := c.db.ExecContext(ctx, query, toArgs(batch)...); err != nil {
			return fmt.Errorf("failed to delete reviews: %w", err)
		}
	}
	return nil
}

// GetReviewsByIDs resolves ids in as few statements as possible. Unknown ids are skipped and
// the result order is unspecified.
func (c *Client) GetReviewsByIDs(ctx context.Context, ids []string) ([]models.Review, error) {
	reviews := make([]models.Review, 0, len(ids))
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		batch := ids[start:end]

		query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id IN (` + placeholders(len(batch)) + `)`
		got, err := c.queryReviews(ctx, query, toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get reviews by ids: %w", err)
		}
		reviews = append(reviews, got...)
	}
	return reviews, nil
}

// ListReviews returns every review in scope, newest first.
func (c *Client) ListReviews(ctx context.Context, filter ReviewFilter) ([]models.Review, error) {
	where, args := filter.clause()
	query := `SELECT ` + reviewColumns + ` FROM reviews` + where + ` ORDER BY created_at DESC`

	reviews, err := c.queryReviews(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

func (c *Client) RecentReviews(ctx context.Context, limit int) ([]models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews ORDER BY created_at DESC LIMIT ?`

	reviews, err := c.queryReviews(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent reviews: %w", err)
	}
	return reviews, nil
}

func (c *Client) CountReviews(ctx context.Context, filter ReviewFilter) (int, error) {
	where, args := filter.clause()

	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return n, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT product_id FROM reviews WHERE product_id != '' ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (c *Client) queryReviews(ctx context.Context, query string, args ...any) ([]models.Review, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		var externalID sql.NullString
		var createdAt int64

		err := rows.Scan(
			&r.ID,
			&externalID,
			&r.StoreID,
			&r.ProductID,
			&r.ProductTitle,
			&r.AuthorName,
			&r.Rating,
			&r.FitFeedback,
			&r.Body,
			&r.Source,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.ExternalID = externalID.String
		r.CreatedAt = fromMillis(createdAt)
		reviews = append(reviews, r)
	}

	return reviews, rows.Err()
}

func (f ReviewFilter) clause() (string, []any) {
	var conds []string
	var args []any
	if f.ProductID != "" {
		conds = append(conds, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.StoreID != "" {
		conds = append(conds, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
