// Package neo4j keeps the review/theme graph used to enrich research answers.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/pkg/circuitbreaker"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
	"github.com/reco-agent/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type ThemeStat struct {
	Name      string  `json:"name"`
	Mentions  int     `json:"mentions"`
	AvgRating float64 `json:"avg_rating"`
}

func NewClient(cfg config.ThemesConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EnsureSchema creates the uniqueness constraints the MERGE statements rely on.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT review_id IF NOT EXISTS FOR (r:Review) REQUIRE r.id IS UNIQUE`,
		`CREATE CONSTRAINT theme_key IF NOT EXISTS FOR (t:Theme) REQUIRE (t.product_id, t.name) IS UNIQUE`,
	}
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

// IndexReview links a review to each of its themes. Re-indexing the same review replaces
// its theme edges.
func (c *Client) IndexReview(ctx context.Context, reviewID, productID string, rating float64, themes []string) error {
	if len(themes) == 0 {
		return nil
	}

	query := `
		MERGE (r:Review {id: $review_id})
		SET r.product_id = $product_id,
		    r.rating = $rating,
		    r.indexed_at = timestamp()
		WITH r
		OPTIONAL MATCH (r)-[old:MENTIONS]->(:Theme)
		DELETE old
		WITH DISTINCT r
		UNWIND $themes AS theme
		MERGE (t:Theme {product_id: $product_id, name: theme})
		MERGE (r)-[:MENTIONS]->(t)
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]interface{}{
			"review_id":  reviewID,
			"product_id": productID,
			"rating":     rating,
			"themes":     themes,
		})
		if err != nil {
			return fmt.Errorf("failed to index review: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Review indexed in theme graph",
		zap.String("review_id", reviewID),
		zap.Int("themes", len(themes)),
	)
	return nil
}

// TopThemes returns the most mentioned themes for a product, or across all products when
// productID is empty.
func (c *Client) TopThemes(ctx context.Context, productID string, limit int) ([]ThemeStat, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		MATCH (r:Review)-[:MENTIONS]->(t:Theme)
		WHERE $product_id = '' OR t.product_id = $product_id
		RETURN t.name AS name, count(r) AS mentions, avg(r.rating) AS avg_rating
		ORDER BY mentions DESC, name ASC
		LIMIT $limit
	`

	var stats []ThemeStat
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		stats = stats[:0]
		result, err := session.Run(ctx, query, map[string]interface{}{
			"product_id": productID,
			"limit":      limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query top themes: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			name, _ := record.Get("name")
			mentions, _ := record.Get("mentions")
			avg, _ := record.Get("avg_rating")
			if stat, ok := themeStat(name, mentions, avg); ok {
				stats = append(stats, stat)
			}
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Top themes fetched", zap.String("product_id", productID), zap.Int("themes", len(stats)))
	return stats, nil
}

// DeleteProduct drops every review and theme node of a product.
func (c *Client) DeleteProduct(ctx context.Context, productID string) error {
	query := `
		MATCH (n)
		WHERE (n:Review OR n:Theme) AND n.product_id = $product_id
		DETACH DELETE n
	`
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		if _, err := session.Run(ctx, query, map[string]interface{}{"product_id": productID}); err != nil {
			return fmt.Errorf("failed to delete product themes: %w", err)
		}
		return nil
	})
}

func themeStat(name, mentions, avg interface{}) (ThemeStat, bool) {
	n, ok := name.(string)
	if !ok || n == "" {
		return ThemeStat{}, false
	}
	stat := ThemeStat{Name: n}
	switch m := mentions.(type) {
	case int64:
		stat.Mentions = int(m)
	case int:
		stat.Mentions = m
	}
	switch a := avg.(type) {
	case float64:
		stat.AvgRating = a
	case int64:
		stat.AvgRating = float64(a)
	}
	return stat, true
}
