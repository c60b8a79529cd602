package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

// askCounterTTL keeps a few days of per-day counters around for the dashboard.
const askCounterTTL = 8 * 24 * time.Hour

type Client struct {
	client       *redis.Client
	embeddingTTL time.Duration
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{
		client:       client,
		embeddingTTL: time.Duration(cfg.EmbeddingTTLMins) * time.Minute,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func embeddingKey(textHash string) string {
	return fmt.Sprintf("embedding:%s", textHash)
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingKey(textHash), data, c.embeddingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash), zap.Duration("ttl", c.embeddingTTL))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(textHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// InvalidateEmbeddings drops every cached query embedding, e.g. after the embedding
// model changes.
func (c *Client) InvalidateEmbeddings(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "embedding:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Embedding cache invalidated")
	return nil
}

func askCounterKey(day time.Time, outcome string) string {
	return fmt.Sprintf("asks:%s:%s", day.UTC().Format("2006-01-02"), outcome)
}

// IncrementAsk bumps today's counter for outcome.
func (c *Client) IncrementAsk(ctx context.Context, outcome string) error {
	key := askCounterKey(time.Now(), outcome)

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, askCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment ask counter: %w", err)
	}
	return nil
}

// AskCounts returns the counters recorded for day, keyed by outcome.
func (c *Client) AskCounts(ctx context.Context, day time.Time, outcomes []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(outcomes))
	for _, outcome := range outcomes {
		val, err := c.client.Get(ctx, askCounterKey(day, outcome)).Int64()
		if errors.Is(err, redis.Nil) {
			counts[outcome] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get ask counter: %w", err)
		}
		counts[outcome] = val
	}
	return counts, nil
}
