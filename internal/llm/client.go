package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/circuitbreaker"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
	"github.com/reco-agent/backend/pkg/retry"
)

// FinishLength is the finish reason reported when output hit the token limit.
const FinishLength = string(openai.FinishReasonLength)

type GenerateRequest struct {
	System      string
	Turns       []models.Turn
	Temperature float32
	TopP        float32
	MaxTokens   int
}

type GenerateResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Truncated reports whether generation stopped because of the token budget.
func (r *GenerateResponse) Truncated() bool {
	return r != nil && r.FinishReason == FinishLength
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	embedRetry     retry.Config
}

func NewClient(cfg config.LLMConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        countsAsOutage,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isRetryable,
		Logger:         logger.GetLogger(),
	}

	// The orchestrator owns recovery for embedding failures.
	embedRetry := retryConfig
	embedRetry.MaxAttempts = 1

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Int("embedding_dim", cfg.EmbeddingDim),
		zap.Bool("custom_base_url", cfg.BaseURL != ""),
	)

	return &Client{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
		embedRetry:     embedRetry,
	}
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	var result *GenerateResponse
	start := time.Now()

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: req.Temperature,
				TopP:        req.TopP,
				MaxTokens:   req.MaxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			result = &GenerateResponse{
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			if len(resp.Choices) > 0 {
				result.Text = resp.Choices[0].Message.Content
				result.FinishReason = string(resp.Choices[0].FinishReason)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))

	logger.Debug("LLM completion generated",
		zap.String("finish_reason", result.FinishReason),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	return result, nil
}

// EmbedTexts embeds texts in request batches of 100, preserving input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	const batchSize = 100
	for i := 0; i < len(texts); i += batchSize {
		batch := texts[i:min(i+batchSize, len(texts))]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.embedRetry, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input:      batch,
					Model:      openai.EmbeddingModel(c.embeddingModel),
					Dimensions: c.embeddingDim,
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(batch))
				}

				data := resp.Data
				sort.Slice(data, func(a, b int) bool { return data[a].Index < data[b].Index })
				for _, d := range data {
					embeddings = append(embeddings, d.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isRetryable rejects client errors other than rate limiting.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code := statusCode(err)
	if code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}

func countsAsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	code := statusCode(err)
	return code == 0 || code >= 500 || code == http.StatusTooManyRequests
}
