package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/logger"
)

// ErrSessionClosed is returned when a research session has already been finalized or failed.
var ErrSessionClosed = errors.New("research session already closed")

func (c *Client) CreateResearchSession(ctx context.Context, question, productID, firstStep string) (*models.ResearchSession, error) {
	now := c.now()
	session := &models.ResearchSession{
		ID:        uuid.New().String(),
		Question:  question,
		ProductID: productID,
		Status:    models.ResearchRunning,
		Steps:     []string{firstStep},
		CreatedAt: now,
		UpdatedAt: now,
	}

	steps, _ := json.Marshal(session.Steps)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO research_sessions (id, question, product_id, status, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, question, productID, session.Status, string(steps), toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create research session: %w", err)
	}

	logger.Info("Research session created", zap.String("research_id", session.ID))
	return session, nil
}

// AppendResearchStep appends to the step log in place with json_insert, so concurrent
// appends cannot drop each other.
func (c *Client) AppendResearchStep(ctx context.Context, id, step string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE research_sessions
		SET steps = json_insert(steps, '$[#]', ?), updated_at = ?
		WHERE id = ?
	`, step, toMillis(c.now()), id)
	if err != nil {
		return fmt.Errorf("failed to append research step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("research session %s: %w", id, ErrNotFound)
	}
	return nil
}

// FinalizeResearch moves a running session to done. It fails with ErrSessionClosed if the
// session already left the running state.
func (c *Client) FinalizeResearch(ctx context.Context, id, answer string, sources []models.Review, suggestions []string) error {
	if sources == nil {
		sources = []models.Review{}
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	suggestionsJSON, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE research_sessions
		SET status = ?, answer = ?, sources = ?, suggestions = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.ResearchDone, answer, string(sourcesJSON), string(suggestionsJSON), toMillis(c.now()), id, models.ResearchRunning)
	if err != nil {
		return fmt.Errorf("failed to finalize research session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}

	logger.Info("Research session finalized",
		zap.String("research_id", id),
		zap.Int("sources", len(sources)),
		zap.Int("suggestions", len(suggestions)),
	)
	return nil
}

func (c *Client) MarkResearchError(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE research_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, models.ResearchError, toMillis(c.now()), id, models.ResearchRunning)
	if err != nil {
		return fmt.Errorf("failed to mark research error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}
	return nil
}

func (c *Client) GetResearchSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	var s models.ResearchSession
	var steps, sources, suggestions string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, question, product_id, status, steps, answer, sources, suggestions, created_at, updated_at
		FROM research_sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Question, &s.ProductID, &s.Status, &steps, &s.Answer, &sources, &suggestions, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("research session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research session: %w", err)
	}

	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	_ = json.Unmarshal([]byte(sources), &s.Sources)
	_ = json.Unmarshal([]byte(suggestions), &s.Suggestions)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)

	return &s, nil
}
