package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

const conversationColumns = `id, session_id, store_id, product_id, product_title, status, message_count, started_at, ended_at`

// GetOrCreateConversation returns the conversation for conv.SessionID, inserting conv when none
// exists. created reports whether this call inserted the row.
func (c *Client) GetOrCreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = models.ConversationActive
	}
	if conv.StartedAt.IsZero() {
		conv.StartedAt = c.now()
	}

	query := `
		INSERT INTO conversations (id, session_id, store_id, product_id, product_title, status, message_count, started_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(session_id) DO NOTHING
	`

	res, err := c.db.ExecContext(ctx, query,
		conv.ID,
		conv.SessionID,
		conv.StoreID,
		conv.ProductID,
		conv.ProductTitle,
		conv.Status,
		toMillis(conv.StartedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	existing, err := c.GetConversationBySession(ctx, conv.SessionID)
	if err != nil {
		return nil, false, err
	}

	if affected > 0 {
		logger.Info("Conversation created",
			zap.String("conversation_id", existing.ID),
			zap.String("session_id", existing.SessionID),
		)
	}

	return existing, affected > 0, nil
}

func (c *Client) GetConversationBySession(ctx context.Context, sessionID string) (*models.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, sessionID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by session: %w", err)
	}
	return conv, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// SaveMessage appends msg and bumps the parent's message counter in one transaction.
// The counter update takes the write lock first, so concurrent writers never lose increments
// and each message gets the next sequence number.
func (c *Client) SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}

	var suggestions any
	if len(msg.Suggestions) > 0 {
		data, err := json.Marshal(msg.Suggestions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal suggestions: %w", err)
		}
		suggestions = string(data)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1 WHERE id = ? RETURNING message_count`,
		msg.ConversationID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment message count: %w", err)
	}

	var sourcesCount any
	if msg.SourcesCount != nil {
		sourcesCount = *msg.SourcesCount
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, sources_count, suggestions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ConversationID,
		seq,
		msg.Role,
		msg.Content,
		sourcesCount,
		suggestions,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	msg.Seq = seq
	logger.Debug("Message saved",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("role", msg.Role),
		zap.Int("seq", seq),
	)
	return msg, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, role, content, sources_count, suggestions, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var sourcesCount sql.NullInt64
		var suggestions sql.NullString
		var createdAt int64

		err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &sourcesCount, &suggestions, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if sourcesCount.Valid {
			n := int(sourcesCount.Int64)
			m.SourcesCount = &n
		}
		if suggestions.Valid && suggestions.String != "" {
			_ = json.Unmarshal([]byte(suggestions.String), &m.Suggestions)
		}
		m.CreatedAt = fromMillis(createdAt)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (c *Client) EndConversation(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, ended_at = ? WHERE id = ?`,
		models.ConversationCompleted, toMillis(c.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (c *Client) ListConversations(ctx context.Context, storeID string, limit int) ([]models.Conversation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE store_id = ? ORDER BY started_at DESC LIMIT ?`,
		storeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// ConversationStats aggregates counts for a store. "Today" starts at midnight UTC.
func (c *Client) ConversationStats(ctx context.Context, storeID string) (*models.ConversationStats, error) {
	now := c.now().UTC()
	midnight := toMillis(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))

	var stats models.ConversationStats
	err := c.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(message_count), 0),
			COALESCE(SUM(CASE WHEN started_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN started_at >= ? THEN message_count ELSE 0 END), 0)
		FROM conversations
		WHERE store_id = ?
	`, midnight, midnight, storeID).Scan(
		&stats.TotalConversations,
		&stats.TotalMessages,
		&stats.ConversationsToday,
		&stats.MessagesToday,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute conversation stats: %w", err)
	}

	if stats.TotalConversations > 0 {
		avg := float64(stats.TotalMessages) / float64(stats.TotalConversations)
		stats.AvgMessagesPerConversation = math.Round(avg*10) / 10
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var startedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&conv.ID,
		&conv.SessionID,
		&conv.StoreID,
		&conv.ProductID,
		&conv.ProductTitle,
		&conv.Status,
		&conv.MessageCount,
		&startedAt,
		&endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	conv.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		conv.EndedAt = &t
	}
	return &conv, nil
}
