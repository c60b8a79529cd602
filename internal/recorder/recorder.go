// Package recorder persists conversations and messages for the ask pipeline.
package recorder

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/pkg/logger"
)

// Store is the persistence the recorder needs. *sqlite.Client satisfies it.
type Store interface {
	GetOrCreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error)
	GetConversationBySession(ctx context.Context, sessionID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	EndConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context, storeID string, limit int) ([]models.Conversation, error)
	ConversationStats(ctx context.Context, storeID string) (*models.ConversationStats, error)
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SetSetting(ctx context.Context, key, value string) error
}

// DemoSessionID is the session behind the shared demo thread.
const DemoSessionID = "demo"

type Recorder struct {
	store Store
}

func New(store Store) *Recorder {
	return &Recorder{store: store}
}

// GetOrCreateConversation is idempotent per session id.
func (r *Recorder) GetOrCreateConversation(ctx context.Context, sessionID, storeID, productID, productTitle string) (*models.Conversation, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, apperr.Persistence("get or create conversation", errors.New("session id is required"))
	}

	conv, created, err := r.store.GetOrCreateConversation(ctx, &models.Conversation{
		SessionID:    sessionID,
		StoreID:      storeID,
		ProductID:    productID,
		ProductTitle: productTitle,
	})
	if err != nil {
		return nil, false, r.fail("get_or_create", err)
	}
	return conv, created, nil
}

// SaveMessage appends one message and bumps the conversation's message count atomically.
func (r *Recorder) SaveMessage(ctx context.Context, conversationID, role, text string, sourcesCount *int, suggestions []string) (*models.Message, error) {
	msg, err := r.store.SaveMessage(ctx, &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        text,
		SourcesCount:   sourcesCount,
		Suggestions:    suggestions,
	})
	if err != nil {
		return nil, r.fail("save_message", err)
	}
	return msg, nil
}

func (r *Recorder) EndConversation(ctx context.Context, conversationID string) error {
	if err := r.store.EndConversation(ctx, conversationID); err != nil {
		return r.fail("end", err)
	}
	return nil
}

func (r *Recorder) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, id)
	if err != nil {
		return nil, r.fail("get", err)
	}
	return conv, nil
}

func (r *Recorder) BySession(ctx context.Context, sessionID string) (*models.Conversation, error) {
	conv, err := r.store.GetConversationBySession(ctx, sessionID)
	if err != nil {
		return nil, r.fail("by_session", err)
	}
	return conv, nil
}

func (r *Recorder) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, r.fail("messages", err)
	}
	return msgs, nil
}

func (r *Recorder) Recent(ctx context.Context, storeID string, limit int) ([]models.Conversation, error) {
	convs, err := r.store.ListConversations(ctx, storeID, limit)
	if err != nil {
		return nil, r.fail("recent", err)
	}
	return convs, nil
}

func (r *Recorder) Stats(ctx context.Context, storeID string) (*models.ConversationStats, error) {
	stats, err := r.store.ConversationStats(ctx, storeID)
	if err != nil {
		return nil, r.fail("stats", err)
	}
	return stats, nil
}

// DemoThread returns the shared demo conversation, creating it and recording its id
// under the demo.thread_id setting on first use.
func (r *Recorder) DemoThread(ctx context.Context) (*models.Conversation, error) {
	setting, err := r.store.GetSetting(ctx, models.SettingDemoThreadID)
	switch {
	case err == nil:
		conv, err := r.store.GetConversation(ctx, setting.Value)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return nil, r.fail("demo_thread", err)
		}
	case !errors.Is(err, sqlite.ErrNotFound):
		return nil, r.fail("demo_thread", err)
	}

	conv, _, err := r.store.GetOrCreateConversation(ctx, &models.Conversation{SessionID: DemoSessionID})
	if err != nil {
		return nil, r.fail("demo_thread", err)
	}
	if err := r.store.SetSetting(ctx, models.SettingDemoThreadID, conv.ID); err != nil {
		return nil, r.fail("demo_thread", err)
	}
	return conv, nil
}

func (r *Recorder) fail(op string, err error) error {
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	logger.Warn("Conversation persistence failed", zap.String("op", op), zap.Error(err))
	return apperr.Persistence(op, err)
}
