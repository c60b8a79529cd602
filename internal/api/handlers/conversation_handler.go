package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/reco-agent/backend/internal/storage/models"
)

type ConversationService interface {
	GetOrCreateConversation(ctx context.Context, sessionID, storeID, productID, productTitle string) (*models.Conversation, bool, error)
	EndConversation(ctx context.Context, conversationID string) error
	BySession(ctx context.Context, sessionID string) (*models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	Recent(ctx context.Context, storeID string, limit int) ([]models.Conversation, error)
	Stats(ctx context.Context, storeID string) (*models.ConversationStats, error)
	DemoThread(ctx context.Context) (*models.Conversation, error)
}

type ConversationHandler struct {
	conversations ConversationService
}

func NewConversationHandler(conversations ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	var req struct {
		SessionID     string `json:"session_id"`
		StoreID       string `json:"store_id"`
		ShopifyDomain string `json:"shopify_domain"`
		ProductID     string `json:"product_id"`
		ProductTitle  string `json:"product_title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	session := firstNonEmpty(req.SessionID, c.Get("X-Session-ID"))
	if session == "" {
		return errorJSON(c, fiber.StatusBadRequest, "session_id is required")
	}

	conv, created, err := h.conversations.GetOrCreateConversation(c.UserContext(),
		session, firstNonEmpty(req.StoreID, req.ShopifyDomain), req.ProductID, req.ProductTitle)
	if err != nil {
		return storeError(c, err, "conversation")
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"conversation": conv, "created": created})
}

func (h *ConversationHandler) BySession(c *fiber.Ctx) error {
	conv, err := h.conversations.BySession(c.UserContext(), c.Params("session"))
	if err != nil {
		return storeError(c, err, "conversation")
	}
	return c.JSON(conv)
}

func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	msgs, err := h.conversations.Messages(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(c, err, "messages")
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (h *ConversationHandler) End(c *fiber.Ctx) error {
	if err := h.conversations.EndConversation(c.UserContext(), c.Params("id")); err != nil {
		return storeError(c, err, "conversation")
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ConversationHandler) Recent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	limit = max(1, min(limit, 200))

	convs, err := h.conversations.Recent(c.UserContext(), c.Params("store"), limit)
	if err != nil {
		return storeError(c, err, "conversations")
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

func (h *ConversationHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.conversations.Stats(c.UserContext(), c.Params("store"))
	if err != nil {
		return storeError(c, err, "stats")
	}
	return c.JSON(stats)
}

func (h *ConversationHandler) DemoThread(c *fiber.Ctx) error {
	conv, err := h.conversations.DemoThread(c.UserContext())
	if err != nil {
		return storeError(c, err, "demo thread")
	}
	return c.JSON(conv)
}
