package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/middleware/validation"
	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/pkg/logger"
)

type Asker interface {
	Ask(ctx context.Context, req query.AskRequest) *query.AskResponse
}

type QueryHandler struct {
	engine Asker
}

func NewQueryHandler(engine Asker) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// askPayload is the widget request. Older widgets send query, product, tenant_id,
// shopify_domain or research instead of the canonical fields.
type askPayload struct {
	Question      string        `json:"question"`
	Query         string        `json:"query"`
	ProductID     string        `json:"product_id"`
	Product       string        `json:"product"`
	ProductTitle  string        `json:"product_title"`
	Mode          string        `json:"mode"`
	Research      bool          `json:"research"`
	SessionID     string        `json:"session_id"`
	StoreID       string        `json:"store_id"`
	TenantID      string        `json:"tenant_id"`
	ShopifyDomain string        `json:"shopify_domain"`
	History       []models.Turn `json:"history"`
	TopK          int           `json:"top_k"`
}

var (
	errUnknownMode      = errors.New("mode must be standard, research or auto")
	errQuestionRequired = errors.New("question is required")
)

func (p askPayload) toRequest(sessionHeader string) (query.AskRequest, error) {
	mode := query.Mode(strings.ToLower(strings.TrimSpace(p.Mode)))
	switch mode {
	case "":
		mode = query.ModeAuto
	case query.ModeAuto, query.ModeStandard, query.ModeResearch:
	default:
		return query.AskRequest{}, errUnknownMode
	}
	if p.Research {
		mode = query.ModeResearch
	}

	return query.AskRequest{
		Question:     firstNonEmpty(p.Question, p.Query),
		ProductID:    firstNonEmpty(p.ProductID, p.Product),
		ProductTitle: p.ProductTitle,
		Mode:         mode,
		SessionID:    firstNonEmpty(p.SessionID, sessionHeader),
		StoreID:      firstNonEmpty(p.StoreID, p.TenantID, p.ShopifyDomain),
		History:      p.History,
		TopK:         p.TopK,
	}, nil
}

// HandleAsk always answers 200 with {ok, answer, evidence, suggestions}; ok=false marks a
// degraded answer.
func (h *QueryHandler) HandleAsk(c *fiber.Ctx) error {
	var payload askPayload
	if err := c.BodyParser(&payload); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	req, err := payload.toRequest(c.Get("X-Session-ID"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if q, ok := c.Locals(validation.QuestionKey).(string); ok && q != "" {
		req.Question = q
	}
	if strings.TrimSpace(req.Question) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Question is required")
	}

	return c.JSON(h.engine.Ask(c.UserContext(), req))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"ok": false, "error": msg})
}

// storeError maps a store failure onto an HTTP response.
func storeError(c *fiber.Ctx, err error, what string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, what+" not found")
	}
	logger.Error("Request failed", zap.String("resource", what), zap.Error(err))
	return errorJSON(c, fiber.StatusInternalServerError, "Failed to load "+what)
}
