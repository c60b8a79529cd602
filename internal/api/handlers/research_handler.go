package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/research"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/logger"
)

type ResearchService interface {
	Start(ctx context.Context, req research.StartRequest) (string, error)
	Get(ctx context.Context, id string) (*models.ResearchSession, error)
}

type ResearchHandler struct {
	runner ResearchService
}

func NewResearchHandler(runner ResearchService) *ResearchHandler {
	return &ResearchHandler{runner: runner}
}

func (h *ResearchHandler) Start(c *fiber.Ctx) error {
	var req struct {
		Question  string        `json:"question"`
		Query     string        `json:"query"`
		ProductID string        `json:"product_id"`
		Product   string        `json:"product"`
		History   []models.Turn `json:"history"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	question := firstNonEmpty(req.Question, req.Query)
	if question == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Question is required")
	}

	id, err := h.runner.Start(c.UserContext(), research.StartRequest{
		Question:  question,
		ProductID: firstNonEmpty(req.ProductID, req.Product),
		History:   req.History,
	})
	if err != nil {
		logger.Error("Failed to start research", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to start research")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "id": id})
}

func (h *ResearchHandler) Get(c *fiber.Ctx) error {
	session, err := h.runner.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(c, err, "research session")
	}
	return c.JSON(session)
}
