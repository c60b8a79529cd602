package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/ingestion"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/pkg/logger"
)

type Ingester interface {
	BulkUpsert(ctx context.Context, raw []ingestion.RawReview) (*ingestion.Result, error)
	NormalizeAndDedupe(ctx context.Context) (*ingestion.Report, error)
}

type ReviewCatalog interface {
	CountReviews(ctx context.Context, filter sqlite.ReviewFilter) (int, error)
	ListProducts(ctx context.Context) ([]string, error)
}

type ReviewHandler struct {
	ingester Ingester
	catalog  ReviewCatalog
}

func NewReviewHandler(ingester Ingester, catalog ReviewCatalog) *ReviewHandler {
	return &ReviewHandler{ingester: ingester, catalog: catalog}
}

// Bulk accepts either a bare array of reviews or {"reviews": [...]}.
func (h *ReviewHandler) Bulk(c *fiber.Ctx) error {
	var raw []ingestion.RawReview
	if err := c.BodyParser(&raw); err != nil {
		var wrapped struct {
			Reviews []ingestion.RawReview `json:"reviews"`
		}
		if err := c.BodyParser(&wrapped); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
		}
		raw = wrapped.Reviews
	}
	if len(raw) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "No reviews supplied")
	}

	res, err := h.ingester.BulkUpsert(c.UserContext(), raw)
	if err != nil {
		logger.Error("Bulk upsert failed", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to ingest reviews")
	}
	return c.JSON(res)
}

func (h *ReviewHandler) Normalize(c *fiber.Ctx) error {
	report, err := h.ingester.NormalizeAndDedupe(c.UserContext())
	if err != nil {
		logger.Error("Normalize failed", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to normalize reviews")
	}
	return c.JSON(report)
}

func (h *ReviewHandler) Count(c *fiber.Ctx) error {
	n, err := h.catalog.CountReviews(c.UserContext(), sqlite.ReviewFilter{
		ProductID: c.Query("product_id"),
		StoreID:   c.Query("store_id"),
	})
	if err != nil {
		return storeError(c, err, "reviews")
	}
	return c.JSON(fiber.Map{"count": n})
}

func (h *ReviewHandler) Products(c *fiber.Ctx) error {
	products, err := h.catalog.ListProducts(c.UserContext())
	if err != nil {
		return storeError(c, err, "products")
	}
	if products == nil {
		products = []string{}
	}
	return c.JSON(fiber.Map{"products": products})
}
