package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/reco-agent/backend/internal/storage/models"
)

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SetSetting(ctx context.Context, key, value string) error
}

type SettingsHandler struct {
	store SettingsStore
}

func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	setting, err := h.store.GetSetting(c.UserContext(), c.Params("key"))
	if err != nil {
		return storeError(c, err, "setting")
	}
	return c.JSON(setting)
}

func (h *SettingsHandler) Put(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return errorJSON(c, fiber.StatusBadRequest, "key is required")
	}

	var req struct {
		Value *string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return errorJSON(c, fiber.StatusBadRequest, "value is required")
	}

	if err := h.store.SetSetting(c.UserContext(), key, *req.Value); err != nil {
		return storeError(c, err, "setting")
	}
	return c.JSON(fiber.Map{"ok": true, "key": key, "value": *req.Value})
}
