package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type AskCounter interface {
	AskCounts(ctx context.Context, day time.Time, outcomes []string) (map[string]int64, error)
}

type HealthHandler struct {
	checks  map[string]Pinger
	counter AskCounter
	started time.Time
}

// NewHealthHandler takes the dependencies readiness depends on, by name. counter may be nil.
func NewHealthHandler(checks map[string]Pinger, counter AskCounter) *HealthHandler {
	return &HealthHandler{checks: checks, counter: counter, started: time.Now()}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"uptime": int64(time.Since(h.started).Seconds()),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	ready := "ready"
	if status != fiber.StatusOK {
		ready = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{"status": ready, "checks": results})
}

// AskStats reports today's answer counts by outcome.
func (h *HealthHandler) AskStats(c *fiber.Ctx) error {
	if h.counter == nil {
		return errorJSON(c, fiber.StatusNotFound, "ask counters are disabled")
	}
	outcomes := []string{string(query.OutcomeOK), string(query.OutcomePolicy), string(query.OutcomeDegraded)}
	counts, err := h.counter.AskCounts(c.UserContext(), time.Now(), outcomes)
	if err != nil {
		logger.Error("Failed to read ask counters", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read ask counters")
	}
	return c.JSON(fiber.Map{"day": time.Now().UTC().Format("2006-01-02"), "counts": counts})
}
