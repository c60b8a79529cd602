package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type Set struct {
	Query         *QueryHandler
	WebSocket     *WebSocketHandler
	Conversations *ConversationHandler
	Research      *ResearchHandler
	Reviews       *ReviewHandler
	Settings      *SettingsHandler
	Health        *HealthHandler
}

// Register mounts every handler under api. Nil handlers are skipped.
func Register(api fiber.Router, h Set) {
	if h.Query != nil {
		api.Post("/ask", h.Query.HandleAsk)
	}

	if h.WebSocket != nil {
		api.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/ws", websocket.New(h.WebSocket.HandleConnection))
	}

	if h.Conversations != nil {
		api.Get("/demo/thread", h.Conversations.DemoThread)
		api.Post("/conversations", h.Conversations.Create)
		api.Get("/conversations/:session", h.Conversations.BySession)
		api.Get("/conversations/:id/messages", h.Conversations.Messages)
		api.Post("/conversations/:id/end", h.Conversations.End)
		api.Get("/stores/:store/conversations", h.Conversations.Recent)
		api.Get("/stores/:store/stats", h.Conversations.Stats)
	}

	if h.Research != nil {
		api.Post("/research", h.Research.Start)
		api.Get("/research/:id", h.Research.Get)
	}

	if h.Reviews != nil {
		api.Post("/reviews/bulk", h.Reviews.Bulk)
		api.Post("/reviews/normalize", h.Reviews.Normalize)
		api.Get("/reviews/count", h.Reviews.Count)
		api.Get("/reviews/products", h.Reviews.Products)
	}

	if h.Settings != nil {
		api.Get("/settings/:key", h.Settings.Get)
		api.Put("/settings/:key", h.Settings.Put)
	}

	if h.Health != nil {
		api.Get("/health", h.Health.Health)
		api.Get("/ready", h.Health.Ready)
		api.Get("/stats/asks", h.Health.AskStats)
	}
}
