package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	// FrameAncestors lists the hosts allowed to embed the widget. Empty forbids framing.
	FrameAncestors []string
	IsDevelopment  bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := buildCSP(cfg)

	return func(c *fiber.Ctx) error {
		if len(cfg.FrameAncestors) == 0 {
			c.Set("X-Frame-Options", "DENY")
		}
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildCSP(cfg HeadersConfig) string {
	ancestors := "'none'"
	if len(cfg.FrameAncestors) > 0 {
		ancestors = "'self' " + strings.Join(cfg.FrameAncestors, " ")
	}

	connect := "'self'"
	for _, origin := range cfg.AllowedOrigins {
		if origin != "" && origin != "*" {
			connect += " " + origin
		}
	}

	return "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"font-src 'self' data:; " +
		"connect-src " + connect + "; " +
		"frame-ancestors " + ancestors + "; " +
		"base-uri 'self'; " +
		"form-action 'self'"
}
