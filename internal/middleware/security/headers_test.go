package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAllowConfiguredFrameAncestors(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{
		AllowedOrigins: []string{"*", "https://shop.example"},
		FrameAncestors: []string{"https://*.myshopify.com"},
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)

	csp := resp.Header.Get("Content-Security-Policy")
	assert.Contains(t, csp, "frame-ancestors 'self' https://*.myshopify.com;")
	assert.Contains(t, csp, "connect-src 'self' https://shop.example;")
	assert.Empty(t, resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestHeadersDenyFramingByDefault(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{IsDevelopment: true}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none';")
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}
