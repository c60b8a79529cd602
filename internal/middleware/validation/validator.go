// Package validation rejects malformed ask requests before they reach the pipeline.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// QuestionKey holds the validated question in fiber locals.
const QuestionKey = "question"

var markupPattern = regexp.MustCompile(`(?i)(<\s*script|<\s*iframe|<\s*object|<\s*embed|javascript:|\bon(error|load|click|mouseover)\s*=)`)

type Config struct {
	MaxQuestionLength   int
	AllowedContentTypes []string
	// Paths whose JSON body must carry a question. Matched by suffix.
	QuestionPaths []string
	Logger        *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if len(cfg.QuestionPaths) == 0 {
		cfg.QuestionPaths = []string{"/ask", "/research"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		if !matchesPath(c.Path(), cfg.QuestionPaths) {
			return c.Next()
		}

		body := c.Body()
		if !gjson.ValidBytes(body) {
			return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
		}

		q := gjson.GetBytes(body, "question")
		if !q.Exists() {
			q = gjson.GetBytes(body, "query")
		}
		if q.Type != gjson.String {
			return reject(c, fiber.StatusBadRequest, "Question is required and must be a string")
		}

		question := sanitizeString(q.String())
		if question == "" {
			return reject(c, fiber.StatusBadRequest, "Question is required and must be a string")
		}
		if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
			return reject(c, fiber.StatusBadRequest, "Question exceeds maximum length")
		}
		if containsMarkup(question) {
			cfg.Logger.Warn("Markup in question rejected",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return reject(c, fiber.StatusBadRequest, "Invalid question content")
		}

		c.Locals(QuestionKey, question)
		return c.Next()
	}
}

func containsMarkup(input string) bool {
	return markupPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

func allowedType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func matchesPath(path string, suffixes []string) bool {
	path = strings.TrimRight(path, "/")
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"ok": false, "error": msg})
}
