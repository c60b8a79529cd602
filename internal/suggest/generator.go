// Package suggest proposes follow-up questions for the chat widget.
package suggest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/llm"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

const (
	count        = 3
	historyTurns = 6
	evidenceCap  = 8
)

const instruction = "You generate 3 short, friendly follow-up questions for a shopping assistant chat about one product. " +
	"Keep each under 7 words, end each with '?', stay on fit, feel, sizing and wear, and avoid repeating the user's question."

type Generator struct {
	gen       llm.Generator
	fallback  []string
	maxTokens int
}

func NewGenerator(gen llm.Generator, cfg config.SuggestConfig) *Generator {
	return &Generator{
		gen:       gen,
		fallback:  append([]string(nil), cfg.Fallback...),
		maxTokens: cfg.MaxTokens,
	}
}

// Fallback returns a copy of the fixed suggestion list.
func (g *Generator) Fallback() []string {
	return append([]string(nil), g.fallback...)
}

// Suggest never fails: any problem yields the fallback list.
func (g *Generator) Suggest(ctx context.Context, question string, evidence []models.Evidence, history []models.Turn) []string {
	out, err := g.generate(ctx, question, evidence, history)
	if err != nil {
		metrics.SuggestionFallbacks.Inc()
		logger.Warn("Using fallback suggestions", zap.Error(err))
		return g.Fallback()
	}
	return out
}

func (g *Generator) generate(ctx context.Context, question string, evidence []models.Evidence, history []models.Turn) ([]string, error) {
	resp, err := g.gen.Generate(ctx, llm.GenerateRequest{
		System:      instruction,
		Turns:       []models.Turn{{Role: models.RoleUser, Text: buildPrompt(question, evidence, history)}},
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, apperr.Suggestion("generate", err)
	}

	items := Parse(resp.Text)
	if len(items) != count {
		return nil, apperr.Suggestion("parse", fmt.Errorf("got %d suggestions from %q", len(items), resp.Text))
	}
	return items, nil
}

func buildPrompt(question string, evidence []models.Evidence, history []models.Turn) string {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	convo := make([]string, 0, len(history))
	for _, h := range history {
		convo = append(convo, h.Role+": "+h.Text)
	}

	if len(evidence) > evidenceCap {
		evidence = evidence[:evidenceCap]
	}
	reviews := make([]string, 0, len(evidence))
	for _, e := range evidence {
		reviews = append(reviews, fmt.Sprintf("- %g/5 %s: %s", e.Rating, e.FitFeedback, e.Body))
	}

	return fmt.Sprintf("Based on the conversation and these review snippets, propose 3 follow-up questions the user is likely to ask next. "+
		"Return ONLY a JSON array of strings.\n\nConversation:\n%s\n\nUser question: %s\n\nReviews:\n%s",
		strings.Join(convo, "\n"), question, strings.Join(reviews, "\n"))
}

var (
	fence      = regexp.MustCompile("```(?:json)?")
	splitter   = regexp.MustCompile(`[\n,]`)
	itemPrefix = regexp.MustCompile(`^[\s\-*•"'\[\d.)]+`)
	itemSuffix = regexp.MustCompile(`[\s"'\],]+$`)
)

// Parse reads model output as a JSON array, falling back to splitting lines and commas.
// It returns at most three non-empty items.
func Parse(text string) []string {
	t := strings.TrimSpace(fence.ReplaceAllString(text, ""))
	if t == "" {
		return nil
	}

	if items, ok := parseJSON(t); ok {
		return items
	}
	return parseLoose(t)
}

func parseJSON(t string) ([]string, bool) {
	if !gjson.Valid(t) {
		return nil, false
	}
	r := gjson.Parse(t)
	if !r.IsArray() {
		return nil, false
	}
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
		return len(out) < count
	})
	return out, true
}

func parseLoose(t string) []string {
	var out []string
	for _, part := range splitter.Split(t, -1) {
		s := itemPrefix.ReplaceAllString(part, "")
		s = itemSuffix.ReplaceAllString(s, "")
		// A salvaged suggestion must still look like a question.
		if s == "" || !strings.HasSuffix(s, "?") {
			continue
		}
		out = append(out, s)
		if len(out) == count {
			break
		}
	}
	return out
}
