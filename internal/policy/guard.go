// Package policy keeps store-policy questions away from the review pipeline.
package policy

import (
	"regexp"
	"strings"

	"github.com/reco-agent/backend/pkg/config"
)

type Guard struct {
	pattern     *regexp.Regexp
	redirect    string
	suggestions []string
}

func NewGuard(cfg config.PolicyConfig) *Guard {
	g := &Guard{
		redirect:    cfg.Redirect,
		suggestions: append([]string(nil), cfg.Suggestions...),
	}

	alts := make([]string, 0, len(cfg.Terms))
	for _, t := range cfg.Terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		// Multi-word terms match across any run of whitespace.
		words := strings.Fields(regexp.QuoteMeta(t))
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) > 0 {
		g.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
	}
	return g
}

// IsOutOfScope reports whether the question is about returns, shipping or other store
// policy rather than the product itself.
func (g *Guard) IsOutOfScope(question string) bool {
	return g.pattern != nil && g.pattern.MatchString(question)
}

// SafeRedirect returns the fixed answer steering the user back to fit and feel.
func (g *Guard) SafeRedirect(string) string {
	return g.redirect
}

func (g *Guard) Suggestions() []string {
	return append([]string(nil), g.suggestions...)
}
