package retrieval

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/config"
)

// Policy holds the compiled question heuristics used to size and clean retrieval.
type Policy struct {
	cfg       config.RetrievalConfig
	research  *regexp.Regexp
	offDomain *regexp.Regexp
	coMention *regexp.Regexp
}

func NewPolicy(cfg config.RetrievalConfig) (*Policy, error) {
	p := &Policy{cfg: cfg}
	var err error
	if p.research, err = compile("research", cfg.ResearchPattern); err != nil {
		return nil, err
	}
	if p.offDomain, err = compile("off-domain", cfg.OffDomainPattern); err != nil {
		return nil, err
	}
	if p.coMention, err = compile("co-mention", cfg.CoMentionPattern); err != nil {
		return nil, err
	}
	return p, nil
}

func compile(name, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", name, err)
	}
	return re, nil
}

// IsResearchQuestion reports whether the question asks for cross-review insight.
func (p *Policy) IsResearchQuestion(question string) bool {
	return p.research != nil && p.research.MatchString(question)
}

// KFor sizes top-K: a larger base for research, halved for short questions and
// boosted for long ones, within [MinK, MaxK].
func (p *Policy) KFor(question string, research bool) int {
	k := p.cfg.BaseK
	if research {
		k = p.cfg.ResearchK
	}

	n := utf8.RuneCountInString(question)
	if n < p.cfg.ShortQuestionLen {
		k = max(p.cfg.MinK, k/2)
	}
	if n > p.cfg.LongQuestionLen {
		k = min(p.cfg.MaxK, k+p.cfg.LongBoost)
	}
	return k
}

// ClampK bounds a caller-supplied K to the configured range.
func (p *Policy) ClampK(k int) int {
	return max(p.cfg.MinK, min(p.cfg.MaxK, k))
}

// ExcludeOffDomain drops reviews about another product category unless they also
// mention the target one.
func (p *Policy) ExcludeOffDomain(evidence []models.Evidence) []models.Evidence {
	if p.offDomain == nil {
		return evidence
	}
	out := evidence[:0:0]
	for _, e := range evidence {
		if p.InDomain(e.Body) {
			out = append(out, e)
		}
	}
	return out
}

func (p *Policy) InDomain(body string) bool {
	if p.offDomain == nil || !p.offDomain.MatchString(body) {
		return true
	}
	return p.coMention != nil && p.coMention.MatchString(body)
}
