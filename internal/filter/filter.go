// Package filter narrows retrieved evidence using keyword and rating constraints parsed
// from the question.
package filter

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/logger"
)

// strictEpsilon turns "under N" into an inclusive bound just below N.
const strictEpsilon = 0.001

type Constraints struct {
	Keywords  []string `json:"keywords,omitempty"`
	MinRating *float64 `json:"min_rating,omitempty"`
	MaxRating *float64 `json:"max_rating,omitempty"`
}

func (c Constraints) Empty() bool {
	return len(c.Keywords) == 0 && c.MinRating == nil && c.MaxRating == nil
}

type ratingRule struct {
	re    *regexp.Regexp
	group int
	delta float64
}

var (
	num = `(\d(?:\.\d+)?)`

	maxRules = []ratingRule{
		{regexp.MustCompile(num + `\s*stars?\s*(?:or\s*less|and\s*below|or\s*fewer)`), 1, 0},
		{regexp.MustCompile(`<=\s*` + num), 1, 0},
		{regexp.MustCompile(`<\s*` + num), 1, -strictEpsilon},
		{regexp.MustCompile(`(?:under|below|less\s*than)\s*` + num), 1, -strictEpsilon},
		{regexp.MustCompile(`at\s*most\s*` + num), 1, 0},
	}
	minRules = []ratingRule{
		{regexp.MustCompile(`>=\s*` + num), 1, 0},
		{regexp.MustCompile(`>\s*` + num), 1, strictEpsilon},
		{regexp.MustCompile(num + `\s*stars?\s*(?:or\s*more|and\s*above|or\s*higher|and\s*up)`), 1, 0},
		{regexp.MustCompile(`at\s*least\s*` + num), 1, 0},
	}

	// Double-quoted phrases anywhere; single-quoted only when the quotes sit at word
	// edges, so contractions like "what's" are not read as quotes.
	doubleQuoted = regexp.MustCompile(`"([^"]+)"`)
	singleQuoted = regexp.MustCompile(`(?:^|[\s(])'([^']+)'(?:$|[\s).,?!;:])`)
)

type Extractor struct {
	attributes []*regexp.Regexp
	terms      []string
}

// NewExtractor builds an extractor for the given attribute allow-list. Each term also
// matches its plural.
func NewExtractor(attributeTerms []string) *Extractor {
	e := &Extractor{}
	for _, t := range attributeTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		e.terms = append(e.terms, t)
		e.attributes = append(e.attributes, regexp.MustCompile(`\b`+regexp.QuoteMeta(t)+`(?:s|es)?\b`))
	}
	return e
}

func (e *Extractor) ExtractConstraints(question string) Constraints {
	q := strings.ToLower(question)
	var c Constraints

	seen := map[string]bool{}
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		c.Keywords = append(c.Keywords, k)
	}

	for _, m := range doubleQuoted.FindAllStringSubmatch(q, -1) {
		add(m[1])
	}
	for _, m := range singleQuoted.FindAllStringSubmatch(q, -1) {
		add(m[1])
	}
	for i, re := range e.attributes {
		if re.MatchString(q) {
			add(e.terms[i])
		}
	}

	c.MaxRating = firstRating(q, maxRules)
	c.MinRating = firstRating(q, minRules)
	return c
}

func firstRating(q string, rules []ratingRule) *float64 {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[r.group], 64)
		if err != nil {
			continue
		}
		v += r.delta
		return &v
	}
	return nil
}

// Matches reports whether one review satisfies every constraint. Any keyword suffices.
func Matches(r models.Review, c Constraints) bool {
	if c.MaxRating != nil && r.Rating > *c.MaxRating {
		return false
	}
	if c.MinRating != nil && r.Rating < *c.MinRating {
		return false
	}
	if len(c.Keywords) == 0 {
		return true
	}
	body := strings.ToLower(r.Body)
	for _, k := range c.Keywords {
		if strings.Contains(body, k) {
			return true
		}
	}
	return false
}

func Apply(evidence []models.Evidence, c Constraints) []models.Evidence {
	out := make([]models.Evidence, 0, len(evidence))
	for _, e := range evidence {
		if Matches(e.Review, c) {
			out = append(out, e)
		}
	}
	return out
}

// Corpus supplies every review in scope for the full-scan fallback.
type Corpus func(ctx context.Context) ([]models.Evidence, error)

type Result struct {
	Evidence []models.Evidence
	Filtered bool
	FullScan bool
}

type Refiner struct {
	threshold int
	inDomain  func(body string) bool
}

// NewRefiner returns a refiner that scans the corpus when the window yields fewer than
// threshold matches. inDomain may be nil.
func NewRefiner(threshold int, inDomain func(body string) bool) *Refiner {
	return &Refiner{threshold: threshold, inDomain: inDomain}
}

// Refine applies c to the retrieved window, falling back to a full corpus scan when
// the window is too thin. The filtered set replaces evidence only when non-empty.
func (r *Refiner) Refine(ctx context.Context, evidence []models.Evidence, c Constraints, corpus Corpus) Result {
	if c.Empty() {
		return Result{Evidence: evidence}
	}

	filtered := Apply(evidence, c)
	fullScan := false

	if len(filtered) < r.threshold && corpus != nil {
		all, err := corpus(ctx)
		if err != nil {
			logger.Warn("Full-scan filter failed, keeping window", zap.Error(err))
		} else {
			fullScan = true
			metrics.FilterFullScans.Inc()
			scanned := make([]models.Evidence, 0, len(all))
			for _, e := range all {
				if r.inDomain != nil && !r.inDomain(e.Body) {
					continue
				}
				if Matches(e.Review, c) {
					scanned = append(scanned, e)
				}
			}
			if len(scanned) > 0 {
				filtered = scanned
			}
		}
	}

	logger.Debug("Structured filter applied",
		zap.Strings("keywords", c.Keywords),
		zap.Int("window", len(evidence)),
		zap.Int("matched", len(filtered)),
		zap.Bool("full_scan", fullScan),
	)

	if len(filtered) == 0 {
		return Result{Evidence: evidence, FullScan: fullScan}
	}
	return Result{Evidence: filtered, Filtered: true, FullScan: fullScan}
}
