// Package builder pulls product themes out of review text.
package builder

import (
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/pkg/logger"
)

const defaultMaxThemes = 12

var stopNouns = map[string]bool{
	"product": true, "item": true, "thing": true, "things": true, "review": true,
	"reviews": true, "time": true, "lot": true, "bit": true, "way": true, "day": true,
	"days": true, "everything": true, "something": true, "nothing": true, "anything": true,
	"one": true, "ones": true, "star": true, "stars": true, "order": true, "%": true,
}

type Extractor struct {
	maxThemes int
}

func NewExtractor(maxThemes int) *Extractor {
	if maxThemes <= 0 {
		maxThemes = defaultMaxThemes
	}
	return &Extractor{maxThemes: maxThemes}
}

// Themes returns the distinct common nouns of text in first-seen order.
func (e *Extractor) Themes(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		logger.Debug("Theme tagging failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var themes []string
	for _, tok := range doc.Tokens() {
		if tok.Tag != "NN" && tok.Tag != "NNS" {
			continue
		}
		word := strings.ToLower(strings.Trim(tok.Text, ".,;:!?'\"()"))
		if len(word) < 3 || stopNouns[word] || seen[word] {
			continue
		}
		seen[word] = true
		themes = append(themes, word)
		if len(themes) == e.maxThemes {
			break
		}
	}
	return themes
}

// Merge counts themes across many texts and returns the most frequent, ties kept in
// first-seen order.
func (e *Extractor) Merge(texts []string, limit int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, theme := range e.Themes(t) {
			if counts[theme] == 0 {
				order = append(order, theme)
			}
			counts[theme]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	return order
}
