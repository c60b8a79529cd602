package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/utils"
)

var (
	longDash      = regexp.MustCompile(`[—–]`)
	quotedPunct   = regexp.MustCompile(`"\s*([-,:;])\s*"`)
	freeDash      = regexp.MustCompile(`[ \t]+-[ \t]*|[ \t]*-[ \t]+`)
	blankRun      = regexp.MustCompile(`[ \t]{2,}`)
	lineEdge      = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	newlineRun    = regexp.MustCompile(`\n{3,}`)
	wrappingQuote = regexp.MustCompile(`^[\s"]+|[\s"]+$`)
)

// sanitizeRounds bounds the fixpoint loop; dash runs settle within a few rounds.
const sanitizeRounds = 16

// Sanitize normalizes answer punctuation and whitespace. Hyphens inside words are kept;
// line breaks survive so bullets stay readable. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	for range sanitizeRounds {
		next := sanitizeOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func sanitizeOnce(s string) string {
	s = longDash.ReplaceAllString(s, "-")
	s = quotedPunct.ReplaceAllString(s, "$1")
	s = freeDash.ReplaceAllString(s, " - ")
	s = blankRun.ReplaceAllString(s, " ")
	s = lineEdge.ReplaceAllString(s, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return wrappingQuote.ReplaceAllString(s, "")
}

// NoEvidenceAnswer is returned when there is nothing to build an answer from.
const NoEvidenceAnswer = "I couldn't find enough in the reviews to answer that confidently."

// FallbackFromEvidence builds a deterministic answer straight from the evidence text.
func FallbackFromEvidence(question string, evidence []models.Evidence, limit int) string {
	if len(evidence) == 0 {
		return NoEvidenceAnswer
	}
	if limit > 0 && len(evidence) > limit {
		evidence = evidence[:limit]
	}

	lines := make([]string, 0, len(evidence))
	for i, e := range evidence {
		line := fmt.Sprintf("%d. %s/5", i+1, formatRating(e.Rating))
		if fit := strings.TrimSpace(e.FitFeedback); fit != "" {
			line += " • " + fit
		}
		line += " — " + utils.Truncate(utils.CollapseSpaces(e.Body), snippetLen)
		lines = append(lines, line)
	}
	return fmt.Sprintf("Here's what customers mention related to \"%s\":\n\n%s", strings.TrimSpace(question), strings.Join(lines, "\n"))
}
