package synth

import (
	"fmt"
	"strings"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/utils"
)

type Mode string

const (
	ModeStandard Mode = "standard"
	ModeResearch Mode = "research"
)

// Persona renders the system instruction for the assistant.
type Persona struct {
	Name string
}

func (p Persona) System() string {
	name := p.Name
	if name == "" {
		name = "Reco"
	}
	return fmt.Sprintf(`You are %s, a shopping assistant. You're helpful, knowledgeable and focused on helping shoppers decide with confidence. Ground every answer in the provided customer reviews.

TONE:
- Conversational and warm, but professional.
- Open naturally and vary openings: jump straight to the answer for direct questions, reassure when the shopper sounds worried.
- Avoid overly casual terms like 'babe', 'honey' or 'hun'.

LANGUAGE:
- Reference reviewers by name when quoting (e.g. "Sarah M. mentioned...").
- Say "customers" or "reviewers" naturally.

CONTENT RULES:
- Business or analysis questions: 3 to 5 bullets with insights plus a recommendation.
- Normal questions: one conversational paragraph with 2 to 3 reviewer quotes (name and rating).
- If the reviews don't address the question, say so honestly and share the closest relevant information.
- Policy questions (returns, shipping, refunds): redirect warmly to fit and feel.

STYLE: No em dashes. Natural sentence variety.`, name)
}

// Strict is the system instruction for the retry tiers.
func (p Persona) Strict() string {
	return p.System() + `

OUTPUT REQUIREMENTS: Respond in natural prose with at least 2 sentences (more than 60 characters). Never return an empty response. If the reviews don't cover the question directly, say that and redirect to the closest fit, feel or use guidance from the reviews. Always include your own consensus beyond any quote.
Avoid em and en dashes; prefer commas or short sentences.
MUST: Minimum 80 characters. Do not output only headings or placeholders.`
}

// ModeHint is the per-mode formatting instruction appended to the question.
type ModeHint string

func HintFor(mode Mode) ModeHint {
	if mode == ModeResearch {
		return "BI MODE: 3–5 concise bullets with bold short headings + one recommendation paragraph. If the user named keywords or rating thresholds, only use matching reviews."
	}
	return `STANDARD MODE: Write one natural paragraph in persona. Weave 2–3 short reviewer attributions inline like: Abby M. (4/5) "…". Avoid headings or bullet sections.`
}

// EvidenceBlock renders reviews for a prompt.
type EvidenceBlock []models.Evidence

func (b EvidenceBlock) String() string {
	parts := make([]string, 0, len(b))
	for _, e := range b {
		parts = append(parts, fmt.Sprintf("- Author: %s\n  Rating: %s/5\n  Fit: %s\n  Review: %s",
			e.AuthorName, formatRating(e.Rating), e.FitFeedback, e.Body))
	}
	return strings.Join(parts, "\n\n")
}

// Seeds renders the first n reviews as short bullet lines.
func (b EvidenceBlock) Seeds(n int) string {
	lines := make([]string, 0, n)
	for i, e := range b {
		if i == n {
			break
		}
		lines = append(lines, fmt.Sprintf("• %s/5 %s — %s", formatRating(e.Rating), e.FitFeedback, utils.Truncate(e.Body, snippetLen)))
	}
	return strings.Join(lines, "\n")
}

const snippetLen = 140

func formatRating(r float64) string {
	return fmt.Sprintf("%g", r)
}

// Prompt is a fully assembled generation input.
type Prompt struct {
	System string
	Turns  []models.Turn
}

// BuildPrompt assembles the primary prompt. The last historyTurns turns of history
// precede the question.
func BuildPrompt(persona Persona, question string, evidence []models.Evidence, mode Mode, history []models.Turn, historyTurns int) Prompt {
	user := fmt.Sprintf("User question: %q. %s\n\nGround your answer ONLY in these customer reviews:\n\n%s",
		question, HintFor(mode), EvidenceBlock(evidence))
	return Prompt{
		System: persona.System(),
		Turns:  withHistory(history, historyTurns, user),
	}
}

func strictPrompt(persona Persona, question string, evidence []models.Evidence, mode Mode, history []models.Turn, historyTurns int) Prompt {
	user := fmt.Sprintf("Rewrite clearly in persona. Question: %q. %s\n\nReviews:\n%s",
		question, HintFor(mode), EvidenceBlock(evidence))
	return Prompt{System: persona.Strict(), Turns: withHistory(history, historyTurns, user)}
}

func seedsPrompt(persona Persona, question string, evidence []models.Evidence, history []models.Turn, historyTurns int) Prompt {
	user := fmt.Sprintf("Using ONLY these review bullet seeds, write one helpful paragraph answering: %q in persona.\n\nSeeds:\n%s",
		question, EvidenceBlock(evidence).Seeds(5))
	return Prompt{System: persona.Strict(), Turns: withHistory(history, historyTurns, user)}
}

func withHistory(history []models.Turn, n int, user string) []models.Turn {
	if n < 0 {
		n = 0
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	turns := make([]models.Turn, 0, len(history)+1)
	for _, h := range history {
		text := strings.TrimSpace(h.Text)
		if text == "" {
			continue
		}
		role := models.RoleUser
		if h.Role == models.RoleAssistant || h.Role == "model" {
			role = models.RoleAssistant
		}
		turns = append(turns, models.Turn{Role: role, Text: text})
	}
	return append(turns, models.Turn{Role: models.RoleUser, Text: user})
}
