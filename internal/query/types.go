// Package query answers shopper questions from product reviews.
package query

import (
	"github.com/reco-agent/backend/internal/storage/models"
)

// State is a step of the ask pipeline. A request moves forward through the states in
// declaration order; StateDegraded replaces embedded..suggested when a dependency fails.
type State string

const (
	StateReceived    State = "received"
	StateGuarded     State = "guarded"
	StateEmbedded    State = "embedded"
	StateRetrieved   State = "retrieved"
	StateFiltered    State = "filtered"
	StateSynthesized State = "synthesized"
	StateSuggested   State = "suggested"
	StateRecorded    State = "recorded"
	StateReturned    State = "returned"
	StateDegraded    State = "degraded"
)

type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeStandard Mode = "standard"
	ModeResearch Mode = "research"
)

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomePolicy   Outcome = "policy"
	OutcomeDegraded Outcome = "degraded"
)

type AskRequest struct {
	Question     string
	ProductID    string
	ProductTitle string
	Mode         Mode
	SessionID    string
	StoreID      string
	History      []models.Turn
	TopK         int
}

type AskResponse struct {
	OK             bool              `json:"ok"`
	Answer         string            `json:"answer"`
	Evidence       []models.Evidence `json:"evidence"`
	Suggestions    []string          `json:"suggestions"`
	ConversationID string            `json:"conversation_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Tier           string            `json:"tier,omitempty"`
	State          State             `json:"-"`
}
