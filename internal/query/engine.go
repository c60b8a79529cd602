package query

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/filter"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/policy"
	"github.com/reco-agent/backend/internal/retrieval"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/synth"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/logger"
)

const (
	// ConsensusAnswer is used on the degraded path when the direct call returns nothing.
	ConsensusAnswer = "Based on recent reviews, people talk about compression, smooth lines, and true to size with occasional sizing up for longer torsos."
	// CapabilityAnswer is the last resort when not even recent reviews can be read.
	CapabilityAnswer = "I can help you learn about this product based on customer reviews - ask me about fit, comfort, compression, or how it looks under clothes."

	templateLimit = 5
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]models.Evidence, error)
	ListAll(ctx context.Context, filter vector.Filter) ([]models.Evidence, error)
	Recent(ctx context.Context, n int) ([]models.Evidence, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (synth.Result, error)
	Direct(ctx context.Context, question string, evidence []models.Evidence) (string, error)
}

type Suggester interface {
	Suggest(ctx context.Context, question string, evidence []models.Evidence, history []models.Turn) []string
}

type Recorder interface {
	GetOrCreateConversation(ctx context.Context, sessionID, storeID, productID, productTitle string) (*models.Conversation, bool, error)
	SaveMessage(ctx context.Context, conversationID, role, text string, sourcesCount *int, suggestions []string) (*models.Message, error)
}

// Counter keeps per-day outcome counts. Optional.
type Counter interface {
	IncrementAsk(ctx context.Context, outcome string) error
}

type Deps struct {
	Embedder  Embedder
	Retriever Retriever
	Sizing    *retrieval.Policy
	Guard     *policy.Guard
	Extractor *filter.Extractor
	Refiner   *filter.Refiner
	Synth     Synthesizer
	Suggester Suggester
	Recorder  Recorder
	Counter   Counter

	DegradedSample int
}

type Engine struct {
	embedder       Embedder
	retriever      Retriever
	sizing         *retrieval.Policy
	guard          *policy.Guard
	extractor      *filter.Extractor
	refiner        *filter.Refiner
	synth          Synthesizer
	suggester      Suggester
	recorder       Recorder
	counter        Counter
	degradedSample int
}

func NewEngine(d Deps) *Engine {
	sample := d.DegradedSample
	if sample <= 0 {
		sample = 8
	}
	return &Engine{
		embedder:       d.Embedder,
		retriever:      d.Retriever,
		sizing:         d.Sizing,
		guard:          d.Guard,
		extractor:      d.Extractor,
		refiner:        d.Refiner,
		synth:          d.Synth,
		suggester:      d.Suggester,
		recorder:       d.Recorder,
		counter:        d.Counter,
		degradedSample: sample,
	}
}

// ResolveMode maps a requested mode onto the synthesis mode; auto and empty use the
// research-question heuristic.
func (e *Engine) ResolveMode(requested Mode, question string) synth.Mode {
	switch requested {
	case ModeResearch:
		return synth.ModeResearch
	case ModeStandard:
		return synth.ModeStandard
	}
	if e.sizing.IsResearchQuestion(question) {
		return synth.ModeResearch
	}
	return synth.ModeStandard
}

// Ask answers one question. It always returns a non-empty answer; OK is false when the
// degraded path produced it.
func (e *Engine) Ask(ctx context.Context, req AskRequest) *AskResponse {
	req.Question = strings.TrimSpace(req.Question)
	if req.SessionID == "" {
		req.SessionID = "anon-" + uuid.New().String()
	}

	run := &askRun{sessionID: req.SessionID, start: time.Now()}
	run.to(StateReceived)

	resp := &AskResponse{SessionID: req.SessionID}
	resp.ConversationID = e.recordUser(ctx, req)
	run.to(StateGuarded)

	outcome := OutcomeOK
	switch {
	case e.guard.IsOutOfScope(req.Question):
		outcome = OutcomePolicy
		resp.OK = true
		resp.Answer = synth.Sanitize(e.guard.SafeRedirect(req.Question))
		resp.Evidence = []models.Evidence{}
		resp.Suggestions = e.guard.Suggestions()
		resp.Tier = "policy"
		run.to(StateSynthesized)

	default:
		if err := e.answer(ctx, req, run, resp); err != nil {
			outcome = OutcomeDegraded
			e.degrade(ctx, req, run, resp, err)
		}
	}

	e.recordAssistant(ctx, resp)
	run.to(StateRecorded)

	resp.State = StateReturned
	run.to(StateReturned)

	elapsed := time.Since(run.start)
	metrics.AskDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	metrics.AskTotal.WithLabelValues(string(outcome)).Inc()
	if e.counter != nil {
		if err := e.counter.IncrementAsk(ctx, string(outcome)); err != nil {
			logger.Debug("Failed to bump ask counter", zap.Error(err))
		}
	}

	logger.Info("Question answered",
		zap.String("session_id", req.SessionID),
		zap.String("outcome", string(outcome)),
		zap.String("tier", resp.Tier),
		zap.Int("evidence", len(resp.Evidence)),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	)

	return resp
}

// answer runs embedded through suggested. Any returned error sends the request down the
// degraded path.
func (e *Engine) answer(ctx context.Context, req AskRequest, run *askRun, resp *AskResponse) error {
	mode := e.ResolveMode(req.Mode, req.Question)
	research := mode == synth.ModeResearch

	k := e.sizing.KFor(req.Question, research)
	if req.TopK > 0 {
		k = e.sizing.ClampK(req.TopK)
	}

	embedding, err := e.embedder.Embed(ctx, req.Question)
	if err != nil {
		return err
	}
	run.to(StateEmbedded, zap.Int("k", k), zap.String("mode", string(mode)))

	scope := vector.Filter{ProductID: req.ProductID, StoreID: req.StoreID}
	evidence, err := e.retriever.Retrieve(ctx, embedding, k, scope)
	if err != nil {
		return err
	}
	run.to(StateRetrieved, zap.Int("evidence", len(evidence)))

	evidence = e.sizing.ExcludeOffDomain(evidence)

	constraints := e.extractor.ExtractConstraints(req.Question)
	refined := e.refiner.Refine(ctx, evidence, constraints, func(ctx context.Context) ([]models.Evidence, error) {
		return e.retriever.ListAll(ctx, scope)
	})
	evidence = refined.Evidence
	if len(evidence) > k {
		evidence = evidence[:k]
	}
	metrics.EvidenceCount.Observe(float64(len(evidence)))
	run.to(StateFiltered, zap.Int("evidence", len(evidence)), zap.Bool("full_scan", refined.FullScan))

	result, err := e.synth.Synthesize(ctx, synth.Input{
		Question: req.Question,
		Evidence: evidence,
		Mode:     mode,
		History:  req.History,
	})
	switch {
	case apperr.IsKind(err, apperr.KindSynthesisEmpty):
		metrics.SynthTierTotal.WithLabelValues(string(synth.TierTemplate)).Inc()
		result = synth.Result{
			Answer: synth.Sanitize(synth.FallbackFromEvidence(req.Question, evidence, templateLimit)),
			Tier:   synth.TierTemplate,
		}
	case err != nil:
		return err
	}
	run.to(StateSynthesized, zap.String("tier", string(result.Tier)), zap.Bool("continued", result.Continued))

	resp.OK = true
	resp.Answer = result.Answer
	resp.Tier = string(result.Tier)
	resp.Mode = string(mode)
	resp.Evidence = evidence
	resp.Suggestions = e.suggester.Suggest(ctx, req.Question, evidence, req.History)
	run.to(StateSuggested)

	return nil
}

func (e *Engine) degrade(ctx context.Context, req AskRequest, run *askRun, resp *AskResponse, cause error) {
	run.to(StateDegraded, zap.String("kind", string(apperr.KindOf(cause))), zap.Error(cause))

	resp.OK = false
	resp.Tier = string(synth.TierDirect)
	resp.Suggestions = e.guard.Suggestions()

	recent, err := e.retriever.Recent(ctx, e.degradedSample)
	if err != nil {
		logger.Warn("Degraded path could not read recent reviews", zap.Error(err))
		resp.Answer = CapabilityAnswer
		resp.Evidence = []models.Evidence{}
		return
	}

	text, err := e.synth.Direct(ctx, req.Question, recent)
	switch {
	case err != nil:
		logger.Warn("Degraded direct call failed", zap.Error(err))
		resp.Answer = CapabilityAnswer
		resp.Evidence = []models.Evidence{}
	case text == "":
		resp.Answer = ConsensusAnswer
		resp.Evidence = recent
	default:
		resp.Answer = text
		resp.Evidence = recent
	}
}

func (e *Engine) recordUser(ctx context.Context, req AskRequest) string {
	if e.recorder == nil {
		return ""
	}
	conv, _, err := e.recorder.GetOrCreateConversation(ctx, req.SessionID, req.StoreID, req.ProductID, req.ProductTitle)
	if err != nil {
		return ""
	}
	if _, err := e.recorder.SaveMessage(ctx, conv.ID, models.RoleUser, req.Question, nil, nil); err != nil {
		logger.Debug("User message not recorded", zap.Error(err))
	}
	return conv.ID
}

func (e *Engine) recordAssistant(ctx context.Context, resp *AskResponse) {
	if e.recorder == nil || resp.ConversationID == "" {
		return
	}
	n := len(resp.Evidence)
	if _, err := e.recorder.SaveMessage(ctx, resp.ConversationID, models.RoleAssistant, resp.Answer, &n, resp.Suggestions); err != nil {
		logger.Debug("Assistant message not recorded", zap.Error(err))
	}
}

// askRun tracks the state of one request for logging.
type askRun struct {
	sessionID string
	start     time.Time
	state     State
}

func (r *askRun) to(s State, fields ...zap.Field) {
	r.state = s
	fields = append(fields,
		zap.String("session_id", r.sessionID),
		zap.String("state", string(s)),
		zap.Int64("elapsed_ms", time.Since(r.start).Milliseconds()),
	)
	logger.Debug("Ask state", fields...)
}
