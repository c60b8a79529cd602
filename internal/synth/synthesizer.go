// Package synth turns evidence into an answer through an ordered ladder of generation
// attempts.
package synth

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/llm"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

type Tier string

const (
	TierPrimary  Tier = "primary"
	TierStrict   Tier = "strict"
	TierSeeds    Tier = "seeds"
	TierTemplate Tier = "template"
	TierDirect   Tier = "direct"
)

const continuePrompt = "Continue and complete the previous answer in 1-2 sentences. Avoid repetition."

type Input struct {
	Question string
	Evidence []models.Evidence
	Mode     Mode
	History  []models.Turn
}

type Result struct {
	Answer    string
	Tier      Tier
	Continued bool
}

// Strategy is one rung of the ladder.
type Strategy struct {
	Tier  Tier
	Build func(in Input) llm.GenerateRequest
}

type Synthesizer struct {
	gen     llm.Generator
	persona Persona
	cfg     config.SynthConfig
	ladder  []Strategy
}

func NewSynthesizer(gen llm.Generator, cfg config.SynthConfig) *Synthesizer {
	s := &Synthesizer{gen: gen, persona: Persona{Name: cfg.Persona}, cfg: cfg}
	s.ladder = []Strategy{
		{Tier: TierPrimary, Build: s.primary},
		{Tier: TierStrict, Build: s.strict},
		{Tier: TierSeeds, Build: s.seeds},
	}
	return s
}

// Ladder returns the strategies in evaluation order.
func (s *Synthesizer) Ladder() []Strategy {
	return s.ladder
}

func acceptable(text string) bool {
	return strings.TrimSpace(text) != ""
}

// Synthesize walks the ladder and returns the first acceptable answer, sanitized. When
// every tier comes back empty it returns a SynthesisEmpty error and the caller builds
// an answer from the evidence instead.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Result, error) {
	if in.Mode == "" {
		in.Mode = ModeStandard
	}

	for _, st := range s.ladder {
		text, continued := s.run(ctx, st.Tier, st.Build(in))
		if !acceptable(text) {
			logger.Warn("Synthesis tier produced no text", zap.String("tier", string(st.Tier)))
			continue
		}
		metrics.SynthTierTotal.WithLabelValues(string(st.Tier)).Inc()
		return Result{Answer: Sanitize(text), Tier: st.Tier, Continued: continued}, nil
	}

	return Result{}, apperr.SynthesisEmpty("synthesize")
}

// Direct makes a single primary call with no history, ladder or continuation.
func (s *Synthesizer) Direct(ctx context.Context, question string, evidence []models.Evidence) (string, error) {
	req := s.primary(Input{Question: question, Evidence: evidence, Mode: ModeStandard})
	resp, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if !acceptable(resp.Text) {
		return "", nil
	}
	metrics.SynthTierTotal.WithLabelValues(string(TierDirect)).Inc()
	return Sanitize(resp.Text), nil
}

// run issues one generation and at most one continuation. Errors count as empty.
func (s *Synthesizer) run(ctx context.Context, tier Tier, req llm.GenerateRequest) (string, bool) {
	start := time.Now()
	resp, err := s.gen.Generate(ctx, req)
	if err != nil {
		logger.Warn("Generation failed",
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return "", false
	}

	logger.Debug("Generation finished",
		zap.String("tier", string(tier)),
		zap.String("finish_reason", resp.FinishReason),
		zap.Int("chars", len(resp.Text)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	if !acceptable(resp.Text) || !resp.Truncated() {
		return resp.Text, false
	}

	more, ok := s.continueAnswer(ctx, req, resp.Text)
	if !ok {
		return resp.Text, false
	}
	return strings.TrimSpace(resp.Text) + " " + strings.TrimSpace(more), true
}

func (s *Synthesizer) continueAnswer(ctx context.Context, prior llm.GenerateRequest, partial string) (string, bool) {
	turns := make([]models.Turn, 0, len(prior.Turns)+2)
	turns = append(turns, prior.Turns...)
	turns = append(turns,
		models.Turn{Role: models.RoleAssistant, Text: partial},
		models.Turn{Role: models.RoleUser, Text: continuePrompt},
	)

	metrics.Continuations.Inc()
	resp, err := s.gen.Generate(ctx, llm.GenerateRequest{
		System:      prior.System,
		Turns:       turns,
		Temperature: 0.45,
		TopP:        0.95,
		MaxTokens:   s.cfg.ContinueMaxTokens,
	})
	if err != nil {
		logger.Warn("Continuation failed, keeping partial answer", zap.Error(err))
		return "", false
	}
	if !acceptable(resp.Text) {
		return "", false
	}
	return resp.Text, true
}

func (s *Synthesizer) primary(in Input) llm.GenerateRequest {
	p := BuildPrompt(s.persona, in.Question, in.Evidence, in.Mode, in.History, s.cfg.HistoryTurns)
	return llm.GenerateRequest{
		System:      p.System,
		Turns:       p.Turns,
		Temperature: s.cfg.Temperature,
		TopP:        0.9,
		MaxTokens:   s.cfg.PrimaryMaxTokens,
	}
}

func (s *Synthesizer) strict(in Input) llm.GenerateRequest {
	p := strictPrompt(s.persona, in.Question, in.Evidence, in.Mode, in.History, s.cfg.HistoryTurns)
	return llm.GenerateRequest{
		System:      p.System,
		Turns:       p.Turns,
		Temperature: 0.5,
		TopP:        0.95,
		MaxTokens:   s.cfg.StrictMaxTokens,
	}
}

func (s *Synthesizer) seeds(in Input) llm.GenerateRequest {
	p := seedsPrompt(s.persona, in.Question, in.Evidence, in.History, s.cfg.HistoryTurns)
	return llm.GenerateRequest{
		System:      p.System,
		Turns:       p.Turns,
		Temperature: 0.45,
		TopP:        0.95,
		MaxTokens:   s.cfg.StrictMaxTokens,
	}
}
