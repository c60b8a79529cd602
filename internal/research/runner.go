// Package research runs long-form review analysis in the background and records its
// progress as a step log.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/apperr"
	"github.com/reco-agent/backend/internal/kg/neo4j"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/synth"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

const (
	StepStarted     = "Research started"
	StepEmbedding   = "Embedding query"
	StepThemes      = "Mapping themes"
	StepSuggestions = "Preparing suggestions"
	StepDone        = "Done"
	StepError       = "Error during research"

	themeLimit = 8
)

type Store interface {
	CreateResearchSession(ctx context.Context, question, productID, firstStep string) (*models.ResearchSession, error)
	AppendResearchStep(ctx context.Context, id, step string) error
	FinalizeResearch(ctx context.Context, id, answer string, sources []models.Review, suggestions []string) error
	MarkResearchError(ctx context.Context, id string) error
	GetResearchSession(ctx context.Context, id string) (*models.ResearchSession, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]models.Evidence, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (synth.Result, error)
}

type Suggester interface {
	Suggest(ctx context.Context, question string, evidence []models.Evidence, history []models.Turn) []string
}

// ThemeExtractor ranks themes across review bodies.
type ThemeExtractor interface {
	Merge(texts []string, limit int) []string
}

// ThemeGraph reports stored theme counts. Optional.
type ThemeGraph interface {
	TopThemes(ctx context.Context, productID string, limit int) ([]neo4j.ThemeStat, error)
}

// StepObserver is told about every step appended to a session.
type StepObserver func(sessionID, step string)

type StartRequest struct {
	Question  string        `json:"question"`
	ProductID string        `json:"product_id,omitempty"`
	History   []models.Turn `json:"history,omitempty"`

	Observer StepObserver `json:"-"`
}

type Deps struct {
	Store     Store
	Embedder  Embedder
	Retriever Retriever
	Synth     Synthesizer
	Suggester Suggester
	Themes    ThemeExtractor
	Graph     ThemeGraph
}

type Runner struct {
	store     Store
	embedder  Embedder
	retriever Retriever
	synth     Synthesizer
	suggester Suggester
	themes    ThemeExtractor
	graph     ThemeGraph

	k       int
	timeout time.Duration

	wg sync.WaitGroup
}

func NewRunner(d Deps, cfg config.ResearchConfig) *Runner {
	k := cfg.K
	if k <= 0 {
		k = 24
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Runner{
		store:     d.Store,
		embedder:  d.Embedder,
		retriever: d.Retriever,
		synth:     d.Synth,
		suggester: d.Suggester,
		themes:    d.Themes,
		graph:     d.Graph,
		k:         k,
		timeout:   timeout,
	}
}

// Start records a running session and returns its id. The pipeline keeps running after
// ctx is cancelled, bounded by the configured timeout.
func (r *Runner) Start(ctx context.Context, req StartRequest) (string, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return "", errors.New("question is required")
	}

	session, err := r.store.CreateResearchSession(ctx, req.Question, req.ProductID, StepStarted)
	if err != nil {
		return "", apperr.Persistence("create research session", err)
	}
	notify(req.Observer, session.ID, StepStarted)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(runCtx, session.ID, req)
	}()

	return session.ID, nil
}

func (r *Runner) Get(ctx context.Context, id string) (*models.ResearchSession, error) {
	return r.store.GetResearchSession(ctx, id)
}

// Wait blocks until every started session has finished. Used on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, id string, req StartRequest) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Research pipeline panicked", zap.String("research_id", id), zap.Any("panic", p))
			r.fail(ctx, id, req.Observer, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := r.pipeline(ctx, id, req); err != nil {
		r.fail(ctx, id, req.Observer, err)
		return
	}

	metrics.ResearchSessions.WithLabelValues(models.ResearchDone).Inc()
	logger.Info("Research session completed",
		zap.String("research_id", id),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
}

func (r *Runner) pipeline(ctx context.Context, id string, req StartRequest) error {
	step := func(s string) {
		if err := r.store.AppendResearchStep(ctx, id, s); err != nil {
			logger.Warn("Failed to append research step", zap.String("research_id", id), zap.Error(err))
		}
		notify(req.Observer, id, s)
	}

	step(StepEmbedding)
	embedding, err := r.embedder.Embed(ctx, req.Question)
	if err != nil {
		return err
	}

	scope := req.ProductID
	if scope == "" {
		scope = "any"
	}
	step(fmt.Sprintf("Searching reviews (product=%s)", scope))
	evidence, err := r.retriever.Retrieve(ctx, embedding, r.k, vector.Filter{ProductID: req.ProductID})
	if err != nil {
		return err
	}

	step(fmt.Sprintf("Analyzing %d reviews", len(evidence)))
	result, err := r.synth.Synthesize(ctx, synth.Input{
		Question: req.Question,
		Evidence: evidence,
		Mode:     synth.ModeResearch,
		History:  req.History,
	})
	switch {
	case apperr.IsKind(err, apperr.KindSynthesisEmpty):
		result.Answer = synth.Sanitize(synth.FallbackFromEvidence(req.Question, evidence, 5))
	case err != nil:
		return err
	}

	step(StepThemes)
	answer := result.Answer
	if themes := r.mapThemes(ctx, req.ProductID, evidence); len(themes) > 0 {
		answer += "\n\nRecurring themes: " + strings.Join(themes, ", ") + "."
	}

	step(StepSuggestions)
	suggestions := r.suggester.Suggest(ctx, req.Question, evidence, req.History)

	sources := make([]models.Review, len(evidence))
	for i, ev := range evidence {
		sources[i] = ev.Review
	}
	if err := r.store.FinalizeResearch(ctx, id, answer, sources, suggestions); err != nil {
		return err
	}
	step(StepDone)
	return nil
}

// mapThemes prefers the stored graph counts and falls back to tagging the evidence.
func (r *Runner) mapThemes(ctx context.Context, productID string, evidence []models.Evidence) []string {
	if r.graph != nil {
		stats, err := r.graph.TopThemes(ctx, productID, themeLimit)
		if err != nil {
			logger.Debug("Theme graph unavailable", zap.Error(err))
		} else if len(stats) > 0 {
			names := make([]string, len(stats))
			for i, s := range stats {
				names[i] = s.Name
			}
			return names
		}
	}
	if r.themes == nil || len(evidence) == 0 {
		return nil
	}
	bodies := make([]string, len(evidence))
	for i, ev := range evidence {
		bodies[i] = ev.Body
	}
	return r.themes.Merge(bodies, themeLimit)
}

func (r *Runner) fail(ctx context.Context, id string, observer StepObserver, cause error) {
	metrics.ResearchSessions.WithLabelValues(models.ResearchError).Inc()
	logger.Warn("Research session failed",
		zap.String("research_id", id),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.Error(cause),
	)

	// the run context may be expired; the terminal write still has to land
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.store.MarkResearchError(ctx, id); err != nil {
		logger.Warn("Failed to mark research error", zap.String("research_id", id), zap.Error(err))
		return
	}
	if err := r.store.AppendResearchStep(ctx, id, StepError); err != nil {
		logger.Warn("Failed to append research step", zap.String("research_id", id), zap.Error(err))
	}
	notify(observer, id, StepError)
}

func notify(observer StepObserver, id, step string) {
	if observer != nil {
		observer(id, step)
	}
}
