package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/ingestion"
	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/internal/recorder"
	"github.com/reco-agent/backend/internal/research"
	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/internal/storage/sqlite"
)

type fakeAsker struct {
	got query.AskRequest
}

func (f *fakeAsker) Ask(ctx context.Context, req query.AskRequest) *query.AskResponse {
	f.got = req
	return &query.AskResponse{
		OK:          true,
		Answer:      "Most say it runs small.",
		Evidence:    []models.Evidence{},
		Suggestions: []string{"A?", "B?", "C?"},
		SessionID:   req.SessionID,
	}
}

type fakeResearch struct {
	started research.StartRequest
	err     error
}

func (f *fakeResearch) Start(ctx context.Context, req research.StartRequest) (string, error) {
	f.started = req
	return "rs-1", f.err
}

func (f *fakeResearch) Get(ctx context.Context, id string) (*models.ResearchSession, error) {
	if id != "rs-1" {
		return nil, sqlite.ErrNotFound
	}
	return &models.ResearchSession{ID: id, Status: models.ResearchRunning, Steps: []string{research.StepStarted}}, nil
}

type fakeIngester struct {
	raw []ingestion.RawReview
}

func (f *fakeIngester) BulkUpsert(ctx context.Context, raw []ingestion.RawReview) (*ingestion.Result, error) {
	f.raw = raw
	return &ingestion.Result{Inserted: len(raw)}, nil
}

func (f *fakeIngester) NormalizeAndDedupe(ctx context.Context) (*ingestion.Report, error) {
	return &ingestion.Report{Total: 3, Patched: 1}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("down") }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type fakeCounter struct{}

func (fakeCounter) AskCounts(ctx context.Context, day time.Time, outcomes []string) (map[string]int64, error) {
	out := map[string]int64{}
	for i, o := range outcomes {
		out[o] = int64(i + 1)
	}
	return out, nil
}

type harness struct {
	app      *fiber.App
	asker    *fakeAsker
	research *fakeResearch
	ingester *fakeIngester
	db       *sqlite.Client
}

func newHarness(t *testing.T, checks map[string]Pinger) *harness {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	h := &harness{
		app:      fiber.New(),
		asker:    &fakeAsker{},
		research: &fakeResearch{},
		ingester: &fakeIngester{},
		db:       db,
	}
	Register(h.app.Group("/api/v1"), Set{
		Query:         NewQueryHandler(h.asker),
		Conversations: NewConversationHandler(recorder.New(db)),
		Research:      NewResearchHandler(h.research),
		Reviews:       NewReviewHandler(h.ingester, db),
		Settings:      NewSettingsHandler(db),
		Health:        NewHealthHandler(checks, fakeCounter{}),
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestAskAcceptsAliases(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(t, "POST", "/api/v1/ask",
		`{"query":"Does it run small?","product":"X","tenant_id":"shop","research":true,"history":[{"role":"user","text":"hi"}]}`,
		"X-Session-ID", "s-9")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "Most say it runs small.", body["answer"])
	assert.Len(t, body["suggestions"], 3)

	got := h.asker.got
	assert.Equal(t, "Does it run small?", got.Question)
	assert.Equal(t, "X", got.ProductID)
	assert.Equal(t, "shop", got.StoreID)
	assert.Equal(t, "s-9", got.SessionID)
	assert.Equal(t, query.ModeResearch, got.Mode)
	assert.Len(t, got.History, 1)
}

func TestAskRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)

	status, _ := h.do(t, "POST", "/api/v1/ask", `{"question":"  "}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := h.do(t, "POST", "/api/v1/ask", `{"question":"Fit?","mode":"deep"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["ok"])
}

func TestConversationRoutes(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(t, "POST", "/api/v1/conversations", `{"session_id":"abc","shopify_domain":"shop"}`)
	require.Equal(t, fiber.StatusCreated, status)
	conv := body["conversation"].(map[string]interface{})
	id := conv["id"].(string)

	status, body = h.do(t, "POST", "/api/v1/conversations", `{"session_id":"abc"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["created"])

	status, body = h.do(t, "GET", "/api/v1/conversations/abc", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, id, body["id"])

	status, body = h.do(t, "GET", "/api/v1/conversations/"+id+"/messages", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["messages"])

	status, _ = h.do(t, "POST", "/api/v1/conversations/"+id+"/end", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = h.do(t, "GET", "/api/v1/stores/shop/conversations?limit=5", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["conversations"], 1)

	status, body = h.do(t, "GET", "/api/v1/stores/shop/stats", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["totalConversations"])

	status, _ = h.do(t, "GET", "/api/v1/conversations/nobody", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = h.do(t, "GET", "/api/v1/demo/thread", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, recorder.DemoSessionID, body["session_id"])
}

func TestResearchRoutes(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(t, "POST", "/api/v1/research", `{"question":"Analyze fit","product":"X"}`)
	require.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "rs-1", body["id"])
	assert.Equal(t, "X", h.research.started.ProductID)

	status, body = h.do(t, "GET", "/api/v1/research/rs-1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.ResearchRunning, body["status"])

	status, _ = h.do(t, "GET", "/api/v1/research/missing", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestReviewRoutes(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(t, "POST", "/api/v1/reviews/bulk", `[{"author_name":"A","rating":5,"review_body":"Soft"}]`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["inserted"])

	status, _ = h.do(t, "POST", "/api/v1/reviews/bulk", `{"reviews":[{"author_name":"B","rating":4,"review_body":"Snug"},{"author_name":"C","rating":3,"review_body":"Ok"}]}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, h.ingester.raw, 2)

	status, _ = h.do(t, "POST", "/api/v1/reviews/bulk", `[]`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = h.do(t, "POST", "/api/v1/reviews/normalize", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["patched"])

	status, body = h.do(t, "GET", "/api/v1/reviews/count", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])

	status, body = h.do(t, "GET", "/api/v1/reviews/products", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["products"])
}

func TestSettingsRoutes(t *testing.T) {
	h := newHarness(t, nil)

	status, _ := h.do(t, "GET", "/api/v1/settings/widget.color", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = h.do(t, "PUT", "/api/v1/settings/widget.color", `{"value":"black"}`)
	require.Equal(t, fiber.StatusOK, status)

	status, body := h.do(t, "GET", "/api/v1/settings/widget.color", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "black", body["value"])

	status, _ = h.do(t, "PUT", "/api/v1/settings/widget.color", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestReadiness(t *testing.T) {
	h := newHarness(t, map[string]Pinger{"sqlite": okPinger{}})
	status, body := h.do(t, "GET", "/api/v1/ready", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	h = newHarness(t, map[string]Pinger{"sqlite": okPinger{}, "index": failingPinger{}})
	status, body = h.do(t, "GET", "/api/v1/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "down", checks["index"])

	status, body = h.do(t, "GET", "/api/v1/stats/asks", "")
	require.Equal(t, fiber.StatusOK, status)
	counts := body["counts"].(map[string]interface{})
	assert.Equal(t, float64(3), counts["degraded"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Runs", "small.", "\n", "Size", "up."}, splitIntoWords("Runs  small.\nSize up."))
	assert.Empty(t, splitIntoWords(""))
}
