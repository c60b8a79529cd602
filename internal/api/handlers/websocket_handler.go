package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/internal/research"
	"github.com/reco-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine Asker
	runner ResearchService
}

func NewWebSocketHandler(engine Asker, runner ResearchService) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, runner: runner}
}

// wsMessage is an ask payload tagged with its type: "ask" or "research".
type wsMessage struct {
	Type string `json:"type"`
	askPayload
}

// wsConn serializes writes; research steps arrive from another goroutine.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (w *wsConn) send(msg map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.conn.WriteJSON(msg)
}

func (w *wsConn) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ws := &wsConn{conn: c}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ws.close()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	sessionHeader := c.Headers("X-Session-ID")

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		req, err := msg.toRequest(sessionHeader)
		if err == nil && strings.TrimSpace(req.Question) == "" {
			err = errQuestionRequired
		}
		if err != nil {
			h.sendError(ws, err.Error())
			continue
		}

		switch msg.Type {
		case "ask", "query", "":
			err = h.streamAnswer(ctx, ws, req)
		case "research":
			err = h.startResearch(ctx, ws, req)
		default:
			h.sendError(ws, "unknown message type")
			continue
		}
		if err != nil {
			logger.Debug("Failed to write WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) streamAnswer(ctx context.Context, ws *wsConn, req query.AskRequest) error {
	if err := ws.send(map[string]interface{}{"type": "status", "content": "Reading reviews..."}); err != nil {
		return err
	}

	resp := h.engine.Ask(ctx, req)

	words := splitIntoWords(resp.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := ws.send(map[string]interface{}{"type": "chunk", "content": chunk}); err != nil {
			return err
		}
	}

	return ws.send(map[string]interface{}{
		"type":            "complete",
		"ok":              resp.OK,
		"answer":          resp.Answer,
		"evidence":        resp.Evidence,
		"suggestions":     resp.Suggestions,
		"conversation_id": resp.ConversationID,
		"session_id":      resp.SessionID,
	})
}

func (h *WebSocketHandler) startResearch(ctx context.Context, ws *wsConn, req query.AskRequest) error {
	observer := func(id, step string) {
		if err := ws.send(map[string]interface{}{"type": "step", "id": id, "content": step}); err != nil {
			logger.Debug("Failed to push research step", zap.Error(err))
		}
		if step != research.StepDone && step != research.StepError {
			return
		}
		session, err := h.runner.Get(context.Background(), id)
		if err != nil {
			logger.Debug("Failed to load finished research", zap.Error(err))
			return
		}
		_ = ws.send(map[string]interface{}{"type": "research_complete", "session": session})
	}

	id, err := h.runner.Start(ctx, research.StartRequest{
		Question:  req.Question,
		ProductID: req.ProductID,
		History:   req.History,
		Observer:  observer,
	})
	if err != nil {
		logger.Error("Failed to start research", zap.Error(err))
		h.sendError(ws, "Failed to start research")
		return nil
	}
	return ws.send(map[string]interface{}{"type": "research_started", "id": id})
}

func (h *WebSocketHandler) sendError(ws *wsConn, errorMsg string) {
	_ = ws.send(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, char := range text {
		switch char {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current.WriteRune(char)
		}
	}
	flush()

	return words
}
