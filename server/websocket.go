package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/middleware/errorhandler"
	"github.com/sweetpotato0/crag/rag/orchestrator"
	"github.com/sweetpotato0/crag/rag/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client message types.
const (
	msgQuestion      = "question"
	msgClarification = "clarification"
)

// Server message types.
const (
	msgProgress             = "progress"
	msgClarificationRequest = "clarification_request"
	msgResponse             = "response"
	msgError                = "error"
)

type wsRequest struct {
	Type         string `json:"type"`
	Query        string `json:"query,omitempty"`
	UserResponse string `json:"user_response,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

type wsProgress struct {
	Type    string     `json:"type"`
	Step    state.Step `json:"step"`
	Message string     `json:"message"`
}

type wsClarification struct {
	Type             string   `json:"type"`
	SessionID        string   `json:"session_id"`
	Question         string   `json:"question"`
	Options          []string `json:"options"`
	AllowCustomInput bool     `json:"allow_custom_input"`
}

type wsResponse struct {
	Type string `json:"type"`
	*orchestrator.Response
}

type wsError struct {
	Type string `json:"type"`
	*errorhandler.Failure
}

// wsConn serialises writes; progress may be reported while a reply is pending.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.sendError(c, errorhandler.Classify(decodeError()))
			continue
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		}

		var resp *orchestrator.Response
		ctx := orchestrator.WithProgress(r.Context(), func(step state.Step, message string) {
			_ = c.send(wsProgress{Type: msgProgress, Step: step, Message: message})
		})
		switch req.Type {
		case msgQuestion:
			resp, err = s.call(ctx, middleware.OpAsk, req.Query, sessionID)
		case msgClarification:
			resp, err = s.call(ctx, middleware.OpClarify, req.UserResponse, sessionID)
		default:
			err = decodeError()
		}
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.sendError(c, errorhandler.Classify(err))
			continue
		}
		sessionID = resp.SessionID
		if err := s.reply(c, resp); err != nil {
			s.logger.Warn("websocket write failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func (s *Server) reply(c *wsConn, resp *orchestrator.Response) error {
	if resp.ClarificationNeeded {
		return c.send(wsClarification{
			Type:             msgClarificationRequest,
			SessionID:        resp.SessionID,
			Question:         resp.ClarificationQuestion,
			Options:          resp.ClarificationOptions,
			AllowCustomInput: resp.AllowCustomInput,
		})
	}
	return c.send(wsResponse{Type: msgResponse, Response: resp})
}

func (s *Server) sendError(c *wsConn, f *errorhandler.Failure) {
	if err := c.send(wsError{Type: msgError, Failure: f}); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
	}
}

func decodeError() error {
	return errorskg.Wrap(errorskg.KindValidation, "websocket", errorskg.ErrInvalidInput)
}
