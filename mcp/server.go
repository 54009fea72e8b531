// Package mcp serves the orchestrator as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/middleware/errorhandler"
	"github.com/sweetpotato0/crag/pkg/logging"
)

// Version is advertised to MCP clients.
var Version = "dev"

// AskInput is the argument of the ask tool.
type AskInput struct {
	Query     string `json:"query" jsonschema:"the question to answer"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session to continue; a new one is created when empty"`
}

// ClarifyInput is the argument of the clarify tool.
type ClarifyInput struct {
	SessionID    string `json:"session_id" jsonschema:"session awaiting clarification"`
	UserResponse string `json:"user_response" jsonschema:"option number, option text or free text"`
}

var (
	askTool = &sdkmcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the document index, falling back to web search. May return a clarification question instead of an answer.",
	}
	clarifyTool = &sdkmcp.Tool{
		Name:        "clarify",
		Description: "Answer a pending clarification question for a session and resume the run.",
	}
)

// Option configures optional server behaviour.
type Option func(*Server)

// WithChain replaces the request middleware chain.
func WithChain(c *middleware.Chain) Option {
	return func(s *Server) {
		if c != nil {
			s.chain = c
		}
	}
}

// WithLogger configures logging. Stdout carries protocol messages, so the
// logger must not write there.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server exposes ask and clarify as MCP tools.
type Server struct {
	engine middleware.Engine
	chain  *middleware.Chain
	logger *slog.Logger
	mcp    *sdkmcp.Server
}

// NewServer creates an MCP server over engine.
func NewServer(engine middleware.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		chain:  middleware.NewChain(errorhandler.NewErrorHandler(nil)),
		logger: logging.WithComponent("mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "crag", Version: Version}, nil)
	sdkmcp.AddTool(s.mcp, askTool, s.handleAsk)
	sdkmcp.AddTool(s.mcp, clarifyTool, s.handleClarify)
	return s
}

// Serve runs the server on stdio until ctx is done or the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &sdkmcp.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t sdkmcp.Transport) (*sdkmcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

func (s *Server) handleAsk(ctx context.Context, _ *sdkmcp.CallToolRequest, in AskInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, middleware.OpAsk, in.Query, in.SessionID)
}

func (s *Server) handleClarify(ctx context.Context, _ *sdkmcp.CallToolRequest, in ClarifyInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, middleware.OpClarify, in.UserResponse, in.SessionID)
}

// call runs op through the chain. Failures are reported as tool errors
// carrying the classified failure, not as protocol errors.
func (s *Server) call(ctx context.Context, op middleware.Operation, input, sessionID string) (*sdkmcp.CallToolResult, any, error) {
	c := middleware.NewContext(ctx, op, input, sessionID)
	var (
		payload any
		isError bool
	)
	if err := s.chain.Execute(c, middleware.Dispatch(s.engine)); err != nil {
		payload, isError = errorhandler.Classify(err), true
	} else {
		payload = c.Response
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	if isError {
		s.logger.Warn("tool call failed", "operation", op, "session_id", c.SessionID, "payload", string(raw))
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(raw)}},
		IsError: isError,
	}, nil, nil
}
