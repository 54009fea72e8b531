package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/pkg/logging"
)

const inputPreview = 80

// RequestLogger logs each request and its outcome.
type RequestLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRequestLogger creates a request logging middleware. A nil logger uses
// the package default.
func NewRequestLogger(logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.WithComponent("request")
	}
	return &RequestLogger{logger: logger, now: time.Now}
}

// Name returns the middleware name
func (m *RequestLogger) Name() string {
	return "RequestLogger"
}

// Execute logs the request and the response
func (m *RequestLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := m.now()
	m.logger.Debug("request received",
		"operation", ctx.Operation,
		"session_id", ctx.SessionID,
		"input", logging.Trim(ctx.Input, inputPreview))

	err := next(ctx)

	attrs := []any{
		"operation", ctx.Operation,
		"session_id", ctx.SessionID,
		"duration_ms", m.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		m.logger.Warn("request failed", append(attrs, "error", err)...)
		return err
	}
	if r := ctx.Response; r != nil {
		attrs = append(attrs,
			"retrieval_source", r.RetrievalSource,
			"confidence", r.Confidence,
			"clarification_needed", r.ClarificationNeeded)
	}
	m.logger.Info("request completed", attrs...)
	return nil
}
