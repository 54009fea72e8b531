package enricher

import (
	"time"

	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/session"
)

// EnricherFunc enriches the context
type EnricherFunc func(*middleware.Context) error

// ContextEnricher adds additional data to the middleware context
type ContextEnricher struct {
	enricher EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enricher EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enricher: enricher}
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute enriches the context
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.enricher != nil {
		if err := m.enricher(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// NewSessionEnricher assigns a session id to asks that arrive without one,
// so every later middleware logs the same id the orchestrator will use.
func NewSessionEnricher() *ContextEnricher {
	return NewContextEnricher(func(ctx *middleware.Context) error {
		if ctx.Operation != middleware.OpClarify {
			ctx.SessionID = session.Normalize(ctx.SessionID)
		}
		return nil
	})
}

// NewTimestampEnricher records when the request entered the chain.
func NewTimestampEnricher(now func() time.Time) *ContextEnricher {
	if now == nil {
		now = time.Now
	}
	return NewContextEnricher(func(ctx *middleware.Context) error {
		ctx.Metadata["received_at"] = now().UTC()
		return nil
	})
}
