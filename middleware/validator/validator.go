package validator

import (
	"strings"
	"unicode/utf8"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/rag/document"
)

// ValidatorFunc is an additional check on the cleaned input
type ValidatorFunc func(string) error

// InputValidator rejects empty input and truncates long input.
type InputValidator struct {
	maxRunes int
	checks   []ValidatorFunc
}

// NewInputValidator creates an input validation middleware. maxRunes <= 0
// disables truncation.
func NewInputValidator(maxRunes int, checks ...ValidatorFunc) *InputValidator {
	return &InputValidator{maxRunes: maxRunes, checks: checks}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	in := strings.TrimSpace(ctx.Input)
	if in == "" || !utf8.ValidString(in) {
		return errorskg.Wrap(errorskg.KindValidation, "validator", errorskg.ErrInvalidInput)
	}
	if ctx.Operation == middleware.OpClarify && strings.TrimSpace(ctx.SessionID) == "" {
		return errorskg.New(errorskg.KindValidation, "validator", "session_id is required")
	}
	if m.maxRunes > 0 && utf8.RuneCountInString(in) > m.maxRunes {
		in = document.Truncate(in, m.maxRunes)
		ctx.Metadata["truncated"] = true
	}
	for _, check := range m.checks {
		if err := check(in); err != nil {
			return errorskg.Wrap(errorskg.KindValidation, "validator", err)
		}
	}
	ctx.Input = in
	return next(ctx)
}
