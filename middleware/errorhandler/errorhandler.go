package errorhandler

import (
	"errors"
	"fmt"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/middleware"
)

// Failure is a classified error ready to be shown to a caller.
type Failure struct {
	ErrorType   errorskg.Kind `json:"error_type"`
	Message     string        `json:"message"`
	Recoverable bool          `json:"recoverable"`
	Err         error         `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.ErrorType, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify converts err into a Failure. A Failure passes through unchanged.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	kind := errorskg.Classify(err)
	return &Failure{
		ErrorType:   kind,
		Message:     errorskg.UserMessage(kind),
		Recoverable: errorskg.Recoverable(kind),
		Err:         err,
	}
}

// ErrorHandlerFunc observes classified failures
type ErrorHandlerFunc func(*middleware.Context, *Failure)

// ErrorHandler turns errors from downstream middlewares into Failures.
type ErrorHandler struct {
	handler ErrorHandlerFunc
}

// NewErrorHandler creates an error handling middleware. handler may be nil.
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute classifies errors from downstream middlewares
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err == nil {
		return nil
	}
	f := Classify(err)
	ctx.Metadata["error_type"] = f.ErrorType
	if m.handler != nil {
		m.handler(ctx, f)
	}
	return f
}
