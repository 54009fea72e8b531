package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrLocked indicates that another writer holds the resource
	ErrLocked = errors.New("resource locked")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// Kind classifies a failure for propagation and user messaging.
type Kind string

const (
	KindRateLimit     Kind = "rate_limit"
	KindTimeout       Kind = "timeout"
	KindParsing       Kind = "parsing_error"
	KindNoResult      Kind = "no_result"
	KindVectorStore   Kind = "vector_store_error"
	KindWebSearch     Kind = "web_search_error"
	KindValidation    Kind = "validation_error"
	KindConfiguration Kind = "configuration_error"
	KindLLM           Kind = "llm_error"
	KindNetwork       Kind = "network_error"
	KindUnknown       Kind = "unknown"
)

// Action is the recovery path associated with a Kind.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionWebSearch Action = "web_search"
	ActionAskUser   Action = "ask_user"
	ActionFail      Action = "fail"
)

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches kind and op to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// statusCoder is implemented by provider SDK errors that expose an HTTP status.
type statusCoder interface {
	error
	HTTPStatus() int
}

// Classify maps an arbitrary error onto the taxonomy. Typed errors keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrInvalidInput) {
		return KindValidation
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return kindForStatus(sc.HTTPStatus())
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// FromStatus classifies an HTTP status returned by an upstream service.
func FromStatus(op string, status int, err error) error {
	return Wrap(kindForStatus(status), op, err)
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindConfiguration
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// Retryable reports whether err should be retried with backoff.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimit, KindTimeout, KindParsing, KindNetwork:
		return true
	default:
		return false
	}
}

// Fatal reports whether err must be surfaced immediately without retry.
func Fatal(err error) bool {
	switch Classify(err) {
	case KindValidation, KindConfiguration:
		return true
	default:
		return false
	}
}

// Recoverable reports whether the caller may retry the same request later.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindConfiguration, KindValidation:
		return false
	default:
		return true
	}
}

// Fallback returns the recovery action for kind.
func Fallback(kind Kind) Action {
	switch kind {
	case KindRateLimit, KindTimeout, KindParsing, KindNetwork, KindLLM:
		return ActionRetry
	case KindNoResult, KindVectorStore:
		return ActionWebSearch
	case KindValidation:
		return ActionAskUser
	default:
		return ActionFail
	}
}

var userMessages = map[Kind]string{
	KindRateLimit:     "요청이 많아 잠시 후 다시 시도해 주세요.",
	KindTimeout:       "응답 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요.",
	KindParsing:       "응답을 처리하는 중 문제가 발생했습니다. 다시 시도해 주세요.",
	KindNoResult:      "관련 정보를 찾지 못했습니다. 질문을 조금 바꿔서 다시 시도해 주세요.",
	KindVectorStore:   "문서 검색 중 문제가 발생했습니다. 잠시 후 다시 시도해 주세요.",
	KindWebSearch:     "웹 검색 중 문제가 발생했습니다.",
	KindValidation:    "질문을 이해하지 못했습니다. 질문을 입력해 주세요.",
	KindConfiguration: "서비스 설정에 문제가 있습니다. 관리자에게 문의해 주세요.",
	KindLLM:           "답변을 생성하는 중 문제가 발생했습니다. 다시 시도해 주세요.",
	KindNetwork:       "네트워크 연결에 문제가 있습니다. 잠시 후 다시 시도해 주세요.",
	KindUnknown:       "죄송합니다. 처리 중 예기치 않은 오류가 발생했습니다.",
}

// UserMessage returns the apology text shown to end users for kind.
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}
