package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Kind classifies failures so callers can decide on retries and presentation
// without inspecting error strings.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindValidation      Kind = "validation"
	KindUpstream        Kind = "upstream"
	KindTimeout         Kind = "timeout"
	KindDomainOperation Kind = "domain_operation"
	KindNotFound        Kind = "not_found"
	KindLoopBound       Kind = "loop_bound"
	KindInternal        Kind = "internal"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "Something went wrong on our side. Please try again."
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "storage operation failed"
	// RedisNotFoundMessage is used when a Redis key or field does not exist.
	RedisNotFoundMessage = "record not found"
)

var userMessages = map[Kind]string{
	KindConfiguration:   "I can't act on your account right now. Please sign in again and retry.",
	KindValidation:      "I couldn't use some of the details in that request. Could you rephrase it?",
	KindUpstream:        "The assistant is temporarily unavailable. Please try again in a moment.",
	KindTimeout:         "The assistant took too long to respond. Please try again.",
	KindDomainOperation: "I couldn't save that change. Please check what was completed and try again.",
	KindNotFound:        "I couldn't find that record.",
	KindLoopBound:       "I couldn't finish that request. Please try breaking it into smaller steps.",
	KindInternal:        SystemErrorMessage,
}

var statuses = map[Kind]int{
	KindConfiguration:   http.StatusInternalServerError,
	KindValidation:      http.StatusBadRequest,
	KindUpstream:        http.StatusBadGateway,
	KindTimeout:         http.StatusGatewayTimeout,
	KindDomainOperation: http.StatusInternalServerError,
	KindNotFound:        http.StatusNotFound,
	KindLoopBound:       http.StatusInternalServerError,
	KindInternal:        http.StatusInternalServerError,
}

// Error wraps an underlying error with a kind, an HTTP status and a safe message.
type Error struct {
	Kind    Kind
	Err     error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstream || e.Kind == KindTimeout
}

// New creates an Error of the given kind. An empty message is replaced by the
// kind's conversational default.
func New(kind Kind, err error, message string) *Error {
	if message == "" {
		message = userMessages[kind]
	}
	status, ok := statuses[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Err: err, Status: status, Message: message}
}

// Configuration reports a caller bug such as a missing user identity.
func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, fmt.Errorf(format, args...), "")
}

// Validation reports input that does not satisfy a contract.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Errorf(format, args...), "")
}

// NotFound reports a missing record.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Errorf(format, args...), "")
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return statuses[KindOf(err)]
}

// IsRetryable reports whether err is transient from the caller's point of view.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// UserMessage collapses any error into a single conversational reply that is
// safe to show to the end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if msg, ok := userMessages[e.Kind]; ok {
			return msg
		}
	}
	return userMessages[KindOf(err)]
}

// WrapRedis maps Redis errors to the unified Error type with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(KindNotFound, err, RedisNotFoundMessage)
	}
	return New(KindDomainOperation, err, RedisErrorMessage)
}
