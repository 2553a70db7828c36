package models

import (
	"context"
	"errors"
)

var (
	// ErrProvider marks a failed or unavailable generation provider call
	ErrProvider = errors.New("provider error")
	// ErrTimeout marks an execution that exceeded its time budget
	ErrTimeout = errors.New("execution timeout")
	// ErrCanceled marks an execution the caller stopped awaiting
	ErrCanceled = errors.New("execution canceled")
	// ErrConfiguration marks a malformed request or setup; never retried
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownAgentType is a configuration error for unsupported agent types
	ErrUnknownAgentType = errors.Join(ErrConfiguration, errors.New("unknown agent type"))
	// ErrNoAgent is a configuration error raised when no container can serve a request
	ErrNoAgent = errors.Join(ErrConfiguration, errors.New("no agent registered"))
)

// ErrorKind is the taxonomy surfaced on failed responses
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindProvider      ErrorKind = "provider"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ClassifyError maps an error onto the ErrorKind taxonomy
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrProvider):
		return ErrorKindProvider
	default:
		return ErrorKindUnknown
	}
}

// Retryable reports whether a failure may succeed on another attempt
func Retryable(err error) bool {
	kind := ClassifyError(err)
	return kind == ErrorKindProvider || kind == ErrorKindTimeout || kind == ErrorKindUnknown
}
