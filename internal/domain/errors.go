package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptySeed        = errors.New("seed idea is empty")
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrNoImages         = errors.New("image history is empty")
	ErrBadSelection     = errors.New("image index out of range")
	ErrNoCritique       = errors.New("no critique to apply")
	ErrUnknownStyle     = errors.New("unknown style")
	ErrBusy             = errors.New("another operation is pending")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyResult      = errors.New("empty result")
	ErrMalformedPayload = errors.New("malformed payload")
)

// UpstreamError reports a failed call to a remote API: transport errors,
// non-success statuses, malformed or empty responses and timeouts.
type UpstreamError struct {
	Service string
	Op      string
	Status  int
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Service
	if e.Op != "" {
		msg += " " + e.Op
	}
	switch {
	case e.Timeout:
		msg += ": timed out"
	case e.Status != 0:
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// LocalServiceError reports that the local rendering service was unreachable
// or answered with an unexpected payload.
type LocalServiceError struct {
	Op  string
	Err error
}

func (e *LocalServiceError) Error() string {
	if e.Err == nil {
		return "local service " + e.Op + " failed"
	}
	return "local service " + e.Op + ": " + e.Err.Error()
}

func (e *LocalServiceError) Unwrap() error { return e.Err }

// ValidationError reports an action invoked without its precondition.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Err.Error()
	}
	return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError for field wrapping one of the sentinels.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Upstream builds an UpstreamError.
func Upstream(service, op string, err error) error {
	return &UpstreamError{Service: service, Op: op, Err: err}
}

// UpstreamFrom builds an UpstreamError and marks it as a timeout when err
// carries a context deadline.
func UpstreamFrom(service, op string, err error) error {
	var existing *UpstreamError
	if errors.As(err, &existing) {
		return err
	}
	return &UpstreamError{
		Service: service,
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// UpstreamStatus builds an UpstreamError for a non-success HTTP status.
func UpstreamStatus(service, op string, status int, err error) error {
	return &UpstreamError{Service: service, Op: op, Status: status, Err: err}
}

// Local builds a LocalServiceError.
func Local(op string, err error) error {
	return &LocalServiceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsUpstream(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u)
}

func IsLocalService(err error) bool {
	var l *LocalServiceError
	return errors.As(err, &l)
}

// IsTimeout reports whether err is an UpstreamError caused by a deadline.
func IsTimeout(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u) && u.Timeout
}
