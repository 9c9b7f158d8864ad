package llm

import (
	"context"
	"errors"
	"fmt"

	apperrors "transfer-advisor/internal/common/errors"
)

type FailureKind string

const (
	KindTransport   FailureKind = "transport"
	KindHTTP        FailureKind = "http"
	KindMalformed   FailureKind = "malformed"
	KindTimeout     FailureKind = "timeout"
	KindRateLimited FailureKind = "rate_limited"
	KindCancelled   FailureKind = "cancelled"
)

// CallFailure is the only error type the gateway returns.
type CallFailure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Err        error
}

func (f *CallFailure) Error() string {
	return fmt.Sprintf("llm call failed (%s): %s", f.Kind, f.Message)
}

func (f *CallFailure) Unwrap() error {
	return f.Err
}

// Retryable covers transport errors, per-call timeouts, 429 and 5xx.
func (f *CallFailure) Retryable() bool {
	switch f.Kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	case KindHTTP:
		return f.StatusCode >= 500
	}
	return false
}

// SchemaRejected reports whether the endpoint refused the request shape,
// typically an unsupported response_format.
func (f *CallFailure) SchemaRejected() bool {
	return f.Kind == KindHTTP && (f.StatusCode == 400 || f.StatusCode == 422)
}

// AsStandardError maps the failure onto the application error taxonomy.
func (f *CallFailure) AsStandardError(component string) *apperrors.StandardError {
	if f.Kind == KindCancelled {
		return apperrors.NewCancelledError(f)
	}
	return apperrors.NewTransportError(component, f)
}

func cancelled(err error) *CallFailure {
	if err == nil {
		err = context.Canceled
	}
	return &CallFailure{Kind: KindCancelled, Message: err.Error(), Err: err}
}

// AsCallFailure extracts a *CallFailure from err.
func AsCallFailure(err error) (*CallFailure, bool) {
	var f *CallFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
