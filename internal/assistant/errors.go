package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies provider failures so the orchestrator and callers can
// branch without string matching.
type ErrorKind string

const (
	KindAuthRequired      ErrorKind = "AUTH_REQUIRED"
	KindConnectionRefused ErrorKind = "CONNECTION_REFUSED"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindHTTPError         ErrorKind = "HTTP_ERROR"
	KindInvalidResponse   ErrorKind = "INVALID_RESPONSE"
	KindUnknown           ErrorKind = "UNKNOWN"
)

// ProviderError is a typed failure from a provider adapter.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	HTTPStatus int
}

func (e *ProviderError) Error() string {
	if e.Kind == KindHTTPError && e.HTTPStatus != 0 {
		return fmt.Sprintf("assistant: provider %s: %s(%d): %s", e.Provider, e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("assistant: provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

func newProviderError(provider string, kind ErrorKind, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: msg}
}

// classifyError maps transport and API errors from any adapter into a
// ProviderError. Already-classified errors pass through with the provider
// name preserved.
func classifyError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newProviderError(provider, KindTimeout, "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		return newProviderError(provider, KindTimeout, "request cancelled")
	case errors.Is(err, syscall.ECONNREFUSED):
		return newProviderError(provider, KindConnectionRefused, "connection refused")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newProviderError(provider, KindTimeout, netErr.Error())
	}
	if os.IsTimeout(err) {
		return newProviderError(provider, KindTimeout, err.Error())
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newProviderError(provider, KindConnectionRefused, opErr.Error())
	}

	return newProviderError(provider, KindUnknown, err.Error())
}

// classifyHTTPStatus maps an HTTP response code to an error kind.
func classifyHTTPStatus(provider string, status int, body string) *ProviderError {
	kind := KindHTTPError
	if status == 401 || status == 403 {
		kind = KindAuthRequired
	}
	return &ProviderError{Kind: kind, Provider: provider, Message: body, HTTPStatus: status}
}
