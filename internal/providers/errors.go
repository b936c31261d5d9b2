package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigurationError reports a deployment problem: missing parameters, an
// unknown provider type, or no provider able to serve a request.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "provider configuration: " + e.Msg
}

func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindDecode    ErrorKind = "decode"
	KindTimeout   ErrorKind = "timeout"
)

// ProviderError is a failed call to a backend.
type ProviderError struct {
	Provider   Type
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s provider %s: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func IsTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindTimeout
}

// KindOf returns the provider error kind, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// TransportError classifies a failed round trip as timeout or transport.
func TransportError(provider Type, err error) *ProviderError {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
