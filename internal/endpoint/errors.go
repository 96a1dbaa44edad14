package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Connectivity error kinds. They are retried by the remote executor and
// reported to the locator as endpoint health signals.
var (
	ErrDialFailed      = errors.New("dial failed")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrTimeout         = errors.New("timeout")
	ErrPoolExhausted   = errors.New("pool exhausted")
)

// ConnectivityError reports a transport-level failure against an endpoint.
type ConnectivityError struct {
	Kind     error // one of the Err* kinds above
	Endpoint Endpoint
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Endpoint)
}

// Unwrap returns the underlying cause.
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Is matches the error kind, so errors.Is(err, ErrTimeout) works on a
// wrapped ConnectivityError.
func (e *ConnectivityError) Is(target error) bool {
	return target == e.Kind
}

// NewConnectivityError builds a ConnectivityError of the given kind.
func NewConnectivityError(kind error, ep Endpoint, err error) *ConnectivityError {
	return &ConnectivityError{Kind: kind, Endpoint: ep, Err: err}
}

// IsConnectivity reports whether err is a transport-level failure that
// may succeed on retry. Caller cancellation is never connectivity.
func IsConnectivity(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps a raw error from a dial attempt into a ConnectivityError.
// Timeouts (context deadline or net timeout) become ErrTimeout; everything
// else becomes the given fallback kind.
func Classify(fallback error, ep Endpoint, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewConnectivityError(ErrTimeout, ep, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewConnectivityError(ErrTimeout, ep, err)
	}
	return NewConnectivityError(fallback, ep, err)
}
