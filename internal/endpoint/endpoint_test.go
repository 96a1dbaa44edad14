package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestEndpoint_Strings(t *testing.T) {
	ep := Endpoint{Service: "nextcloud", Host: "10.0.0.5", Port: 2222}
	if got := ep.Addr(); got != "10.0.0.5:2222" {
		t.Errorf("Addr() = %q", got)
	}
	if got := ep.String(); got != "nextcloud@10.0.0.5:2222" {
		t.Errorf("String() = %q", got)
	}

	v6 := Endpoint{Service: "photoprism", Host: "fd00::1", Port: 22}
	if got := v6.Addr(); got != "[fd00::1]:22" {
		t.Errorf("Addr() = %q", got)
	}

	if !(Endpoint{}).IsZero() || ep.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestConnectivityError_Is(t *testing.T) {
	ep := Endpoint{Service: "nextcloud", Host: "h", Port: 1}
	cause := errors.New("connection refused")
	err := fmt.Errorf("acquire: %w", NewConnectivityError(ErrDialFailed, ep, cause))

	if !errors.Is(err, ErrDialFailed) {
		t.Error("errors.Is(err, ErrDialFailed) = false")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = true")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if got := NewConnectivityError(ErrTimeout, ep, nil).Error(); got != "timeout nextcloud@h:1" {
		t.Errorf("Error() = %q", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsConnectivity(t *testing.T) {
	ep := Endpoint{Service: "nextcloud", Host: "h", Port: 1}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("run: %w", context.Canceled), false},
		{"plain", errors.New("unauthorized command"), false},
		{"connectivity", NewConnectivityError(ErrHandshakeFailed, ep, nil), true},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivity(tt.err); got != tt.want {
				t.Errorf("IsConnectivity(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	ep := Endpoint{Service: "nextcloud", Host: "h", Port: 1}

	if Classify(ErrDialFailed, ep, nil) != nil {
		t.Error("Classify(nil) != nil")
	}
	if err := Classify(ErrDialFailed, ep, context.DeadlineExceeded); !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline classified as %v", err)
	}
	if err := Classify(ErrDialFailed, ep, timeoutErr{}); !errors.Is(err, ErrTimeout) {
		t.Errorf("net timeout classified as %v", err)
	}
	if err := Classify(ErrHandshakeFailed, ep, errors.New("bad key")); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("fallback not applied: %v", err)
	}

	orig := NewConnectivityError(ErrPoolExhausted, ep, nil)
	if err := Classify(ErrDialFailed, ep, orig); err != error(orig) {
		t.Errorf("existing ConnectivityError rewrapped: %v", err)
	}
}

func TestReporterFunc(t *testing.T) {
	var got Outcome = -1
	var r Reporter = ReporterFunc(func(_ Endpoint, o Outcome) { got = o })
	r.ReportOutcome(Endpoint{}, Failure)
	if got != Failure || Failure.String() != "failure" || Success.String() != "success" {
		t.Errorf("got %v", got)
	}
}
