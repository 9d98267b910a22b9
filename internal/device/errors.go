package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DeviceError captures a non-2xx response from the panel controller.
type DeviceError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the trimmed response body, if any.
	Message string
	// RawBody keeps the original payload for debugging.
	RawBody []byte
}

func (e *DeviceError) Error() string {
	b := strings.Builder{}
	b.WriteString("device: ")
	b.WriteString(e.Method)
	b.WriteString(" ")
	b.WriteString(e.Path)
	b.WriteString(" returned status ")
	b.WriteString(strconv.Itoa(e.StatusCode))
	if m := strings.TrimSpace(e.Message); m != "" {
		b.WriteString(": ")
		b.WriteString(m)
	}
	return b.String()
}

// ProtocolError reports a response that does not carry the fields the protocol requires.
type ProtocolError struct {
	Path   string
	Field  string
	Value  string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("device: protocol error on %s: %s %s", e.Path, e.Field, e.Reason)
	}
	return fmt.Sprintf("device: protocol error on %s: %s=%q %s", e.Path, e.Field, e.Value, e.Reason)
}

// NetworkError wraps a transport failure (connection refused, timeout, reset).
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("device: %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request failed because its deadline was exceeded.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsDeviceStatus reports whether err is a DeviceError with the given HTTP status.
func IsDeviceStatus(err error, status int) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.StatusCode == status
	}
	return false
}
