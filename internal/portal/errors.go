package portal

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrProtocol      = errors.New("unexpected portal response")
	ErrTransport     = errors.New("portal request failed")
	ErrClosed        = errors.New("session is closed")
)

// ConfigurationError means the session can never work with the given
// settings, retrying will not help.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("portal: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ProtocolError means a page did not contain something every portal page
// of its kind has.
type ProtocolError struct {
	Page    string
	Missing string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("portal: %s: %s not found", e.Page, e.Missing)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TransportError is a failed exchange, either `Err` is set or the portal
// answered with an unusable status or content type.
type TransportError struct {
	Method      string
	Url         string
	Status      int
	ContentType string
	Err         error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal: %s %s: %v", e.Method, e.Url, e.Err)
	}
	if e.ContentType != "" {
		return fmt.Sprintf("portal: %s %s: status %d (%s)", e.Method, e.Url, e.Status, e.ContentType)
	}
	return fmt.Sprintf("portal: %s %s: status %d", e.Method, e.Url, e.Status)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
