package imeon

import (
	"errors"
	"fmt"
)

// ConfigError is returned when the client or process configuration is
// unusable. It is fatal at startup.
type ConfigError struct {
	Flag   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid --%s: %s", e.Flag, e.Reason)
}

// AuthError is returned when the device did not grant a session on login.
type AuthError struct {
	Address string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to login to %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("failed to login to %s: no session granted", e.Address)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RequestError is returned when an endpoint could not be fetched, either
// because the transport failed or because the device kept rejecting the
// request after a fresh login.
type RequestError struct {
	Endpoint   Endpoint
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not request %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("could not request %s: status %d", e.Endpoint, e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response body is not JSON or does not have
// the expected shape.
type DecodeError struct {
	Endpoint Endpoint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unexpected data-format from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	errMissingVal = errors.New("missing val")
	errEmptyVal   = errors.New("empty val")
	errNotObject  = errors.New("first channel is not an object")
	errNotJSON    = errors.New("body is not valid JSON")
)
