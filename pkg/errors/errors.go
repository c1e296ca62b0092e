// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package errors provides the structured error types shared across the
// SmartEVSE companion service.
//
// The taxonomy follows the failure domains of the system: transport
// session establishment, transport timeouts, payload decoding, pairing,
// discovery probing, telemetry storage and configuration. All types carry
// enough context for logging, support errors.Is/As inspection, and wrap
// their underlying cause.
//
// Decode failures are per-field and never fatal: callers drop the field
// and keep the rest of the message. Transport failures drive the failover
// state machine instead of being surfaced raw.
package errors

import (
	"errors"
	"fmt"
)

// TransportOpenError indicates a push session could not be established:
// invalid credential, unreachable broker, or a TLS failure.
type TransportOpenError struct {
	Broker string // broker endpoint
	Serial string // device serial
	Err    error
}

func (e *TransportOpenError) Error() string {
	return fmt.Sprintf("push open %s (device=%s): %v", e.Broker, e.Serial, e.Err)
}

func (e *TransportOpenError) Unwrap() error {
	return e.Err
}

// NewTransportOpenError creates a new transport open error.
func NewTransportOpenError(broker, serial string, err error) *TransportOpenError {
	return &TransportOpenError{Broker: broker, Serial: serial, Err: err}
}

// IsTransportOpenError checks if an error is a TransportOpenError.
func IsTransportOpenError(err error) bool {
	var te *TransportOpenError
	return errors.As(err, &te)
}

// TransportTimeoutError indicates no response arrived within the bound of
// the operation.
type TransportTimeoutError struct {
	Transport string // "push" or "poll"
	Op        string // operation being performed (e.g. "fetch", "command")
	Err       error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("%s %s timeout: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportTimeoutError) Unwrap() error {
	return e.Err
}

// NewTransportTimeoutError creates a new transport timeout error.
func NewTransportTimeoutError(transport, op string, err error) *TransportTimeoutError {
	return &TransportTimeoutError{Transport: transport, Op: op, Err: err}
}

// IsTransportTimeoutError checks if an error is a TransportTimeoutError.
func IsTransportTimeoutError(err error) bool {
	var te *TransportTimeoutError
	return errors.As(err, &te)
}

// DecodeError indicates a payload did not match the expected shape. It is
// scoped to a single field; the rest of the message stays usable.
type DecodeError struct {
	Field string // field or topic suffix being decoded
	Raw   string // offending raw value
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (raw=%q): %v", e.Field, e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new decode error.
func NewDecodeError(field, raw string, err error) *DecodeError {
	return &DecodeError{Field: field, Raw: raw, Err: err}
}

// IsDecodeError checks if an error is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// PairError indicates the pairing authority rejected the PIN or returned a
// malformed response. Status and Body are kept for display to the user.
type PairError struct {
	Status int
	Body   string
}

func (e *PairError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pairing rejected (status=%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("pairing failed: %s", e.Body)
}

// NewPairError creates a new pairing error.
func NewPairError(status int, body string) *PairError {
	return &PairError{Status: status, Body: body}
}

// IsPairError checks if an error is a PairError.
func IsPairError(err error) bool {
	var pe *PairError
	return errors.As(err, &pe)
}

// DiscoveryProbeError indicates a single candidate probe failed. Probe
// errors are never surfaced individually; discovery reports only the
// aggregate result.
type DiscoveryProbeError struct {
	Addr string
	Err  error
}

func (e *DiscoveryProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Addr, e.Err)
}

func (e *DiscoveryProbeError) Unwrap() error {
	return e.Err
}

// NewDiscoveryProbeError creates a new discovery probe error.
func NewDiscoveryProbeError(addr string, err error) *DiscoveryProbeError {
	return &DiscoveryProbeError{Addr: addr, Err: err}
}

// StorageError represents an error during telemetry recording.
type StorageError struct {
	Op     string // operation being performed (e.g. "write", "spool", "replay")
	Serial string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("storage %s (device=%s): %v", e.Op, e.Serial, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op, serial string, err error) *StorageError {
	return &StorageError{Op: op, Serial: serial, Err: err}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string
	Value string // may be redacted for sensitive fields
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// Sentinel errors for common conditions
var (
	// ErrUnknownTopic indicates a push message arrived on a topic the codec
	// does not recognize. Dropped silently for forward compatibility.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrNotGenuineDevice indicates a probed endpoint answered but is not a
	// SmartEVSE controller (missing state/settings sections or serial).
	ErrNotGenuineDevice = errors.New("not a genuine device")

	// ErrNoTransport indicates neither transport could carry the operation.
	ErrNoTransport = errors.New("no transport usable")

	// ErrNoCredential indicates the device has never been paired.
	ErrNoCredential = errors.New("device has no credential")

	// ErrSessionClosed indicates the push session is not open.
	ErrSessionClosed = errors.New("push session closed")

	// ErrNoDeviceSelected indicates an operation that needs an active
	// device session was called while idle.
	ErrNoDeviceSelected = errors.New("no device selected")

	// ErrNoAddress indicates the device record carries no network address.
	ErrNoAddress = errors.New("device has no known address")
)
