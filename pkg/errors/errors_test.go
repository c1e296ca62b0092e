// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransportOpenError(t *testing.T) {
	baseErr := fmt.Errorf("connection refused")
	err := NewTransportOpenError("tls://mqtt.smartevse.network:8883", "852199", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "push open") || !strings.Contains(errMsg, "852199") {
		t.Errorf("Error() = %q, want message containing 'push open' and '852199'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	if !IsTransportOpenError(err) {
		t.Error("IsTransportOpenError() should return true for TransportOpenError")
	}

	var te *TransportOpenError
	if !errors.As(err, &te) {
		t.Error("errors.As() should extract TransportOpenError")
	}
	if te.Broker != "tls://mqtt.smartevse.network:8883" {
		t.Errorf("TransportOpenError.Broker = %q, want broker endpoint", te.Broker)
	}
}

func TestTransportTimeoutError(t *testing.T) {
	baseErr := fmt.Errorf("deadline exceeded")
	err := NewTransportTimeoutError("poll", "fetch", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "poll") || !strings.Contains(errMsg, "fetch") || !strings.Contains(errMsg, "timeout") {
		t.Errorf("Error() = %q, want message containing 'poll', 'fetch' and 'timeout'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	if !IsTransportTimeoutError(err) {
		t.Error("IsTransportTimeoutError() should return true for TransportTimeoutError")
	}
}

func TestDecodeError(t *testing.T) {
	baseErr := fmt.Errorf("invalid syntax")
	err := NewDecodeError("charge_current", "garbage", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "charge_current") || !strings.Contains(errMsg, "garbage") {
		t.Errorf("Error() = %q, want message containing field and raw value", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	if !IsDecodeError(err) {
		t.Error("IsDecodeError() should return true for DecodeError")
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Error("errors.As() should extract DecodeError")
	}
	if de.Field != "charge_current" {
		t.Errorf("DecodeError.Field = %q, want %q", de.Field, "charge_current")
	}
}

func TestPairError(t *testing.T) {
	err := NewPairError(403, "invalid PIN")

	errMsg := err.Error()
	if !strings.Contains(errMsg, "403") || !strings.Contains(errMsg, "invalid PIN") {
		t.Errorf("Error() = %q, want message containing status and body", errMsg)
	}

	if !IsPairError(err) {
		t.Error("IsPairError() should return true for PairError")
	}

	// Status zero means the response never arrived or was malformed.
	noStatus := NewPairError(0, "connection reset")
	if !strings.Contains(noStatus.Error(), "pairing failed") {
		t.Errorf("Error() = %q, want 'pairing failed' form without status", noStatus.Error())
	}
}

func TestDiscoveryProbeError(t *testing.T) {
	baseErr := fmt.Errorf("no route to host")
	err := NewDiscoveryProbeError("192.168.1.77", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "probe") || !strings.Contains(errMsg, "192.168.1.77") {
		t.Errorf("Error() = %q, want message containing 'probe' and address", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}
}

func TestStorageError(t *testing.T) {
	baseErr := fmt.Errorf("connection timeout")
	err := NewStorageError("write", "852199", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "storage") || !strings.Contains(errMsg, "write") || !strings.Contains(errMsg, "852199") {
		t.Errorf("Error() = %q, want message containing 'storage', 'write', and '852199'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Error("errors.As() should extract StorageError")
	}
	if se.Op != "write" {
		t.Errorf("StorageError.Op = %q, want %q", se.Op, "write")
	}

	// Serial-less form used by spool maintenance.
	noSerial := NewStorageError("replay", "", baseErr)
	if strings.Contains(noSerial.Error(), "device=") {
		t.Errorf("Error() = %q, should omit device when serial is empty", noSerial.Error())
	}
}

func TestConfigError(t *testing.T) {
	baseErr := fmt.Errorf("invalid format")
	err := NewConfigError("broker.url", "invalid://url", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "broker.url") || !strings.Contains(errMsg, "invalid://url") {
		t.Errorf("Error() = %q, want message containing field and value", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	// Redacted form keeps the field but hides the value.
	redacted := NewConfigError("influxdb.token", "", baseErr)
	if strings.Contains(redacted.Error(), "value=") {
		t.Errorf("Error() = %q, should omit value when redacted", redacted.Error())
	}
}

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("routing command: %w", ErrNoTransport)
	if !errors.Is(wrapped, ErrNoTransport) {
		t.Error("errors.Is() should match ErrNoTransport through wrapping")
	}

	if errors.Is(ErrNoCredential, ErrNoTransport) {
		t.Error("distinct sentinels must not match each other")
	}
}

func TestTypeCheckersRejectOtherErrors(t *testing.T) {
	plain := fmt.Errorf("plain error")

	if IsTransportOpenError(plain) {
		t.Error("IsTransportOpenError() should return false for plain error")
	}
	if IsTransportTimeoutError(plain) {
		t.Error("IsTransportTimeoutError() should return false for plain error")
	}
	if IsDecodeError(plain) {
		t.Error("IsDecodeError() should return false for plain error")
	}
	if IsPairError(plain) {
		t.Error("IsPairError() should return false for plain error")
	}
}
