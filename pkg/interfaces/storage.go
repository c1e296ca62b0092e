// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"

	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

// TelemetryRecorder defines the interface for persisting charging
// snapshots. Implementations are expected to degrade gracefully when
// the backing store is unavailable.
type TelemetryRecorder interface {
	// Record persists one snapshot for the given device serial.
	Record(ctx context.Context, serial string, snap telemetry.Snapshot) error

	// Health checks whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close gracefully shuts down the recorder.
	Close()
}
