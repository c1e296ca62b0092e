// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package interfaces

import (
	"context"

	"github.com/SmartEVSE/SmartEVSE-app/discovery"
)

// DeviceScanner defines the interface for finding SmartEVSE chargers on
// the local network.
type DeviceScanner interface {
	// Scan runs a full discovery pass. The progress callback may be nil.
	Scan(ctx context.Context, onProgress func(discovery.Progress)) ([]discovery.Result, error)
}
