// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/SmartEVSE/SmartEVSE-app/app"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist
// On Windows, debug information can be accessed via:
// - HTTP endpoints (if implemented)
// - Log file analysis
// - Windows Performance Monitor
func setupDebugSignalHandlers(application *app.App) {
	// No-op on Windows - SIGUSR1 and SIGUSR2 don't exist
	// Debug signal handlers are only available on Unix-like systems
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
