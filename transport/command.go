// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package transport implements the two wire adapters for a SmartEVSE
// controller: a publish/subscribe push session against the broker and a
// one-shot request/response poll client against the device's local HTTP
// endpoint. Both decode into the canonical telemetry types so the engine
// never sees transport-specific payloads.
package transport

import (
	"fmt"

	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

// CommandKind selects which setting a command changes.
type CommandKind int

const (
	// CommandSetMode changes the charge mode.
	CommandSetMode CommandKind = iota
	// CommandSetOverride changes the override current (0 clears it).
	CommandSetOverride
)

// Command is one device command, transport-neutral. The engine routes it
// to whichever adapter is currently usable.
type Command struct {
	Kind         CommandKind
	Mode         telemetry.Mode
	OverrideAmps float64
}

// SetMode builds a charge mode command.
func SetMode(m telemetry.Mode) Command {
	return Command{Kind: CommandSetMode, Mode: m}
}

// SetOverride builds an override current command. Amps are converted to
// the wire's deciamp encoding by the adapters.
func SetOverride(amps float64) Command {
	return Command{Kind: CommandSetOverride, OverrideAmps: amps}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSetMode:
		return fmt.Sprintf("set mode %s", c.Mode)
	case CommandSetOverride:
		return fmt.Sprintf("set override %.1fA", c.OverrideAmps)
	default:
		return "unknown command"
	}
}

// ApplyTo folds the command's intended effect into an update, used for the
// optimistic local apply after a push publish is accepted.
func (c Command) ApplyTo() telemetry.Update {
	var u telemetry.Update
	switch c.Kind {
	case CommandSetMode:
		m := c.Mode
		u.Mode = &m
	case CommandSetOverride:
		v := c.OverrideAmps
		u.OverrideCurrent = &v
	}
	return u
}
