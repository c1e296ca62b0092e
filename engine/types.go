// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package engine

import (
	"context"
	"time"

	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
	"github.com/SmartEVSE/SmartEVSE-app/transport"
)

// Transport identifies which channel currently carries telemetry.
type Transport int

const (
	TransportNone Transport = iota
	TransportPoll
	TransportPush
)

var transportNames = [...]string{"none", "poll", "push"}

func (t Transport) String() string {
	if t < TransportNone || int(t) >= len(transportNames) {
		return "none"
	}
	return transportNames[t]
}

// ConnectivityStatus is the consumer-visible transport state. Mutated only
// by the engine, never persisted.
type ConnectivityStatus struct {
	ActiveTransport Transport
	PushSessionLive bool
	LastError       string
}

// StatusUpdate is one emission of the engine's unified stream: the merged
// snapshot plus the connectivity status it was produced under.
type StatusUpdate struct {
	Snapshot     telemetry.Snapshot
	Connectivity ConnectivityStatus
}

// State is the failover state machine position. One machine exists per
// selected device; deselection tears it down unconditionally.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePollActive
	StatePushActive
	StatePushStale
	StateDisconnected
)

var stateNames = [...]string{
	"idle", "connecting", "poll-active", "push-active", "push-stale", "disconnected",
}

func (s State) String() string {
	if s < StateIdle || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Session is the engine's view of one open push session.
type Session interface {
	Updates() <-chan telemetry.Update
	Events() <-chan transport.SessionEvent
	SendCommand(cmd transport.Command) error
	IsConnected() bool
	Close()
}

// PushOpener opens push sessions. Open blocks until the broker accepts or
// rejects the connection.
type PushOpener interface {
	Open(ctx context.Context, serial, identity, credential string) (Session, error)
}

// Poller performs one-shot fetch/command requests against the device's
// local address.
type Poller interface {
	FetchSnapshot(ctx context.Context, address string) (telemetry.Update, error)
	SendCommand(ctx context.Context, address string, cmd transport.Command) error
}

// Timing collects the engine's timer periods. Tests shrink them; the
// defaults are the production values.
type Timing struct {
	// PollInterval is the poll tick period and the grace window a push
	// open gets before the poll fallback takes over.
	PollInterval time.Duration
	// DataTimeout is how long a push session may stay silent before it is
	// considered stale.
	DataTimeout time.Duration
	// RequestTimeout bounds individual poll requests issued by the engine.
	RequestTimeout time.Duration
}

// DefaultTiming returns the production timer periods.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:   5 * time.Second,
		DataTimeout:    30 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}
