// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package transport

import (
	"errors"
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

// newDisconnectedClient builds a paho client that was never connected.
func newDisconnectedClient() mqtt.Client {
	return mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1"))
}

// fakeMessage satisfies paho's Message interface for feeding the session's
// message handler directly.
type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

func TestClientID_Deterministic(t *testing.T) {
	a := ClientID("installation-uuid-1")
	b := ClientID("installation-uuid-1")
	if a != b {
		t.Errorf("ClientID() not deterministic: %q vs %q", a, b)
	}
}

func TestClientID_DistinctPerIdentity(t *testing.T) {
	a := ClientID("installation-uuid-1")
	b := ClientID("installation-uuid-2")
	if a == b {
		t.Errorf("ClientID() collided for distinct identities: %q", a)
	}
}

func TestClientID_Shape(t *testing.T) {
	id := ClientID("some-identity")
	if !strings.HasPrefix(id, "SmartEVSE-app-") {
		t.Errorf("ClientID() = %q, want SmartEVSE-app- prefix", id)
	}
	// Paho limits practical client id length; prefix plus 12 hex chars.
	if len(id) != len("SmartEVSE-app-")+12 {
		t.Errorf("ClientID() length = %d, want %d", len(id), len("SmartEVSE-app-")+12)
	}
}

func TestCommandString(t *testing.T) {
	if got := SetMode(telemetry.ModeSolar).String(); !strings.Contains(got, "Solar") {
		t.Errorf("String() = %q, want mode name", got)
	}
	if got := SetOverride(8.0).String(); !strings.Contains(got, "8.0") {
		t.Errorf("String() = %q, want amps value", got)
	}
}

func TestCommandApplyTo(t *testing.T) {
	u := SetMode(telemetry.ModeSmart).ApplyTo()
	if u.Mode == nil || *u.Mode != telemetry.ModeSmart {
		t.Errorf("ApplyTo() Mode = %v, want ModeSmart", u.Mode)
	}
	if u.OverrideCurrent != nil {
		t.Error("mode command must not touch override current")
	}

	u = SetOverride(13.0).ApplyTo()
	if u.OverrideCurrent == nil || *u.OverrideCurrent != 13.0 {
		t.Errorf("ApplyTo() OverrideCurrent = %v, want 13.0", u.OverrideCurrent)
	}
	if u.Mode != nil {
		t.Error("override command must not touch mode")
	}
}

func TestPushSession_MessageDeliveredWithoutCounting(t *testing.T) {
	s := &PushSession{
		serial:  "852199",
		root:    telemetry.TopicRoot("852199"),
		updates: make(chan telemetry.Update, 4),
		events:  make(chan SessionEvent, 1),
	}
	s.client = newDisconnectedClient()

	// The engine counts telemetry updates when it consumes them; the
	// session must only decode and deliver, or every push message would
	// be counted twice.
	before := testutil.ToFloat64(metrics.TelemetryUpdates.WithLabelValues("push"))
	s.onMessage(nil, fakeMessage{topic: s.root + "/ChargeCurrent", payload: "160"})

	select {
	case u := <-s.updates:
		if u.ChargeCurrent == nil || *u.ChargeCurrent != 16.0 {
			t.Errorf("ChargeCurrent = %v, want 16.0", u.ChargeCurrent)
		}
	default:
		t.Fatal("decoded update not delivered")
	}
	if after := testutil.ToFloat64(metrics.TelemetryUpdates.WithLabelValues("push")); after != before {
		t.Errorf("telemetry update counter moved by %v in the session layer", after-before)
	}
}

func TestPushSession_SendCommandWhileDisconnected(t *testing.T) {
	// A session whose broker connection never opened must reject commands
	// instead of blocking.
	s := &PushSession{
		serial:  "852199",
		root:    telemetry.TopicRoot("852199"),
		updates: make(chan telemetry.Update, 1),
		events:  make(chan SessionEvent, 1),
	}
	s.client = newDisconnectedClient()

	err := s.SendCommand(SetMode(telemetry.ModeNormal))
	if !errors.Is(err, apperrors.ErrSessionClosed) {
		t.Errorf("SendCommand() error = %v, want ErrSessionClosed", err)
	}
}

func TestPushSession_CloseIsIdempotent(t *testing.T) {
	s := &PushSession{
		serial:  "852199",
		root:    telemetry.TopicRoot("852199"),
		updates: make(chan telemetry.Update, 1),
		events:  make(chan SessionEvent, 1),
	}
	s.client = newDisconnectedClient()

	s.Close()
	s.Close()
}

func TestPushSession_EventsDroppedAfterClose(t *testing.T) {
	s := &PushSession{
		serial:  "852199",
		root:    telemetry.TopicRoot("852199"),
		updates: make(chan telemetry.Update, 1),
		events:  make(chan SessionEvent, 1),
	}
	s.client = newDisconnectedClient()
	s.Close()

	s.emitEvent(SessionEvent{Connected: true})
	select {
	case ev := <-s.events:
		t.Errorf("event %+v delivered after Close()", ev)
	default:
	}
}
