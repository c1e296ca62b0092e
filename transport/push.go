// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	pushKeepAlive      = 30 * time.Second
	pushConnectTimeout = 5 * time.Second
	pushPublishTimeout = 5 * time.Second
	// Delay between tearing down a prior session for the same device and
	// opening its replacement, so the broker sees the disconnect first.
	settleDelay = 500 * time.Millisecond

	updateBufferSize = 256
	eventBufferSize  = 8

	statusTopicSuffix = "App/Status"
	statusOnline      = "online"
	statusOffline     = "offline"
)

// SessionEvent reports a connectivity change of the underlying broker
// session. Err is set when the connection was lost abnormally.
type SessionEvent struct {
	Connected bool
	Err       error
}

// PushConfig holds the broker parameters shared by all sessions.
type PushConfig struct {
	// BrokerURL is the broker endpoint, e.g. "ssl://broker.example:8883".
	BrokerURL string
}

// PushAdapter opens push sessions. It owns at most one session per device
// serial: opening a second session for the same device tears down the
// prior one first, with a short settling delay.
type PushAdapter struct {
	cfg PushConfig

	mu       sync.Mutex
	sessions map[string]*PushSession
}

// NewPushAdapter creates a push adapter for the given broker.
func NewPushAdapter(cfg PushConfig) *PushAdapter {
	return &PushAdapter{cfg: cfg, sessions: make(map[string]*PushSession)}
}

// ClientID derives the broker client identity from the caller's stable
// installation identity. The derivation is deterministic so repeated opens
// across the lifetime of the installation reuse the same logical identity.
func ClientID(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return "SmartEVSE-app-" + hex.EncodeToString(sum[:6])
}

// Open establishes a session for one device and blocks until the broker
// accepts the connection or the connect timeout expires. The session
// subscribes the fixed state topic set, registers a last-will offline
// marker, and publishes an explicit online marker once connected.
func (a *PushAdapter) Open(ctx context.Context, serial, identity, credential string) (*PushSession, error) {
	a.mu.Lock()
	if prior, ok := a.sessions[serial]; ok {
		delete(a.sessions, serial)
		a.mu.Unlock()
		prior.Close()
		time.Sleep(settleDelay)
		a.mu.Lock()
	}
	a.mu.Unlock()

	s := &PushSession{
		serial:  serial,
		root:    telemetry.TopicRoot(serial),
		updates: make(chan telemetry.Update, updateBufferSize),
		events:  make(chan SessionEvent, eventBufferSize),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(a.cfg.BrokerURL).
		SetClientID(ClientID(identity)).
		SetUsername(identity).
		SetPassword(credential).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetKeepAlive(pushKeepAlive).
		SetConnectTimeout(pushConnectTimeout).
		SetAutoReconnect(true).
		SetWill(s.root+"/"+statusTopicSuffix, statusOffline, 1, true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !waitToken(ctx, token, pushConnectTimeout) {
		s.client.Disconnect(0)
		metrics.PushSessionFailures.Inc()
		return nil, apperrors.NewTransportOpenError(a.cfg.BrokerURL, serial, fmt.Errorf("connect timeout"))
	}
	if err := token.Error(); err != nil {
		metrics.PushSessionFailures.Inc()
		return nil, apperrors.NewTransportOpenError(a.cfg.BrokerURL, serial, err)
	}

	a.mu.Lock()
	a.sessions[serial] = s
	a.mu.Unlock()

	metrics.PushSessionOpens.Inc()
	logger.Info().Str("serial", serial).Str("broker", a.cfg.BrokerURL).Msg("Push session open")
	return s, nil
}

// PushSession is one live broker session scoped to one device.
type PushSession struct {
	client mqtt.Client
	serial string
	root   string

	updates chan telemetry.Update
	events  chan SessionEvent

	mu     sync.Mutex
	closed bool
}

// Updates returns the ordered stream of decoded telemetry updates.
func (s *PushSession) Updates() <-chan telemetry.Update {
	return s.updates
}

// Events returns the stream of session connectivity events.
func (s *PushSession) Events() <-chan SessionEvent {
	return s.events
}

// IsConnected reports whether the broker connection is currently open.
func (s *PushSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// SendCommand publishes a command on the device's Set/ topics. Push
// commands are fire-and-forget on the device side; success of the publish
// is success of the command.
func (s *PushSession) SendCommand(cmd Command) error {
	switch cmd.Kind {
	case CommandSetMode:
		return s.publish("Set/Mode", cmd.Mode.String(), false)
	case CommandSetOverride:
		return s.publish("Set/CurrentOverride", strconv.Itoa(telemetry.AmpsToDeciamps(cmd.OverrideAmps)), false)
	default:
		return fmt.Errorf("unsupported command kind %d", cmd.Kind)
	}
}

// Close publishes a best-effort graceful offline marker (distinct from the
// last will, which only fires on abnormal loss) and disconnects.
func (s *PushSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.client.IsConnectionOpen() {
		if err := s.publish(statusTopicSuffix, statusOffline, true); err != nil {
			logger.Debug().Err(err).Str("serial", s.serial).Msg("Offline marker publish failed")
		}
	}
	s.client.Disconnect(250)
	logger.Info().Str("serial", s.serial).Msg("Push session closed")
}

func (s *PushSession) publish(suffix, payload string, retained bool) error {
	if !s.client.IsConnectionOpen() {
		return apperrors.ErrSessionClosed
	}
	token := s.client.Publish(s.root+"/"+suffix, 1, retained, payload)
	if !token.WaitTimeout(pushPublishTimeout) {
		return apperrors.NewTransportTimeoutError("push", "publish "+suffix, fmt.Errorf("publish not acknowledged"))
	}
	return token.Error()
}

// onConnect runs on every (re)connect: resubscribes the state topic set
// and announces this client as online. Subscribing here instead of once at
// open time is what makes paho's automatic reconnection also restore the
// subscriptions.
func (s *PushSession) onConnect(client mqtt.Client) {
	filters := make(map[string]byte, len(telemetry.SubscribeTopics))
	for _, suffix := range telemetry.SubscribeTopics {
		filters[s.root+"/"+suffix] = 1
	}
	token := client.SubscribeMultiple(filters, s.onMessage)
	go func() {
		if !token.WaitTimeout(pushPublishTimeout) || token.Error() != nil {
			logger.Warn().Err(token.Error()).Str("serial", s.serial).Msg("State topic subscribe failed")
		}
	}()

	client.Publish(s.root+"/"+statusTopicSuffix, 1, true, statusOnline)

	s.emitEvent(SessionEvent{Connected: true})
	logger.Info().Str("serial", s.serial).Msg("Push session connected")
}

func (s *PushSession) onConnectionLost(_ mqtt.Client, err error) {
	s.emitEvent(SessionEvent{Connected: false, Err: err})
	logger.Warn().Err(err).Str("serial", s.serial).Msg("Push session connection lost")
}

func (s *PushSession) onMessage(_ mqtt.Client, msg mqtt.Message) {
	suffix := strings.TrimPrefix(msg.Topic(), s.root+"/")
	update, err := telemetry.DecodeTopicValue(suffix, string(msg.Payload()))
	if err != nil {
		// Unknown topics are expected from newer firmware; malformed
		// values drop just that field.
		if !apperrors.IsDecodeError(err) {
			return
		}
		logger.Debug().Err(err).Str("topic", msg.Topic()).Msg("Dropped undecodable push value")
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.updates <- update:
	default:
		logger.Warn().Str("serial", s.serial).Msg("Update channel full, dropping telemetry event")
	}
}

func (s *PushSession) emitEvent(ev SessionEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// waitToken waits for a paho token honoring both the context and a bound.
func waitToken(ctx context.Context, token mqtt.Token, bound time.Duration) bool {
	done := make(chan bool, 1)
	go func() { done <- token.WaitTimeout(bound) }()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}
