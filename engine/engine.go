// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package engine implements the transport failover state machine that
// keeps one device's telemetry flowing over push when possible and poll
// otherwise. A single goroutine owns all state; the public methods hand
// requests to it over a channel and wait for the reply.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/registry"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
	"github.com/SmartEVSE/SmartEVSE-app/transport"
)

const updateStreamSize = 16

type requestKind int

const (
	reqSelect requestKind = iota
	reqDeselect
	reqCommand
	reqResume
	reqTiming
	reqStatus
)

type apiRequest struct {
	kind   requestKind
	dev    registry.Device
	cmd    transport.Command
	timing Timing
	reply  chan apiResult
}

type apiResult struct {
	err  error
	conn ConnectivityStatus
}

type openResult struct {
	gen     int
	session Session
	err     error
}

// Engine drives the failover machine for at most one selected device.
type Engine struct {
	opener   PushOpener
	poller   Poller
	identity string
	timing   Timing
	log      zerolog.Logger

	api     chan apiRequest
	updates chan StatusUpdate
	stop    chan struct{}
	done    chan struct{}
}

// New builds an engine. Start must be called before any other method.
func New(opener PushOpener, poller Poller, identity string, timing Timing) *Engine {
	return &Engine{
		opener:   opener,
		poller:   poller,
		identity: identity,
		timing:   timing,
		log:      logger.Component("engine"),
		api:      make(chan apiRequest),
		updates:  make(chan StatusUpdate, updateStreamSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Updates returns the unified telemetry stream. Slow consumers lose
// intermediate updates rather than stalling the machine.
func (e *Engine) Updates() <-chan StatusUpdate { return e.updates }

// Start launches the engine goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop tears down the machine and any open session, then returns.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// Select makes dev the active device, replacing any previous selection.
// The machine starts connecting immediately; success or failure surfaces
// on the update stream, not here.
func (e *Engine) Select(dev registry.Device) error {
	return e.call(apiRequest{kind: reqSelect, dev: dev}).err
}

// Deselect tears down the current selection. It is a no-op when nothing
// is selected.
func (e *Engine) Deselect() error {
	return e.call(apiRequest{kind: reqDeselect}).err
}

// SetMode routes a mode change to the device over the active transport.
func (e *Engine) SetMode(mode telemetry.Mode) error {
	return e.call(apiRequest{kind: reqCommand, cmd: transport.SetMode(mode)}).err
}

// SetOverrideCurrent routes a charge current override, in amps, to the
// device over the active transport.
func (e *Engine) SetOverrideCurrent(amps float64) error {
	return e.call(apiRequest{kind: reqCommand, cmd: transport.SetOverride(amps)}).err
}

// Resume nudges the machine after an outage or a foreground return: a
// disconnected machine retries immediately instead of waiting for the
// next tick, and a polling machine with credentials retries the push
// upgrade.
func (e *Engine) Resume() error {
	return e.call(apiRequest{kind: reqResume}).err
}

// SetTiming applies new timer periods, typically after a config reload.
// A running poll ticker moves to the new interval; the data timeout takes
// effect on its next arm.
func (e *Engine) SetTiming(t Timing) error {
	return e.call(apiRequest{kind: reqTiming, timing: t}).err
}

// Status reports the current connectivity state.
func (e *Engine) Status() ConnectivityStatus {
	return e.call(apiRequest{kind: reqStatus}).conn
}

func (e *Engine) call(req apiRequest) apiResult {
	req.reply = make(chan apiResult, 1)
	select {
	case e.api <- req:
		return <-req.reply
	case <-e.done:
		return apiResult{err: apperrors.ErrSessionClosed}
	}
}

// machine holds the run goroutine's private state.
type machine struct {
	e *Engine

	state State
	dev   registry.Device
	snap  telemetry.Snapshot
	conn  ConnectivityStatus

	selected bool
	session  Session
	gen      int

	openCh   chan openResult
	openBusy bool

	pollTicker *time.Ticker
	dataTimer  *time.Timer
}

func (e *Engine) run() {
	defer close(e.done)
	m := &machine{e: e}
	defer m.teardown()

	for {
		var (
			tick    <-chan time.Time
			stale   <-chan time.Time
			sessUpd <-chan telemetry.Update
			sessEvt <-chan transport.SessionEvent
		)
		if m.pollTicker != nil {
			tick = m.pollTicker.C
		}
		if m.dataTimer != nil {
			stale = m.dataTimer.C
		}
		if m.session != nil {
			sessUpd = m.session.Updates()
			sessEvt = m.session.Events()
		}

		select {
		case <-e.stop:
			return
		case req := <-e.api:
			req.reply <- m.handle(req)
		case res := <-m.openCh:
			m.onOpenResult(res)
		case u, ok := <-sessUpd:
			if !ok {
				m.session = nil
				continue
			}
			m.onPushUpdate(u)
		case ev, ok := <-sessEvt:
			if !ok {
				continue
			}
			m.onSessionEvent(ev)
		case <-tick:
			m.onPollTick()
		case <-stale:
			m.onDataTimeout()
		}
	}
}

func (m *machine) handle(req apiRequest) apiResult {
	switch req.kind {
	case reqSelect:
		m.doSelect(req.dev)
		return apiResult{}
	case reqDeselect:
		m.doDeselect()
		return apiResult{}
	case reqCommand:
		return apiResult{err: m.routeCommand(req.cmd)}
	case reqResume:
		m.doResume()
		return apiResult{}
	case reqTiming:
		m.e.timing = req.timing
		if m.pollTicker != nil {
			m.pollTicker.Reset(req.timing.PollInterval)
		}
		return apiResult{}
	case reqStatus:
		return apiResult{conn: m.conn}
	}
	return apiResult{}
}

func (m *machine) doSelect(dev registry.Device) {
	m.doDeselect()
	m.dev = dev
	m.selected = true
	m.snap = telemetry.Snapshot{}
	m.setState(StateConnecting, "")
	m.e.log.Info().Str("serial", dev.Serial).Bool("credentialed", dev.HasCredential()).
		Msg("device selected")

	// Polling starts in every case; the first tick doubles as the grace
	// window for a concurrent push open.
	m.startPolling()
	if dev.HasCredential() {
		m.launchOpen()
	}
}

func (m *machine) doDeselect() {
	if !m.selected {
		return
	}
	m.e.log.Info().Str("serial", m.dev.Serial).Msg("device deselected")
	m.teardown()
	m.selected = false
	m.dev = registry.Device{}
	m.snap = telemetry.Snapshot{}
	m.setState(StateIdle, "")
}

// teardown closes the session and stops every timer. The generation bump
// orphans any open still in flight.
func (m *machine) teardown() {
	m.gen++
	m.openBusy = false
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
	m.stopPolling()
	m.stopDataTimer()
	m.conn = ConnectivityStatus{}
}

func (m *machine) doResume() {
	if !m.selected {
		return
	}
	switch m.state {
	case StateDisconnected:
		if m.dev.HasCredential() && m.session == nil {
			m.launchOpen()
		}
		m.pollOnce()
	case StatePollActive:
		if m.dev.HasCredential() && m.session == nil {
			m.launchOpen()
		}
	}
}

// launchOpen starts a push session open off-loop. At most one open is in
// flight per selection.
func (m *machine) launchOpen() {
	if m.openBusy {
		return
	}
	m.openBusy = true
	if m.openCh == nil {
		m.openCh = make(chan openResult, 1)
	}
	gen := m.gen
	dev := m.dev
	opener := m.e.opener
	identity := m.e.identity
	ch := m.openCh
	go func() {
		s, err := opener.Open(context.Background(), dev.Serial, identity, dev.Credential)
		ch <- openResult{gen: gen, session: s, err: err}
	}()
}

func (m *machine) onOpenResult(res openResult) {
	if res.gen != m.gen {
		// Selection changed while the open was in flight.
		if res.session != nil {
			res.session.Close()
		}
		return
	}
	m.openBusy = false
	if res.err != nil {
		metrics.PushSessionFailures.Inc()
		m.e.log.Warn().Err(res.err).Str("serial", m.dev.Serial).Msg("push session open failed")
		m.conn.LastError = res.err.Error()
		// Polling carries on; the machine stays wherever it is.
		return
	}
	metrics.PushSessionOpens.Inc()
	m.session = res.session
	m.conn.PushSessionLive = m.session.IsConnected()
	if m.conn.PushSessionLive {
		m.enterPushActive()
	}
}

func (m *machine) onSessionEvent(ev transport.SessionEvent) {
	if ev.Connected {
		m.conn.PushSessionLive = true
		switch m.state {
		case StateConnecting, StatePollActive, StateDisconnected, StatePushStale:
			m.enterPushActive()
		}
		return
	}
	// A lost broker connection is not a failover trigger on its own: the
	// data timeout decides staleness. Only the live flag changes here.
	m.conn.PushSessionLive = false
	if ev.Err != nil {
		m.conn.LastError = ev.Err.Error()
	}
}

func (m *machine) onPushUpdate(u telemetry.Update) {
	if u.IsEmpty() {
		return
	}
	metrics.TelemetryUpdates.WithLabelValues("push").Inc()
	if m.state != StatePushActive {
		// Unsolicited push data proves the session works; upgrade.
		m.enterPushActive()
	}
	m.resetDataTimer()
	m.applyAndEmit(u)
}

func (m *machine) onPollTick() {
	switch m.state {
	case StateConnecting:
		// Grace window over: the push open has not connected in time, so
		// polling takes the floor.
		m.pollOnce()
	case StatePollActive, StateDisconnected:
		if m.state == StateDisconnected && m.dev.HasCredential() && m.session == nil {
			m.launchOpen()
		}
		m.pollOnce()
	}
}

func (m *machine) onDataTimeout() {
	if m.state != StatePushActive {
		return
	}
	m.setState(StatePushStale, "push data timeout")
	m.e.log.Warn().Str("serial", m.dev.Serial).Msg("push session stale, probing poll")

	// Exactly one probe decides the downgrade.
	u, err := m.fetch()
	if err != nil {
		// Keep claiming push: surface the error and re-arm the timer so
		// the same check repeats after the next timeout.
		m.setState(StatePushActive, err.Error())
		m.resetDataTimer()
		m.emit()
		return
	}
	m.setState(StatePollActive, "")
	m.startPolling()
	m.applyAndEmit(u)
}

func (m *machine) pollOnce() {
	u, err := m.fetch()
	if err != nil {
		if m.session != nil && m.session.IsConnected() {
			// The broker path still works even though the local one does
			// not; ride the push session.
			m.enterPushActive()
			return
		}
		m.enterDisconnected(err)
		return
	}
	metrics.TelemetryUpdates.WithLabelValues("poll").Inc()
	if m.state != StatePollActive {
		m.setState(StatePollActive, "")
	}
	m.applyAndEmit(u)
}

func (m *machine) fetch() (telemetry.Update, error) {
	if m.dev.Address == "" {
		return telemetry.Update{}, apperrors.ErrNoAddress
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.e.timing.RequestTimeout)
	defer cancel()
	return m.e.poller.FetchSnapshot(ctx, m.dev.Address)
}

func (m *machine) enterPushActive() {
	if m.state != StatePushActive {
		metrics.TransportFailovers.Inc()
	}
	m.setState(StatePushActive, "")
	m.stopPolling()
	m.resetDataTimer()
}

func (m *machine) enterDisconnected(err error) {
	if m.state != StateDisconnected {
		m.e.log.Warn().Err(err).Str("serial", m.dev.Serial).Msg("device unreachable")
		metrics.TransportFailovers.Inc()
	}
	m.setState(StateDisconnected, err.Error())
	m.stopDataTimer()
	// Fixed-period retry, forever: the poll ticker keeps running.
	m.startPolling()
	m.emit()
}

// routeCommand sends a command over the active transport. While push is
// the active transport it is the only path tried; otherwise poll goes
// first with push as the fallback.
func (m *machine) routeCommand(cmd transport.Command) error {
	if !m.selected {
		return apperrors.ErrNoDeviceSelected
	}
	if m.state == StatePushActive {
		return m.sendPush(cmd)
	}

	pollErr := m.sendPoll(cmd)
	if pollErr == nil {
		return nil
	}
	if m.session != nil && m.session.IsConnected() {
		if err := m.sendPush(cmd); err == nil {
			return nil
		}
	}
	return pollErr
}

func (m *machine) sendPush(cmd transport.Command) error {
	if m.session == nil || !m.session.IsConnected() {
		metrics.CommandFailures.Inc()
		return apperrors.ErrNoTransport
	}
	if err := m.session.SendCommand(cmd); err != nil {
		metrics.CommandFailures.Inc()
		return err
	}
	metrics.CommandSends.WithLabelValues("push").Inc()
	// The device echoes the new value back on its own schedule; applying
	// it locally keeps the UI honest in the meantime.
	m.applyAndEmit(cmd.ApplyTo())
	return nil
}

func (m *machine) sendPoll(cmd transport.Command) error {
	if m.dev.Address == "" {
		return apperrors.ErrNoAddress
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.e.timing.RequestTimeout)
	defer cancel()
	if err := m.e.poller.SendCommand(ctx, m.dev.Address, cmd); err != nil {
		metrics.CommandFailures.Inc()
		return err
	}
	metrics.CommandSends.WithLabelValues("poll").Inc()
	return nil
}

func (m *machine) applyAndEmit(u telemetry.Update) {
	m.snap.Apply(u)
	m.conn.LastError = ""
	m.emit()
	metrics.ChargeCurrent.WithLabelValues(m.dev.Serial).Set(m.snap.ChargeCurrent)
	metrics.ChargePower.WithLabelValues(m.dev.Serial).Set(m.snap.ChargePower)
	metrics.DeviceStateID.WithLabelValues(m.dev.Serial).Set(float64(m.snap.State))
}

func (m *machine) emit() {
	upd := StatusUpdate{Snapshot: m.snap, Connectivity: m.conn}
	select {
	case m.e.updates <- upd:
	default:
		// Consumer is behind; the next update supersedes this one anyway.
	}
}

func (m *machine) setState(s State, lastErr string) {
	if m.state != s {
		m.e.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("state change")
	}
	m.state = s
	switch s {
	// The stale window still reports push: the probe is an internal
	// recovery check, not a transport change the consumer should see.
	case StatePushActive, StatePushStale:
		m.conn.ActiveTransport = TransportPush
	case StatePollActive:
		m.conn.ActiveTransport = TransportPoll
	default:
		m.conn.ActiveTransport = TransportNone
	}
	if lastErr != "" {
		m.conn.LastError = lastErr
	}
	metrics.ActiveTransport.Set(float64(m.conn.ActiveTransport))
}

func (m *machine) startPolling() {
	if m.pollTicker == nil {
		m.pollTicker = time.NewTicker(m.e.timing.PollInterval)
	}
}

func (m *machine) stopPolling() {
	if m.pollTicker != nil {
		m.pollTicker.Stop()
		m.pollTicker = nil
	}
}

func (m *machine) resetDataTimer() {
	m.stopDataTimer()
	m.dataTimer = time.NewTimer(m.e.timing.DataTimeout)
}

func (m *machine) stopDataTimer() {
	if m.dataTimer != nil {
		if !m.dataTimer.Stop() {
			select {
			case <-m.dataTimer.C:
			default:
			}
		}
		m.dataTimer = nil
	}
}
