// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the SmartEVSE companion
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveTransport reports the transport currently carrying telemetry
	// (0 = none, 1 = poll, 2 = push)
	ActiveTransport = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evse_active_transport",
		Help: "Transport currently carrying telemetry (0=none, 1=poll, 2=push)",
	})

	// TransportFailovers counts transitions between transports
	TransportFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_transport_failovers_total",
		Help: "Total number of transport failover transitions",
	})

	// TelemetryUpdates counts decoded telemetry updates per transport
	TelemetryUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evse_telemetry_updates_total",
		Help: "Total number of decoded telemetry updates",
	}, []string{"transport"})

	// PushSessionOpens counts successful push session establishments
	PushSessionOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_push_session_opens_total",
		Help: "Total number of successful push session opens",
	})

	// PushSessionFailures counts failed push session open attempts
	PushSessionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_push_session_failures_total",
		Help: "Total number of failed push session open attempts",
	})

	// PollRequests counts poll transport requests
	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_poll_requests_total",
		Help: "Total number of poll transport requests",
	})

	// PollErrors counts failed poll transport requests
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_poll_errors_total",
		Help: "Total number of failed poll transport requests",
	})

	// PollDuration tracks how long a poll fetch takes
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evse_poll_duration_seconds",
		Help:    "Duration of poll fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CommandSends counts commands sent per transport
	CommandSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evse_command_sends_total",
		Help: "Total number of commands sent",
	}, []string{"transport"})

	// CommandFailures counts commands that failed on every usable transport
	CommandFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_command_failures_total",
		Help: "Total number of commands that failed on all transports",
	})

	// DevicesDiscovered tracks confirmed devices found by the last scan
	DevicesDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evse_devices_discovered",
		Help: "Number of confirmed devices found by the last discovery scan",
	})

	// DiscoveryProbes counts identity probes issued during discovery
	DiscoveryProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_discovery_probes_total",
		Help: "Total number of identity probes issued during discovery",
	})

	// DiscoveryDuration tracks how long a full discovery scan takes
	DiscoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evse_discovery_duration_seconds",
		Help:    "Duration of discovery scans in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RecorderWrites counts telemetry points written to the archive
	RecorderWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_recorder_writes_total",
		Help: "Total number of telemetry points written to the archive",
	})

	// RecorderWriteErrors counts failed archive writes
	RecorderWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_recorder_write_errors_total",
		Help: "Total number of failed archive writes",
	})

	// RecorderSpooled counts telemetry points diverted to the disk spool
	RecorderSpooled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evse_recorder_spooled_total",
		Help: "Total number of telemetry points diverted to the disk spool",
	})

	// ChargeCurrent tracks the last decoded charge current per device
	ChargeCurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evse_charge_current_amps",
		Help: "Last decoded charge current in amps",
	}, []string{"serial"})

	// ChargePower tracks the last decoded charge power per device
	ChargePower = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evse_charge_power_kw",
		Help: "Last decoded charge power in kW",
	}, []string{"serial"})

	// DeviceStateID tracks the last decoded lifecycle state id per device
	DeviceStateID = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evse_device_state",
		Help: "Last decoded lifecycle state id",
	}, []string{"serial"})
)
