// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package storage records charging telemetry to InfluxDB, spooling to
// disk whenever the database is unreachable.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const measurementName = "evse_telemetry"

// InfluxSink writes charging snapshots to InfluxDB. Writes are blocking
// so the recorder's circuit breaker sees failures immediately.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxSink connects to InfluxDB and verifies its health before
// returning a usable sink.
func NewInfluxSink(url, token, org, bucket string) (*InfluxSink, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		org:      org,
		bucket:   bucket,
	}, nil
}

// WriteSnapshot writes one device snapshot as a point.
func (s *InfluxSink) WriteSnapshot(ctx context.Context, serial string, snap telemetry.Snapshot, at time.Time) error {
	if serial == "" {
		return fmt.Errorf("serial cannot be empty")
	}
	if at.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}

	p := influxdb2.NewPoint(
		measurementName,
		map[string]string{
			"serial": serial,
			"mode":   snap.Mode.String(),
			"state":  snap.State.String(),
		},
		map[string]interface{}{
			"charge_current":   snap.ChargeCurrent,
			"override_current": snap.OverrideCurrent,
			"charge_power":     snap.ChargePower,
			"energy_charged":   snap.EnergyCharged,
			"energy_imported":  snap.EnergyImported,
			"mains_l1":         snap.MainsCurrent[0],
			"mains_l2":         snap.MainsCurrent[1],
			"mains_l3":         snap.MainsCurrent[2],
			"state_id":         int(snap.State),
			"solar_stop_timer": snap.SolarStopTimer,
		},
		at,
	)

	return s.writeAPI.WritePoint(ctx, p)
}

// Health reports whether InfluxDB currently answers its health endpoint.
func (s *InfluxSink) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB not healthy: %s", health.Status)
	}
	return nil
}

// Close closes the InfluxDB client.
func (s *InfluxSink) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.client.Close()
}
