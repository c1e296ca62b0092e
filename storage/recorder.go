// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	healthCheckInterval = 30 * time.Second
	breakerTimeout      = 30 * time.Second
	breakerMaxFailures  = 3
	spoolWarnRatio      = 0.8
)

// Sink is where the recorder ultimately puts snapshots.
type Sink interface {
	WriteSnapshot(ctx context.Context, serial string, snap telemetry.Snapshot, at time.Time) error
	Health(ctx context.Context) error
	Close()
}

// Notifier defines the interface for sending storage alerts.
type Notifier interface {
	SendStorageFailure(ctx context.Context, err error) error
	SendStorageRecovery(ctx context.Context) error
	SendSpoolWarning(ctx context.Context, spoolSize, maxSize int64) error
	IsEnabled() bool
}

// Recorder writes snapshots through a circuit breaker, diverting to the
// disk spool while the sink is down and replaying once it recovers.
type Recorder struct {
	sink     Sink
	spool    *DiskSpool
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	spoolActive bool
}

// NewRecorder builds a recorder and starts its recovery loop.
func NewRecorder(sink Sink, spool *DiskSpool, notifier Notifier) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		sink:     sink,
		spool:    spool,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influxdb",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	r.wg.Add(1)
	go r.monitorAndReplay()

	return r
}

// Record writes one snapshot, spooling it when the sink is unavailable
// or the breaker is open.
func (r *Recorder) Record(ctx context.Context, serial string, snap telemetry.Snapshot) error {
	at := time.Now()

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.sink.WriteSnapshot(ctx, serial, snap, at)
	})
	if err == nil {
		metrics.RecorderWrites.Inc()
		return nil
	}

	metrics.RecorderWriteErrors.Inc()
	logger.Warn().Err(err).Str("serial", serial).Msg("InfluxDB write failed, spooling locally")
	r.activateSpool(err)

	if spoolErr := r.spool.Write(serial, snap, at); spoolErr != nil {
		return fmt.Errorf("sink write failed and spool write failed: sink=%w, spool=%w", err, spoolErr)
	}
	metrics.RecorderSpooled.Inc()

	size, maxSize := r.spool.Size(), r.spool.MaxSize()
	if float64(size)/float64(maxSize) > spoolWarnRatio && r.notifier != nil && r.notifier.IsEnabled() {
		alertCtx, alertCancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer alertCancel()
		if notifyErr := r.notifier.SendSpoolWarning(alertCtx, size, maxSize); notifyErr != nil {
			logger.Error().Err(notifyErr).Msg("Failed to send spool warning alert")
		}
	}

	return nil
}

// Health reports sink health.
func (r *Recorder) Health(ctx context.Context) error {
	return r.sink.Health(ctx)
}

// Close stops the recovery loop and closes the sink.
func (r *Recorder) Close() {
	logger.Info().Msg("Closing telemetry recorder")
	r.cancel()
	r.wg.Wait()
	r.sink.Close()
}

// activateSpool flips the spool flag and alerts once per outage.
func (r *Recorder) activateSpool(cause error) {
	r.mu.Lock()
	if r.spoolActive {
		r.mu.Unlock()
		return
	}
	r.spoolActive = true
	r.mu.Unlock()

	if r.notifier != nil && r.notifier.IsEnabled() {
		alertCtx, alertCancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer alertCancel()
		if err := r.notifier.SendStorageFailure(alertCtx, cause); err != nil {
			logger.Error().Err(err).Msg("Failed to send storage failure alert")
		}
	}
}

// monitorAndReplay waits out the outage, then replays the spool in
// order and announces recovery.
func (r *Recorder) monitorAndReplay() {
	defer r.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			active := r.spoolActive
			r.mu.RUnlock()
			if !active {
				continue
			}

			healthCtx, healthCancel := context.WithTimeout(r.ctx, 5*time.Second)
			err := r.sink.Health(healthCtx)
			healthCancel()
			if err != nil {
				logger.Debug().Err(err).Msg("InfluxDB still unhealthy, keeping spool active")
				continue
			}

			logger.Info().Msg("InfluxDB is healthy, replaying spooled snapshots")
			if err := r.replaySpooled(); err != nil {
				logger.Error().Err(err).Msg("Failed to replay spooled snapshots")
				continue
			}

			r.mu.Lock()
			r.spoolActive = false
			r.mu.Unlock()

			if r.notifier != nil && r.notifier.IsEnabled() {
				alertCtx, alertCancel := context.WithTimeout(r.ctx, 5*time.Second)
				if notifyErr := r.notifier.SendStorageRecovery(alertCtx); notifyErr != nil {
					logger.Error().Err(notifyErr).Msg("Failed to send storage recovery alert")
				}
				alertCancel()
			}
		}
	}
}

func (r *Recorder) replaySpooled() error {
	records, err := r.spool.List()
	if err != nil {
		return fmt.Errorf("failed to list spooled snapshots: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	logger.Info().Int("count", len(records)).Msg("Replaying spooled snapshots")

	success, failed := 0, 0
	for _, rec := range records {
		if err := r.sink.WriteSnapshot(r.ctx, rec.Serial, rec.Snapshot, rec.TakenAt); err != nil {
			logger.Warn().Err(err).Str("serial", rec.Serial).Str("id", rec.ID).
				Msg("Failed to replay spooled snapshot")
			failed++
			continue
		}
		if err := r.spool.Delete(rec.ID); err != nil {
			logger.Warn().Err(err).Str("id", rec.ID).Msg("Failed to delete replayed snapshot")
		}
		success++
		metrics.RecorderWrites.Inc()
	}

	logger.Info().Int("success", success).Int("failed", failed).Int("total", len(records)).
		Msg("Finished replaying spooled snapshots")

	if failed > 0 {
		return fmt.Errorf("%d of %d spooled snapshots failed to replay", failed, len(records))
	}
	return nil
}
