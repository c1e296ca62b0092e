// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package app wires the transport engine, discovery, registry, storage
// and alerting together into the long-running companion process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/SmartEVSE/SmartEVSE-app/config"
	"github.com/SmartEVSE/SmartEVSE-app/discovery"
	"github.com/SmartEVSE/SmartEVSE-app/engine"
	"github.com/SmartEVSE/SmartEVSE-app/pairing"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/interfaces"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/notifications"
	"github.com/SmartEVSE/SmartEVSE-app/registry"
	"github.com/SmartEVSE/SmartEVSE-app/storage"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
	"github.com/SmartEVSE/SmartEVSE-app/transport"
)

const (
	signalChannelSize     = 1
	alertContextTimeout   = 5 * time.Second
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	requestTimeout        = 5 * time.Second
)

// App represents the main application.
type App struct {
	cfg         *config.Config
	metricsPort string

	server   *http.Server
	engine   *engine.Engine
	scanner  interfaces.DeviceScanner
	registry registry.Registry
	regClose func() error
	recorder interfaces.TelemetryRecorder
	notifier *notifications.SlackNotifier

	watcher    *config.Watcher
	configChan chan *config.Config

	mu       sync.Mutex
	selected registry.Device

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// pushOpener adapts the concrete MQTT adapter to the engine's opener
// interface.
type pushOpener struct {
	adapter *transport.PushAdapter
}

func (o pushOpener) Open(ctx context.Context, serial, identity, credential string) (engine.Session, error) {
	s, err := o.adapter.Open(ctx, serial, identity, credential)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// New creates a new application instance.
func New(cfg *config.Config, metricsPort string, configPath string) (*App, error) {
	a := &App{
		cfg:         cfg,
		metricsPort: metricsPort,
		configChan:  make(chan *config.Config, 1),
	}

	a.notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	reg, err := registry.OpenBolt(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device registry: %w", err)
	}
	a.registry = reg
	a.regClose = reg.Close

	identity, err := reg.Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to load app identity: %w", err)
	}

	if cfg.InfluxDB.Enabled {
		a.recorder, err = buildRecorder(cfg, a.notifier)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info().Msg("InfluxDB recording disabled")
	}

	poll := transport.NewPollClient()
	push := transport.NewPushAdapter(transport.PushConfig{BrokerURL: cfg.Broker.URL})
	a.engine = engine.New(pushOpener{adapter: push}, poll, identity, engine.Timing{
		PollInterval:   cfg.Engine.PollInterval,
		DataTimeout:    cfg.Engine.DataTimeout,
		RequestTimeout: requestTimeout,
	})
	a.scanner = discovery.NewScannerWithService(poll, reg, cfg.Discovery.ServiceType, cfg.Discovery.Domain)

	a.watcher = config.NewWatcher(configPath, a.configChan)
	a.server = a.buildServer()

	return a, nil
}

func buildRecorder(cfg *config.Config, notifier *notifications.SlackNotifier) (interfaces.TelemetryRecorder, error) {
	sink, err := storage.NewInfluxSink(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize InfluxDB: %w", err)
	}

	spool, err := storage.NewDiskSpool(cfg.InfluxDB.SpoolDir, 0, 0)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to initialize telemetry spool: %w", err)
	}

	return storage.NewRecorder(sink, spool, notifier), nil
}

func (a *App) buildServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.recorder)
	}))
	mux.HandleFunc("/api/mode", a.setModeHandler)
	mux.HandleFunc("/api/override", a.setOverrideHandler)

	return &http.Server{
		Addr:    "localhost:" + a.metricsPort,
		Handler: mux,
	}
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.engine.Start()
	a.startMetricsServer()
	a.setupSignalHandler()
	a.watcher.Start(ctx)
	a.startConfigListener()
	a.startUpdateConsumer(ctx)
	a.selectInitialDevice(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	a.performCleanup()
}

// startMetricsServer starts the HTTP server for metrics and health checks.
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals.
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.performGracefulShutdown()
	}()
}

// startConfigListener applies reloaded configuration.
func (a *App) startConfigListener() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config listener shutting down")
				return
			case cfg := <-a.configChan:
				a.cfg = cfg
				logger.Initialize(cfg.Logging.Level)
				logger.Info().Str("level", cfg.Logging.Level).Msg("Application configuration updated")

				if err := a.engine.SetTiming(engine.Timing{
					PollInterval:   cfg.Engine.PollInterval,
					DataTimeout:    cfg.Engine.DataTimeout,
					RequestTimeout: requestTimeout,
				}); err != nil {
					logger.Debug().Err(err).Msg("Engine timing update after reload")
				}

				// A reload is also the operator's "try again" signal:
				// nudge the engine so a disconnected or downgraded
				// machine retries immediately, and re-run discovery if
				// no charger was ever selected.
				if err := a.engine.Resume(); err != nil {
					logger.Debug().Err(err).Msg("Engine resume after reload")
				}
				if a.selectedSerial() == "" {
					a.selectInitialDevice(a.ctx)
				}
			}
		}
	}()
}

// startUpdateConsumer feeds engine output into storage, metrics and
// alerting.
func (a *App) startUpdateConsumer(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		lastTransport := engine.TransportNone
		everConnected := false
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Update consumer shutting down")
				return
			case upd := <-a.engine.Updates():
				serial := a.selectedSerial()
				if serial == "" {
					continue
				}

				current := upd.Connectivity.ActiveTransport
				if current == engine.TransportNone && lastTransport != engine.TransportNone && everConnected {
					a.alertUnreachable(serial)
				}
				if current != engine.TransportNone {
					if lastTransport == engine.TransportNone && everConnected {
						a.alertRecovered(serial, current.String())
					}
					everConnected = true
				}
				lastTransport = current

				if a.recorder != nil && current != engine.TransportNone {
					recordCtx, recordCancel := context.WithTimeout(ctx, requestTimeout)
					if err := a.recorder.Record(recordCtx, serial, upd.Snapshot); err != nil {
						logger.Error().Err(err).Str("serial", serial).Msg("Failed to record snapshot")
					}
					recordCancel()
				}
			}
		}
	}()
}

func (a *App) alertUnreachable(serial string) {
	if a.notifier == nil || !a.notifier.IsEnabled() {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := a.notifier.SendDeviceUnreachable(alertCtx, serial); err != nil {
		logger.Error().Err(err).Msg("Failed to send unreachable alert")
	}
}

func (a *App) alertRecovered(serial, transportName string) {
	if a.notifier == nil || !a.notifier.IsEnabled() {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := a.notifier.SendDeviceRecovered(alertCtx, serial, transportName); err != nil {
		logger.Error().Err(err).Msg("Failed to send recovery alert")
	}
}

// selectInitialDevice picks the charger to drive: the configured one,
// the first known one, or whatever a discovery scan turns up.
func (a *App) selectInitialDevice(ctx context.Context) {
	if serial := a.cfg.Device.Serial; serial != "" {
		dev, _, err := a.registry.Get(serial)
		if err != nil {
			logger.Error().Err(err).Str("serial", serial).Msg("Registry lookup failed")
		}
		dev.Serial = serial
		if a.cfg.Device.Address != "" {
			dev.Address = a.cfg.Device.Address
		}
		if err := a.registry.Put(dev); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist configured device")
		}
		a.selectDevice(dev)
		return
	}

	known, err := a.registry.List()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list known devices")
	}
	if len(known) > 0 {
		logger.Info().Int("count", len(known)).Msg("Using first known charger")
		a.selectDevice(known[0])
		return
	}

	logger.Info().Msg("No known chargers, starting discovery scan")
	results, err := a.scanner.Scan(ctx, func(p discovery.Progress) {
		logger.Debug().Int("scanned", p.Scanned).Int("total", p.Total).Msg("Subnet scan progress")
	})
	if err != nil {
		logger.Error().Err(err).Msg("Discovery failed")
		if a.notifier != nil && a.notifier.IsEnabled() {
			alertCtx, alertCancel := context.WithTimeout(context.Background(), alertContextTimeout)
			defer alertCancel()
			if notifyErr := a.notifier.SendDiscoveryFailure(alertCtx, err); notifyErr != nil {
				logger.Error().Err(notifyErr).Msg("Failed to send discovery failure alert")
			}
		}
		return
	}
	if len(results) == 0 {
		logger.Warn().Msg("No chargers found. Send SIGHUP after fixing the network to retry")
		return
	}

	first := results[0]
	logger.Info().Str("serial", first.Serial).Str("address", first.Address).Msg("Selecting discovered charger")
	a.selectDevice(registry.Device{
		Serial:      first.Serial,
		Address:     first.Address,
		DisplayName: first.Name,
	})
}

func (a *App) selectDevice(dev registry.Device) {
	a.mu.Lock()
	a.selected = dev
	a.mu.Unlock()
	if err := a.engine.Select(dev); err != nil {
		logger.Error().Err(err).Str("serial", dev.Serial).Msg("Failed to select device")
	}
}

func (a *App) selectedSerial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected.Serial
}

// DumpApplicationState dumps current application state to logs.
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	devices, err := a.registry.List()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list registry devices")
	}
	logger.Info().Int("known_devices", len(devices)).Msg("Registry state")
	for _, dev := range devices {
		logger.Info().
			Str("serial", dev.Serial).
			Str("address", dev.Address).
			Bool("credentialed", dev.HasCredential()).
			Msg("Known charger")
	}

	status := a.engine.Status()
	logger.Info().
		Str("selected", a.selectedSerial()).
		Str("transport", status.ActiveTransport.String()).
		Bool("push_session_live", status.PushSessionLive).
		Str("last_error", status.LastError).
		Msg("Engine state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs.
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown handles graceful shutdown of all components.
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.watcher.Stop()
	a.cancel()
}

// performCleanup tears down the engine and storage and waits for
// goroutines to finish.
func (a *App) performCleanup() {
	a.engine.Stop()

	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.regClose != nil {
		if err := a.regClose(); err != nil {
			logger.Error().Err(err).Msg("Failed to close device registry")
		}
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

// Pair obtains an MQTT credential for the given charger and stores it
// in the registry for every known device.
func Pair(cfg *config.Config, serial, pin string) error {
	reg, err := registry.OpenBolt(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to open device registry: %w", err)
	}
	defer func() { _ = reg.Close() }()

	identity, err := reg.Identity()
	if err != nil {
		return fmt.Errorf("failed to load app identity: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := pairing.NewClient(cfg.Pairing.Endpoint)
	token, err := client.Pair(ctx, identity, serial, pin)
	if err != nil {
		return err
	}

	if err := reg.Put(registry.Device{Serial: serial, Credential: token}); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	// One credential unlocks the broker for every charger this app knows.
	if err := reg.PropagateCredential(token); err != nil {
		return fmt.Errorf("failed to propagate credential: %w", err)
	}

	logger.Info().Str("serial", serial).Msg("Pairing complete, credential stored")
	return nil
}

// setModeHandler routes a charging mode change to the selected device.
func (a *App) setModeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mode, ok := telemetry.ParseMode(r.URL.Query().Get("mode"))
	if !ok {
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}
	if err := a.engine.SetMode(mode); err != nil {
		logger.Warn().Err(err).Str("mode", mode.String()).Msg("Mode change failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// setOverrideHandler routes a charge current override to the selected
// device. Amps are accepted as a decimal value.
func (a *App) setOverrideHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	amps, err := strconv.ParseFloat(r.URL.Query().Get("amps"), 64)
	if err != nil || amps < 0 {
		http.Error(w, "invalid amps value", http.StatusBadRequest)
		return
	}
	if err := a.engine.SetOverrideCurrent(amps); err != nil {
		logger.Warn().Err(err).Float64("amps", amps).Msg("Override change failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting.
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests.
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports ready unless telemetry recording is
// enabled and its backing store is down.
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, recorder interfaces.TelemetryRecorder) {
	if recorder == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := recorder.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: InfluxDB unhealthy")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: InfluxDB unhealthy")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
