// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/SmartEVSE/SmartEVSE-app/app"
	"github.com/SmartEVSE/SmartEVSE-app/config"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	pairSerial := flag.String("pair", "", "Pair with the charger that has this serial number, then exit")
	pairPin := flag.String("pin", "", "Pairing PIN shown on the charger (used with -pair)")
	flag.Parse()

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	if *pairSerial != "" {
		if *pairPin == "" {
			logger.Fatal().Msg("-pair requires -pin")
		}
		if err := app.Pair(cfg, *pairSerial, *pairPin); err != nil {
			logger.Fatal().Err(err).Msg("Pairing failed")
		}
		return
	}

	logger.Info().Msg("Starting SmartEVSE companion app")
	logger.Info().
		Dur("poll_interval", cfg.Engine.PollInterval).
		Dur("data_timeout", cfg.Engine.DataTimeout).
		Str("broker", cfg.Broker.URL).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)
	application.Run()
}

// performHealthCheck verifies the configuration loads and, when telemetry
// recording is enabled, that InfluxDB is reachable. Returns an exit code.
func performHealthCheck(configPath string) int {
	logger.Initialize("error")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: cannot load config: %v\n", err)
		return 1
	}

	if cfg.InfluxDB.Enabled {
		sink, err := storage.NewInfluxSink(cfg.InfluxDB.URL, cfg.InfluxDB.Token,
			cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB unreachable: %v\n", err)
			return 1
		}
		sink.Close()
	}

	fmt.Println("Health check passed")
	return 0
}

// performConfigValidation validates the configuration file and returns
// an exit code.
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Broker URL: %s\n", cfg.Broker.URL)
	fmt.Printf("  Pairing Endpoint: %s\n", cfg.Pairing.Endpoint)
	fmt.Printf("  Poll Interval: %s\n", cfg.Engine.PollInterval)
	fmt.Printf("  Data Timeout: %s\n", cfg.Engine.DataTimeout)
	fmt.Printf("  Registry Path: %s\n", cfg.Registry.Path)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	if cfg.Device.Serial != "" {
		fmt.Printf("  Preselected Charger: SmartEVSE-%s\n", cfg.Device.Serial)
	}
	if cfg.InfluxDB.Enabled {
		fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
		fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	} else {
		fmt.Println("  InfluxDB Recording: Disabled")
	}
	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Println("  Slack Notifications: Enabled")
	} else {
		fmt.Println("  Slack Notifications: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
