// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package config provides configuration management for the SmartEVSE app.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Broker        BrokerConfig        `yaml:"broker"`
	Pairing       PairingConfig       `yaml:"pairing"`
	Engine        EngineConfig        `yaml:"engine"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Registry      RegistryConfig      `yaml:"registry"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DeviceConfig preselects a charger so the app connects without a scan.
type DeviceConfig struct {
	Serial  string `yaml:"serial"`
	Address string `yaml:"address"`
}

// BrokerConfig holds MQTT broker settings for the push transport.
type BrokerConfig struct {
	URL string `yaml:"url" validate:"required,uri"`
}

// PairingConfig holds the pairing service endpoint.
type PairingConfig struct {
	Endpoint string `yaml:"endpoint" validate:"required,uri"`
}

// EngineConfig holds transport failover timing.
type EngineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DataTimeout  time.Duration `yaml:"data_timeout"`
}

// UnmarshalYAML accepts "5s" style duration strings, which yaml.v3 does
// not parse into time.Duration on its own.
func (e *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PollInterval string `yaml:"poll_interval"`
		DataTimeout  string `yaml:"data_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("engine.poll_interval: %w", err)
		}
		e.PollInterval = d
	}
	if raw.DataTimeout != "" {
		d, err := time.ParseDuration(raw.DataTimeout)
		if err != nil {
			return fmt.Errorf("engine.data_timeout: %w", err)
		}
		e.DataTimeout = d
	}
	return nil
}

// DiscoveryConfig holds mDNS discovery settings.
type DiscoveryConfig struct {
	ServiceType string `yaml:"service_type"`
	Domain      string `yaml:"domain"`
}

// RegistryConfig holds the on-disk device registry location.
type RegistryConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// InfluxDBConfig holds InfluxDB connection settings. Recording is
// optional; when disabled the rest of the section is ignored.
type InfluxDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	SpoolDir     string `yaml:"spool_dir"`
}

// NotificationsConfig holds alerting settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

var validate = validator.New()

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to
// the configuration.
func (c *Config) applyEnvironmentOverrides() {
	if serial := os.Getenv("SMARTEVSE_SERIAL"); serial != "" {
		c.Device.Serial = serial
	}
	if addr := os.Getenv("SMARTEVSE_ADDRESS"); addr != "" {
		c.Device.Address = addr
	}
	if broker := os.Getenv("SMARTEVSE_BROKER_URL"); broker != "" {
		c.Broker.URL = broker
	}
	if endpoint := os.Getenv("SMARTEVSE_PAIRING_ENDPOINT"); endpoint != "" {
		c.Pairing.Endpoint = endpoint
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.InfluxDB.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.InfluxDB.Bucket = bucket
	}
	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		c.Notifications.SlackWebhookURL = webhook
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("SMARTEVSE_POLL_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Engine.PollInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SMARTEVSE_POLL_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
	if timeout := os.Getenv("SMARTEVSE_DATA_TIMEOUT"); timeout != "" {
		duration, parseErr := time.ParseDuration(timeout)
		if parseErr == nil {
			c.Engine.DataTimeout = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SMARTEVSE_DATA_TIMEOUT '%s': %v\n", timeout, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided.
func (c *Config) setDefaults() {
	if c.Broker.URL == "" {
		c.Broker.URL = "tls://mqtt.smartevse.network:8883"
	}
	if c.Pairing.Endpoint == "" {
		c.Pairing.Endpoint = "https://pairing.smartevse.network/v1/pair"
	}
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = 5 * time.Second
	}
	if c.Engine.DataTimeout == 0 {
		c.Engine.DataTimeout = 30 * time.Second
	}
	if c.Discovery.ServiceType == "" {
		c.Discovery.ServiceType = "_http._tcp"
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = "local."
	}
	if c.Registry.Path == "" {
		c.Registry.Path = "/var/lib/smartevse-app/registry.db"
	}
	if c.InfluxDB.SpoolDir == "" {
		c.InfluxDB.SpoolDir = "/var/cache/smartevse-app"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%s failed %q validation", strings.ToLower(first.Namespace()), first.Tag())
		}
		return err
	}

	if err := c.validateEngine(); err != nil {
		return err
	}
	if c.InfluxDB.Enabled {
		if err := c.validateInfluxDB(); err != nil {
			return err
		}
	}
	return nil
}

// validateEngine checks the failover timing relations the struct tags
// cannot express.
func (c *Config) validateEngine() error {
	if c.Engine.PollInterval < time.Second {
		return fmt.Errorf("engine.poll_interval must be at least 1 second")
	}
	if c.Engine.PollInterval > time.Hour {
		return fmt.Errorf("engine.poll_interval must not exceed 1 hour")
	}
	if c.Engine.DataTimeout < c.Engine.PollInterval {
		return fmt.Errorf("engine.data_timeout must be at least engine.poll_interval")
	}
	if c.Engine.DataTimeout > 24*time.Hour {
		return fmt.Errorf("engine.data_timeout must not exceed 24 hours")
	}
	return nil
}

// validateInfluxDB validates the InfluxDB configuration.
func (c *Config) validateInfluxDB() error {
	if c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required when influxdb.enabled is true")
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", parseErr)
	}
	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.Token == "" {
		return fmt.Errorf("influxdb.token is required when influxdb.enabled is true")
	}
	if len(c.InfluxDB.Token) < 8 {
		return fmt.Errorf("influxdb.token must be at least 8 characters long")
	}
	if c.InfluxDB.Organization == "" {
		return fmt.Errorf("influxdb.organization is required when influxdb.enabled is true")
	}
	if c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.bucket is required when influxdb.enabled is true")
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections.
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext and is a security risk", parsedURL.Scheme)
	}

	return nil
}
