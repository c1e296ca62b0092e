// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package notifications delivers operational alerts via Slack webhooks.
//
// Alerts cover the events an operator should hear about before they
// notice them in the data: InfluxDB going away (and coming back), the
// disk spool filling up, discovery failing, and a selected charger
// dropping off both transports. Notification failures are logged and
// never block the caller; a notifier built with an empty webhook URL
// is disabled and skips sending silently.
//
// Severity maps to Slack attachment colors: danger (red), warning
// (yellow), good (green).
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
)

// SlackNotifier sends notifications to Slack via webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
}

// SlackMessage is a Slack webhook message payload.
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a formatted Slack attachment.
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a Slack notifier. An empty webhook URL
// yields a disabled notifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		enabled: webhookURL != "",
	}
}

// IsEnabled returns whether Slack notifications are enabled.
func (s *SlackNotifier) IsEnabled() bool {
	return s.enabled
}

// SendMessage sends a simple text message to Slack.
func (s *SlackNotifier) SendMessage(ctx context.Context, message string) error {
	if !s.enabled {
		logger.Debug().Msg("Slack notifications disabled, skipping message")
		return nil
	}
	return s.sendPayload(ctx, SlackMessage{Text: message})
}

// SendAlert sends a formatted alert to Slack.
func (s *SlackNotifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.enabled {
		logger.Debug().Msg("Slack notifications disabled, skipping alert")
		return nil
	}

	payload := SlackMessage{
		Attachments: []Attachment{
			{
				Color:  severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: "SmartEVSE App",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return s.sendPayload(ctx, payload)
}

// SendStorageFailure sends an alert when InfluxDB writes start failing.
func (s *SlackNotifier) SendStorageFailure(ctx context.Context, err error) error {
	return s.SendAlert(ctx, "danger", "⚠️ InfluxDB Write Failure",
		fmt.Sprintf("Failed to write telemetry to InfluxDB: %v\nSnapshots will be spooled to disk until the database recovers.", err))
}

// SendStorageRecovery sends an alert when InfluxDB comes back.
func (s *SlackNotifier) SendStorageRecovery(ctx context.Context) error {
	return s.SendAlert(ctx, "good", "✅ InfluxDB Restored",
		"InfluxDB is reachable again. Spooled snapshots will be replayed.")
}

// SendSpoolWarning sends an alert when the disk spool is nearly full.
func (s *SlackNotifier) SendSpoolWarning(ctx context.Context, spoolSize, maxSize int64) error {
	percentage := float64(spoolSize) / float64(maxSize) * 100
	return s.SendAlert(ctx, "warning", "⚠️ Telemetry Spool Usage High",
		fmt.Sprintf("Spool size: %d bytes (%.1f%% of max %d bytes)\nInfluxDB may be unavailable for an extended period.",
			spoolSize, percentage, maxSize))
}

// SendDiscoveryFailure sends an alert when charger discovery fails.
func (s *SlackNotifier) SendDiscoveryFailure(ctx context.Context, err error) error {
	return s.SendAlert(ctx, "warning", "⚠️ Charger Discovery Failure",
		fmt.Sprintf("Failed to discover SmartEVSE chargers: %v", err))
}

// SendDeviceUnreachable sends an alert when the selected charger drops
// off both transports.
func (s *SlackNotifier) SendDeviceUnreachable(ctx context.Context, serial string) error {
	return s.SendAlert(ctx, "warning", "⚠️ Charger Unreachable",
		fmt.Sprintf("SmartEVSE-%s is not answering on MQTT or its local API. Retrying until it returns.", serial))
}

// SendDeviceRecovered sends an alert when a previously unreachable
// charger answers again.
func (s *SlackNotifier) SendDeviceRecovered(ctx context.Context, serial, transportName string) error {
	return s.SendAlert(ctx, "good", "✅ Charger Back Online",
		fmt.Sprintf("SmartEVSE-%s is reachable again via %s.", serial, transportName))
}

func (s *SlackNotifier) sendPayload(ctx context.Context, payload SlackMessage) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	if len(payload.Attachments) > 0 {
		logger.Debug().Str("title", payload.Attachments[0].Title).Msg("Slack notification sent")
	} else {
		logger.Debug().Str("text", payload.Text).Msg("Slack notification sent")
	}
	return nil
}

func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
