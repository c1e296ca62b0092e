// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package pairing exchanges a short device PIN for a long-lived broker
// credential with the remote pairing authority.
//
// The returned credential is scoped to the installation identity, not to
// the device: propagating it to other already-paired device records is the
// registry's job, not this client's.
package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	// DefaultEndpoint is the fixed pairing authority.
	DefaultEndpoint = "https://pairing.smartevse.network/v1/pair"

	pairTimeout = 10 * time.Second
	maxPairBody = 64 * 1024
)

type pairRequest struct {
	AppUUID      string `json:"app_uuid"`
	DeviceSerial string `json:"device_serial"`
	PairingPin   string `json:"pairing_pin"`
}

type pairResponse struct {
	MqttToken string `json:"mqtt_token"`
}

// Client is the stateless pairing client.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a pairing client. An empty endpoint selects the
// default authority.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: pairTimeout},
	}
}

// Pair exchanges the PIN shown on the device for a broker credential.
// Success requires a 2xx status and a non-empty mqtt_token in the response
// body; anything else is a PairError carrying status and body for display.
func (c *Client) Pair(ctx context.Context, identity, serial, pin string) (string, error) {
	body, err := json.Marshal(pairRequest{
		AppUUID:      identity,
		DeviceSerial: telemetry.DeviceName(serial),
		PairingPin:   pin,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pairing request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPairBody))
	if err != nil {
		return "", fmt.Errorf("pairing response read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperrors.NewPairError(resp.StatusCode, string(respBody))
	}

	var pr pairResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", apperrors.NewPairError(resp.StatusCode, string(respBody))
	}
	if pr.MqttToken == "" {
		return "", apperrors.NewPairError(resp.StatusCode, "response carried no credential")
	}

	logger.Info().Str("serial", serial).Msg("Pairing succeeded")
	return pr.MqttToken, nil
}
