// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	pollTimeout      = 5 * time.Second
	statusPath       = "/settings"
	maxStatusBody    = 1 << 20 // a status document is a few kB; cap reads defensively
	paramMode        = "mode"
	paramOverride    = "override_current"
)

// PollClient performs one-shot fetch/command requests against a device's
// local network address. It is also the probe used during discovery.
type PollClient struct {
	client *http.Client
}

// NewPollClient creates a poll client with the standard 5s request bound.
func NewPollClient() *PollClient {
	return &PollClient{client: &http.Client{Timeout: pollTimeout}}
}

// FetchSnapshot fetches and decodes the device's status document.
func (c *PollClient) FetchSnapshot(ctx context.Context, address string) (telemetry.Update, error) {
	start := time.Now()
	metrics.PollRequests.Inc()
	update, _, err := c.fetch(ctx, address)
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollErrors.Inc()
		return telemetry.Update{}, err
	}
	return update, nil
}

// SendCommand issues a command as a query-parameter POST with an empty
// body, the shape the device's local endpoint expects.
func (c *PollClient) SendCommand(ctx context.Context, address string, cmd Command) error {
	values := url.Values{}
	switch cmd.Kind {
	case CommandSetMode:
		values.Set(paramMode, strconv.Itoa(int(cmd.Mode)))
	case CommandSetOverride:
		values.Set(paramOverride, strconv.Itoa(telemetry.AmpsToDeciamps(cmd.OverrideAmps)))
	default:
		return fmt.Errorf("unsupported command kind %d", cmd.Kind)
	}

	reqURL := fmt.Sprintf("http://%s%s?%s", address, statusPath, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, http.NoBody)
	if err != nil {
		return err
	}

	metrics.PollRequests.Inc()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.PollErrors.Inc()
		return classify("command", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.PollErrors.Inc()
		return fmt.Errorf("poll command rejected: status %d", resp.StatusCode)
	}
	logger.Debug().Str("address", address).Str("command", cmd.String()).Msg("Poll command accepted")
	return nil
}

// Probe checks whether the address hosts a genuine controller and returns
// its serial. Discovery calls this with a shorter deadline than the
// regular fetch bound; the deadline is the caller's.
func (c *PollClient) Probe(ctx context.Context, address string, timeout time.Duration) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.DiscoveryProbes.Inc()
	_, serial, err := c.fetch(probeCtx, address)
	if err != nil {
		return "", apperrors.NewDiscoveryProbeError(address, err)
	}
	return serial, nil
}

func (c *PollClient) fetch(ctx context.Context, address string) (telemetry.Update, string, error) {
	reqURL := fmt.Sprintf("http://%s%s", address, statusPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return telemetry.Update{}, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return telemetry.Update{}, "", classify("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return telemetry.Update{}, "", fmt.Errorf("status fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return telemetry.Update{}, "", err
	}
	return telemetry.DecodeStatusDocument(body)
}

// classify wraps timeouts in the transport timeout type so the engine can
// distinguish a slow device from a refused connection in its logs.
func classify(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apperrors.NewTransportTimeoutError("poll", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTransportTimeoutError("poll", op, err)
	}
	return err
}
