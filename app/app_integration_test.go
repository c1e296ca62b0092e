// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

//go:build integration
// +build integration

package app_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/SmartEVSE/SmartEVSE-app/app"
	"github.com/SmartEVSE/SmartEVSE-app/config"
)

type AppIntegrationTestSuite struct {
	suite.Suite
	influxDBURL string
	terminate   func()
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()
	container, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("testorg", "testbucket", "testuser", "testpassword"),
		influxdb.WithV2AdminToken("testtoken"),
	)
	s.Require().NoError(err)
	s.terminate = func() {
		_ = container.Terminate(context.Background())
	}

	url, err := container.ConnectionUrl(ctx)
	s.Require().NoError(err)
	s.influxDBURL = url
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	if s.terminate != nil {
		s.terminate()
	}
}

func (s *AppIntegrationTestSuite) TestAppLifecycle() {
	tempDir := s.T().TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := fmt.Sprintf(`
device:
  serial: "852199"
  address: "127.0.0.1"
engine:
  poll_interval: 1s
  data_timeout: 5s
registry:
  path: %q
influxdb:
  enabled: true
  url: %s
  token: testtoken
  organization: testorg
  bucket: testbucket
  spool_dir: %q
`, filepath.Join(tempDir, "registry.db"), s.influxDBURL, filepath.Join(tempDir, "spool"))

	s.Require().NoError(os.WriteFile(configPath, []byte(configContent), 0600))

	cfg, err := config.Load(configPath)
	s.Require().NoError(err)

	application, err := app.New(cfg, "9091", configPath)
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		application.Run()
		close(done)
	}()

	// Wait for the app to start polling the (unreachable) charger.
	time.Sleep(2 * time.Second)

	p, err := os.FindProcess(os.Getpid())
	s.Require().NoError(err)
	s.Require().NoError(p.Signal(os.Interrupt))

	select {
	case <-done:
		// App shut down gracefully
	case <-time.After(10 * time.Second):
		s.T().Fatal("App did not shut down gracefully")
	}
}
