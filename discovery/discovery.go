// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package discovery locates SmartEVSE controllers on the local network.
//
// Discovery is two-phase, best-effort and time-boxed:
//
//  1. Announcement listening: browse mDNS/DNS-SD for the device's HTTP
//     service announcements for a fixed window, filter by the required
//     instance-name prefix and deduplicate by address. An announcement's
//     advertised name is never trusted as the serial; every candidate is
//     confirmed with an identity probe against its /settings endpoint.
//  2. Subnet probing: only when phase 1 confirms nothing, every host
//     address of the local /24 is probed in bounded concurrent batches.
//
// Confirmed devices are deduplicated by serial and capped. Individual
// probe failures are silent; only the aggregate result is reported.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/pkg/metrics"
	"github.com/SmartEVSE/SmartEVSE-app/registry"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	defaultServiceType = "_http._tcp"
	defaultDomain      = "local."

	listenWindow   = 5 * time.Second
	candidateCap   = 16
	confirmTimeout = 3 * time.Second

	subnetHosts  = 254
	batchSize    = 50
	probeTimeout = 2 * time.Second

	// MaxDevices bounds the number of confirmed devices a scan reports.
	MaxDevices = 8
)

// Prober confirms that an address hosts a genuine controller and returns
// its canonical serial.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) (string, error)
}

// Progress reports subnet scan advancement to the caller. A fresh scan
// always starts the count at zero.
type Progress struct {
	Scanned int
	Total   int
}

// Result is one confirmed device.
type Result struct {
	Serial  string
	Address string
	Name    string // mDNS instance name when phase 1 found it
}

// Scanner runs the two-phase discovery. A registry may be attached so
// re-observed serials get their address refreshed; it is optional.
type Scanner struct {
	prober      Prober
	reg         registry.Registry
	serviceType string
	domain      string
}

// NewScanner creates a scanner browsing the default mDNS service. reg may
// be nil.
func NewScanner(prober Prober, reg registry.Registry) *Scanner {
	return NewScannerWithService(prober, reg, defaultServiceType, defaultDomain)
}

// NewScannerWithService creates a scanner browsing a specific mDNS service
// type and domain. Empty values fall back to the defaults.
func NewScannerWithService(prober Prober, reg registry.Registry, serviceType, domain string) *Scanner {
	if serviceType == "" {
		serviceType = defaultServiceType
	}
	if domain == "" {
		domain = defaultDomain
	}
	return &Scanner{
		prober:      prober,
		reg:         reg,
		serviceType: serviceType,
		domain:      domain,
	}
}

// Scan runs both phases and returns the confirmed devices. onProgress, if
// non-nil, receives subnet scan progress; it is never called by phase 1.
func (s *Scanner) Scan(ctx context.Context, onProgress func(Progress)) ([]Result, error) {
	start := time.Now()
	defer func() {
		metrics.DiscoveryDuration.Observe(time.Since(start).Seconds())
	}()

	results, err := s.listenPhase(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Announcement listening failed, falling back to subnet probe")
	}
	if len(results) == 0 {
		results, err = s.subnetPhase(ctx, onProgress)
		if err != nil {
			return nil, err
		}
	}

	for _, r := range results {
		s.recordAddress(r)
	}
	metrics.DevicesDiscovered.Set(float64(len(results)))
	logger.Info().Int("count", len(results)).Msg("Discovery complete")
	return results, nil
}

// listenPhase browses mDNS announcements and confirms candidates by probe.
func (s *Scanner) listenPhase(ctx context.Context) ([]Result, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	// Buffered so a burst of announcements never blocks the resolver.
	entries := make(chan *zeroconf.ServiceEntry, 10)

	type candidate struct {
		address string
		name    string
	}
	var (
		mu         sync.Mutex
		candidates []candidate
		seen       = make(map[string]bool)
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			addr := entryAddress(entry)
			if addr == "" || !strings.HasPrefix(entry.Instance, telemetry.ProductPrefix) {
				continue
			}
			mu.Lock()
			if !seen[addr] && len(candidates) < candidateCap {
				seen[addr] = true
				candidates = append(candidates, candidate{address: addr, name: entry.Instance})
			}
			mu.Unlock()
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, listenWindow)
	defer cancel()

	if err := resolver.Browse(browseCtx, s.serviceType, s.domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-browseCtx.Done()
	wg.Wait()

	var (
		results []Result
		bySerial = make(map[string]bool)
	)
	for _, c := range candidates {
		serial, err := s.prober.Probe(ctx, c.address, confirmTimeout)
		if err != nil {
			logger.Debug().Err(err).Str("address", c.address).Msg("Announcement candidate rejected")
			continue
		}
		if bySerial[serial] || len(results) >= MaxDevices {
			continue
		}
		bySerial[serial] = true
		results = append(results, Result{Serial: serial, Address: c.address, Name: c.name})
		logger.Info().Str("serial", serial).Str("address", c.address).Msg("Confirmed announced device")
	}
	return results, nil
}

// subnetPhase probes every host of the local /24 in concurrent batches.
func (s *Scanner) subnetPhase(ctx context.Context, onProgress func(Progress)) ([]Result, error) {
	base, err := localSubnetBase()
	if err != nil {
		return nil, err
	}
	return s.probeSubnet(ctx, base, onProgress)
}

// probeSubnet issues one probe per host address 1..254, batchSize at a
// time, joining each batch before the next so peak socket use stays
// bounded.
func (s *Scanner) probeSubnet(ctx context.Context, base string, onProgress func(Progress)) ([]Result, error) {
	var (
		mu       sync.Mutex
		results  []Result
		bySerial = make(map[string]bool)
		scanned  int
	)

	for first := 1; first <= subnetHosts; first += batchSize {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		last := first + batchSize - 1
		if last > subnetHosts {
			last = subnetHosts
		}

		var wg sync.WaitGroup
		for host := first; host <= last; host++ {
			addr := fmt.Sprintf("%s.%d", base, host)
			wg.Add(1)
			go func() {
				defer wg.Done()
				serial, err := s.prober.Probe(ctx, addr, probeTimeout)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if bySerial[serial] || len(results) >= MaxDevices {
					return
				}
				bySerial[serial] = true
				results = append(results, Result{Serial: serial, Address: addr})
				logger.Info().Str("serial", serial).Str("address", addr).Msg("Confirmed probed device")
			}()
		}
		wg.Wait()

		scanned += last - first + 1
		if onProgress != nil {
			onProgress(Progress{Scanned: scanned, Total: subnetHosts})
		}
	}

	return results, nil
}

// recordAddress refreshes the registry record for a rediscovered serial.
func (s *Scanner) recordAddress(r Result) {
	if s.reg == nil {
		return
	}
	dev := registry.Device{Serial: r.Serial, Address: r.Address, DisplayName: r.Name}
	if err := s.reg.Put(dev); err != nil {
		logger.Warn().Err(err).Str("serial", r.Serial).Msg("Failed to record discovered device")
	}
}

// entryAddress picks the announce address, preferring IPv4, and carries a
// non-default port along so the poll adapter can reach the endpoint.
func entryAddress(entry *zeroconf.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return ""
	}
	if entry.Port != 0 && entry.Port != 80 {
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", entry.Port))
	}
	return ip.String()
}

// localSubnetBase derives the first three octets of the host's /24 from
// its outbound interface address. The UDP dial sends no packets; it only
// resolves the local address the kernel would route from.
func localSubnetBase() (string, error) {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return "", fmt.Errorf("failed to determine local address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return "", fmt.Errorf("no local IPv4 address")
	}
	ip := addr.IP.To4()
	return fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]), nil
}
