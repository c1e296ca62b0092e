// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

const (
	defaultSpoolDir = "/var/cache/smartevse-app"
	spoolFilePrefix = "spool_"
	spoolFileExt    = ".json"
	defaultMaxSize  = 100 * 1024 * 1024 // 100 MB
	defaultMaxAge   = 24 * time.Hour
)

// DiskSpool holds snapshots that could not be written to InfluxDB, one
// JSON file per record, until the recorder replays them.
type DiskSpool struct {
	dir         string
	maxSize     int64
	maxAge      time.Duration
	mu          sync.Mutex
	currentSize int64
}

// SpooledSnapshot is one snapshot waiting for replay.
type SpooledSnapshot struct {
	Serial    string             `json:"serial"`
	Snapshot  telemetry.Snapshot `json:"snapshot"`
	TakenAt   time.Time          `json:"taken_at"`
	SpooledAt time.Time          `json:"spooled_at"`
	ID        string             `json:"id"`
}

// NewDiskSpool creates the spool directory and prunes anything stale
// left over from a previous run.
func NewDiskSpool(dir string, maxSize int64, maxAge time.Duration) (*DiskSpool, error) {
	if dir == "" {
		dir = defaultSpoolDir
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	sp := &DiskSpool{dir: dir, maxSize: maxSize, maxAge: maxAge}

	if err := sp.updateCurrentSize(); err != nil {
		logger.Warn().Err(err).Msg("Failed to calculate initial spool size")
	}
	if err := sp.CleanupOld(); err != nil {
		logger.Warn().Err(err).Msg("Failed to cleanup old spool files")
	}

	return sp, nil
}

// Write spools one snapshot. It fails when the spool has hit its size
// cap rather than growing without bound.
func (sp *DiskSpool) Write(serial string, snap telemetry.Snapshot, at time.Time) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.currentSize >= sp.maxSize {
		return fmt.Errorf("spool is full (%d >= %d bytes)", sp.currentSize, sp.maxSize)
	}

	rec := &SpooledSnapshot{
		Serial:    serial,
		Snapshot:  snap,
		TakenAt:   at,
		SpooledAt: time.Now(),
		ID:        fmt.Sprintf("%d_%s", time.Now().UnixNano(), serial),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(sp.filename(rec.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}

	sp.currentSize += int64(len(data))
	logger.Debug().
		Str("serial", serial).
		Str("id", rec.ID).
		Int64("spool_size", sp.currentSize).
		Msg("Spooled snapshot")

	return nil
}

// List returns all spooled snapshots, oldest first.
func (sp *DiskSpool) List() ([]*SpooledSnapshot, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(sp.dir, spoolFilePrefix+"*"+spoolFileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list spool files: %w", err)
	}

	var records []*SpooledSnapshot
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to read spool file")
			continue
		}
		var rec SpooledSnapshot
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to unmarshal spool file")
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SpooledAt.Before(records[j].SpooledAt)
	})

	return records, nil
}

// Delete removes one replayed record.
func (sp *DiskSpool) Delete(id string) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	name := sp.filename(id)
	info, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("failed to stat spool file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to delete spool file: %w", err)
	}

	sp.currentSize -= info.Size()
	return nil
}

// CleanupOld removes spool files older than the configured max age.
func (sp *DiskSpool) CleanupOld() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(sp.dir, spoolFilePrefix+"*"+spoolFileExt))
	if err != nil {
		return fmt.Errorf("failed to list spool files: %w", err)
	}

	cutoff := time.Now().Add(-sp.maxAge)
	deleted := 0

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var rec SpooledSnapshot
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.SpooledAt.Before(cutoff) {
			if err := os.Remove(file); err != nil {
				logger.Warn().Err(err).Str("file", file).Msg("Failed to delete old spool file")
				continue
			}
			deleted++
			sp.currentSize -= int64(len(data))
		}
	}

	if deleted > 0 {
		logger.Info().Int("count", deleted).Msg("Cleaned up old spool files")
	}

	return nil
}

// Size returns the current spool size in bytes.
func (sp *DiskSpool) Size() int64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.currentSize
}

// MaxSize returns the configured size cap.
func (sp *DiskSpool) MaxSize() int64 {
	return sp.maxSize
}

func (sp *DiskSpool) updateCurrentSize() error {
	files, err := filepath.Glob(filepath.Join(sp.dir, spoolFilePrefix+"*"+spoolFileExt))
	if err != nil {
		return fmt.Errorf("failed to list spool files: %w", err)
	}

	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		total += info.Size()
	}

	sp.currentSize = total
	return nil
}

func (sp *DiskSpool) filename(id string) string {
	return filepath.Join(sp.dir, spoolFilePrefix+id+spoolFileExt)
}
