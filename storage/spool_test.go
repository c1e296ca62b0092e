// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package storage

import (
	"testing"
	"time"

	"github.com/SmartEVSE/SmartEVSE-app/telemetry"
)

func TestDiskSpool_WriteAndList(t *testing.T) {
	spool, err := NewDiskSpool(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("NewDiskSpool() error = %v", err)
	}

	first := telemetry.Snapshot{ChargeCurrent: 10, State: telemetry.StateCharging}
	second := telemetry.Snapshot{ChargeCurrent: 13, State: telemetry.StateCharging}

	if err := spool.Write("852199", first, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := spool.Write("852199", second, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	records, err := spool.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}

	// Oldest first.
	if records[0].Snapshot.ChargeCurrent != 10 {
		t.Errorf("first record charge current = %v, want 10", records[0].Snapshot.ChargeCurrent)
	}
	if records[1].Snapshot.ChargeCurrent != 13 {
		t.Errorf("second record charge current = %v, want 13", records[1].Snapshot.ChargeCurrent)
	}
}

func TestDiskSpool_Delete(t *testing.T) {
	spool, err := NewDiskSpool(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("NewDiskSpool() error = %v", err)
	}

	if err := spool.Write("852199", telemetry.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	records, err := spool.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(records))
	}

	if err := spool.Delete(records[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	records, err = spool.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("List() returned %d records after delete, want 0", len(records))
	}
	if spool.Size() != 0 {
		t.Errorf("Size() = %d after delete, want 0", spool.Size())
	}
}

func TestDiskSpool_RejectsWhenFull(t *testing.T) {
	spool, err := NewDiskSpool(t.TempDir(), 1, 0)
	if err != nil {
		t.Fatalf("NewDiskSpool() error = %v", err)
	}

	if err := spool.Write("852199", telemetry.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	if err := spool.Write("852199", telemetry.Snapshot{}, time.Now()); err == nil {
		t.Error("Write() on a full spool should fail")
	}
}

func TestDiskSpool_CleanupOld(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewDiskSpool(dir, 0, time.Hour)
	if err != nil {
		t.Fatalf("NewDiskSpool() error = %v", err)
	}

	if err := spool.Write("852199", telemetry.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// A fresh record survives cleanup.
	if err := spool.CleanupOld(); err != nil {
		t.Fatalf("CleanupOld() error = %v", err)
	}
	records, err := spool.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List() returned %d records after cleanup, want 1", len(records))
	}
}

func TestDiskSpool_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewDiskSpool(dir, 0, 0)
	if err != nil {
		t.Fatalf("NewDiskSpool() error = %v", err)
	}
	if err := spool.Write("852199", telemetry.Snapshot{ChargeCurrent: 6}, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	reopened, err := NewDiskSpool(dir, 0, 0)
	if err != nil {
		t.Fatalf("NewDiskSpool() reopen error = %v", err)
	}
	if reopened.Size() == 0 {
		t.Error("reopened spool should report the existing file's size")
	}
	records, err := reopened.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].Snapshot.ChargeCurrent != 6 {
		t.Errorf("reopened spool records = %+v, want the original snapshot", records)
	}
}
