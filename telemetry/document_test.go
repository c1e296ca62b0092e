// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package telemetry

import (
	"errors"
	"testing"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
)

const sampleStatusDocument = `{
	"version": "v3.6.10",
	"serialnr": "852199",
	"mode": 2,
	"evse": {
		"state": "Charging",
		"state_id": 2,
		"connected": true,
		"error": "None",
		"loadbl": 0,
		"nrofphases": 3,
		"solar_stop_timer": 600,
		"access": true
	},
	"settings": {
		"charge_current": 160,
		"current_min": 60,
		"current_max": 320,
		"override_current": 0,
		"mains_meter": "API"
	},
	"ev_meter": {
		"description": "Sensorbox",
		"import_active_power": 11040,
		"charged_wh": 7300
	},
	"phase_currents": {
		"L1": 159,
		"L2": 161,
		"L3": 160
	}
}`

func TestDecodeStatusDocument(t *testing.T) {
	u, serial, err := DecodeStatusDocument([]byte(sampleStatusDocument))
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}

	if serial != "852199" {
		t.Errorf("serial = %q, want 852199", serial)
	}

	var snap Snapshot
	snap.Apply(u)

	want := Snapshot{
		Version:        "v3.6.10",
		Access:         true,
		ChargeCurrent:  16.0,
		Mode:           ModeSolar,
		NrOfPhases:     3,
		State:          StateCharging,
		Error:          NoError,
		SolarStopTimer: 600,
		MainsCurrent:   [3]float64{15.9, 16.1, 16.0},
		ChargePower:    11.04,
		EnergyCharged:  7.3,
		MinCurrent:     6.0,
		MaxCurrent:     32.0,
	}
	if snap != want {
		t.Errorf("decoded snapshot = %+v, want %+v", snap, want)
	}
}

func TestDecodeStatusDocument_NotGenuine(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing evse section", `{"serialnr": "852199", "settings": {}}`},
		{"missing settings section", `{"serialnr": "852199", "evse": {}}`},
		{"missing serial", `{"evse": {}, "settings": {}}`},
		{"empty serial", `{"serialnr": "", "evse": {}, "settings": {}}`},
		{"empty object", `{}`},
		{"some other device", `{"name": "printer", "status": "idle"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeStatusDocument([]byte(tt.doc))
			if !errors.Is(err, apperrors.ErrNotGenuineDevice) {
				t.Errorf("DecodeStatusDocument() error = %v, want ErrNotGenuineDevice", err)
			}
		})
	}
}

func TestDecodeStatusDocument_MalformedJSON(t *testing.T) {
	_, _, err := DecodeStatusDocument([]byte(`{"serialnr": `))
	if err == nil {
		t.Fatal("DecodeStatusDocument() expected error for malformed JSON")
	}
	if !apperrors.IsDecodeError(err) {
		t.Errorf("DecodeStatusDocument() error = %v, want DecodeError", err)
	}
}

func TestDecodeStatusDocument_MissingOptionalSections(t *testing.T) {
	// Older firmware omits the meter and phase sections entirely.
	doc := []byte(`{
		"serialnr": "852199",
		"evse": {"state_id": 1},
		"settings": {"charge_current": 130}
	}`)

	u, serial, err := DecodeStatusDocument(doc)
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}
	if serial != "852199" {
		t.Errorf("serial = %q, want 852199", serial)
	}

	if u.ChargePower != nil || u.EnergyCharged != nil || u.MainsCurrentL1 != nil {
		t.Error("absent sections must produce absent fields, not zero values")
	}
	if u.ChargeCurrent == nil || *u.ChargeCurrent != 13.0 {
		t.Errorf("ChargeCurrent = %v, want 13.0", u.ChargeCurrent)
	}
	if u.State == nil || *u.State != StateConnected {
		t.Errorf("State = %v, want StateConnected", u.State)
	}
}

func TestDecodeStatusDocument_StateFallbacks(t *testing.T) {
	// state_id out of defined range falls back to ready.
	doc := []byte(`{"serialnr": "1", "evse": {"state_id": 99}, "settings": {}}`)
	u, _, err := DecodeStatusDocument(doc)
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}
	if u.State == nil || *u.State != StateReady {
		t.Errorf("State = %v, want StateReady for out-of-range id", u.State)
	}

	// Without state_id the string form is used.
	doc = []byte(`{"serialnr": "1", "evse": {"state": "Connected to EV"}, "settings": {}}`)
	u, _, err = DecodeStatusDocument(doc)
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}
	if u.State == nil || *u.State != StateConnected {
		t.Errorf("State = %v, want StateConnected from string form", u.State)
	}
}

func TestDecodeStatusDocument_InvalidModeDropped(t *testing.T) {
	doc := []byte(`{"serialnr": "1", "mode": 9, "evse": {}, "settings": {}}`)
	u, _, err := DecodeStatusDocument(doc)
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}
	if u.Mode != nil {
		t.Errorf("Mode = %v, want dropped for out-of-range value", *u.Mode)
	}
}
