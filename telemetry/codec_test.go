// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package telemetry

import (
	"errors"
	"testing"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
)

func TestDecodeTopicValue_Currents(t *testing.T) {
	// The device transmits currents in deciamps.
	tests := []struct {
		suffix string
		raw    string
		want   float64
		get    func(Update) *float64
	}{
		{"ChargeCurrent", "160", 16.0, func(u Update) *float64 { return u.ChargeCurrent }},
		{"ChargeCurrent", "0", 0.0, func(u Update) *float64 { return u.ChargeCurrent }},
		{"ChargeCurrentOverride", "85", 8.5, func(u Update) *float64 { return u.OverrideCurrent }},
		{"MainsCurrentL1", "159", 15.9, func(u Update) *float64 { return u.MainsCurrentL1 }},
		{"MainsCurrentL2", "161", 16.1, func(u Update) *float64 { return u.MainsCurrentL2 }},
		{"MainsCurrentL3", "-23", -2.3, func(u Update) *float64 { return u.MainsCurrentL3 }},
		{"MaxCurrent", "320", 32.0, func(u Update) *float64 { return u.MaxCurrent }},
	}

	for _, tt := range tests {
		t.Run(tt.suffix+"/"+tt.raw, func(t *testing.T) {
			u, err := DecodeTopicValue(tt.suffix, tt.raw)
			if err != nil {
				t.Fatalf("DecodeTopicValue() error = %v", err)
			}
			got := tt.get(u)
			if got == nil {
				t.Fatal("decoded field is nil")
			}
			if *got != tt.want {
				t.Errorf("decoded value = %v, want %v", *got, tt.want)
			}
		})
	}
}

func TestDecodeTopicValue_PowerAndEnergy(t *testing.T) {
	u, err := DecodeTopicValue("EVChargePower", "11040")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.ChargePower == nil || *u.ChargePower != 11.04 {
		t.Errorf("ChargePower = %v, want 11.04", u.ChargePower)
	}

	u, err = DecodeTopicValue("EVEnergyCharged", "7300")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.EnergyCharged == nil || *u.EnergyCharged != 7.3 {
		t.Errorf("EnergyCharged = %v, want 7.3", u.EnergyCharged)
	}

	u, err = DecodeTopicValue("EVImportActiveEnergy", "12500")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.EnergyImported == nil || *u.EnergyImported != 12.5 {
		t.Errorf("EnergyImported = %v, want 12.5", u.EnergyImported)
	}
}

func TestDecodeTopicValue_Enums(t *testing.T) {
	u, err := DecodeTopicValue("Mode", "Solar")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.Mode == nil || *u.Mode != ModeSolar {
		t.Errorf("Mode = %v, want ModeSolar", u.Mode)
	}

	u, err = DecodeTopicValue("State", "Charging")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.State == nil || *u.State != StateCharging {
		t.Errorf("State = %v, want StateCharging", u.State)
	}

	// Unknown state strings map to ready rather than failing.
	u, err = DecodeTopicValue("State", "Some Future State")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.State == nil || *u.State != StateReady {
		t.Errorf("State = %v, want StateReady for unknown string", u.State)
	}
}

func TestDecodeTopicValue_Strings(t *testing.T) {
	u, err := DecodeTopicValue("Version", "v3.6.10")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.Version == nil || *u.Version != "v3.6.10" {
		t.Errorf("Version = %v, want v3.6.10", u.Version)
	}

	u, err = DecodeTopicValue("Error", NoError)
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}
	if u.Error == nil || *u.Error != NoError {
		t.Errorf("Error = %v, want %q", u.Error, NoError)
	}
}

func TestDecodeTopicValue_Ints(t *testing.T) {
	tests := []struct {
		suffix string
		raw    string
		want   int
		get    func(Update) *int
	}{
		{"NrOfPhases", "3", 3, func(u Update) *int { return u.NrOfPhases }},
		{"LoadBl", "0", 0, func(u Update) *int { return u.LoadBalancing }},
		{"SolarStopTimer", "600", 600, func(u Update) *int { return u.SolarStopTimer }},
	}

	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			u, err := DecodeTopicValue(tt.suffix, tt.raw)
			if err != nil {
				t.Fatalf("DecodeTopicValue() error = %v", err)
			}
			got := tt.get(u)
			if got == nil || *got != tt.want {
				t.Errorf("decoded value = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeTopicValue_UnknownTopic(t *testing.T) {
	_, err := DecodeTopicValue("SomeNewTopic", "42")
	if !errors.Is(err, apperrors.ErrUnknownTopic) {
		t.Errorf("DecodeTopicValue() error = %v, want ErrUnknownTopic", err)
	}
}

func TestDecodeTopicValue_MalformedValue(t *testing.T) {
	tests := []struct {
		suffix string
		raw    string
	}{
		{"ChargeCurrent", "garbage"},
		{"NrOfPhases", "3.5"},
		{"Access", "maybe"},
		{"Mode", "Turbo"},
		{"EVChargePower", ""},
	}

	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			_, err := DecodeTopicValue(tt.suffix, tt.raw)
			if err == nil {
				t.Fatalf("DecodeTopicValue(%s, %q) expected error", tt.suffix, tt.raw)
			}
			if errors.Is(err, apperrors.ErrUnknownTopic) && tt.suffix != "Mode" {
				t.Errorf("malformed value should not report unknown topic: %v", err)
			}
		})
	}
}

func TestAmpsToDeciamps(t *testing.T) {
	tests := []struct {
		amps float64
		want int
	}{
		{16.0, 160},
		{8.5, 85},
		{0, 0},
		{-3.0, 0},  // clamped
		{6.04, 60}, // rounds down
		{6.06, 61}, // rounds up
	}

	for _, tt := range tests {
		if got := AmpsToDeciamps(tt.amps); got != tt.want {
			t.Errorf("AmpsToDeciamps(%v) = %d, want %d", tt.amps, got, tt.want)
		}
	}
}

// TestTransportPathEquivalence verifies both decode paths produce the same
// canonical value for the same raw reading.
func TestTransportPathEquivalence(t *testing.T) {
	pushUpdate, err := DecodeTopicValue("ChargeCurrent", "160")
	if err != nil {
		t.Fatalf("DecodeTopicValue() error = %v", err)
	}

	doc := []byte(`{
		"serialnr": "852199",
		"evse": {"state_id": 2},
		"settings": {"charge_current": 160}
	}`)
	pollUpdate, _, err := DecodeStatusDocument(doc)
	if err != nil {
		t.Fatalf("DecodeStatusDocument() error = %v", err)
	}

	if pushUpdate.ChargeCurrent == nil || pollUpdate.ChargeCurrent == nil {
		t.Fatal("both paths must decode charge current")
	}
	if *pushUpdate.ChargeCurrent != *pollUpdate.ChargeCurrent {
		t.Errorf("push decoded %v, poll decoded %v, want equal",
			*pushUpdate.ChargeCurrent, *pollUpdate.ChargeCurrent)
	}
	if *pushUpdate.ChargeCurrent != 16.0 {
		t.Errorf("decoded value = %v, want 16.0", *pushUpdate.ChargeCurrent)
	}
}

func TestSubscribeTopicsAllDecodable(t *testing.T) {
	// Every advertised topic must be handled by the decoder.
	samples := map[string]string{
		"Version":               "v3",
		"Access":                "true",
		"ChargeCurrent":         "160",
		"ChargeCurrentOverride": "0",
		"Mode":                  "Normal",
		"NrOfPhases":            "1",
		"State":                 "Charging",
		"Error":                 "None",
		"LoadBl":                "0",
		"SolarStopTimer":        "0",
		"MainsCurrentL1":        "10",
		"MainsCurrentL2":        "10",
		"MainsCurrentL3":        "10",
		"EVChargePower":         "1000",
		"EVEnergyCharged":       "1000",
		"EVImportActiveEnergy":  "1000",
		"MaxCurrent":            "320",
	}

	for _, topic := range SubscribeTopics {
		raw, ok := samples[topic]
		if !ok {
			t.Fatalf("no sample value for topic %s", topic)
		}
		u, err := DecodeTopicValue(topic, raw)
		if err != nil {
			t.Errorf("DecodeTopicValue(%s, %q) error = %v", topic, raw, err)
		}
		if u.IsEmpty() {
			t.Errorf("DecodeTopicValue(%s) produced an empty update", topic)
		}
	}
}
