// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package telemetry

import (
	"encoding/json"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
)

// statusDocument is the nested document served by the device's local HTTP
// endpoint. All fields are pointers: firmware versions differ in which
// sections and fields they include.
type statusDocument struct {
	EVSE          *evseSection     `json:"evse"`
	Settings      *settingsSection `json:"settings"`
	EVMeter       *evMeterSection  `json:"ev_meter"`
	PhaseCurrents *phaseSection    `json:"phase_currents"`
	Version       *string          `json:"version"`
	SerialNr      *string          `json:"serialnr"`
	Mode          *int             `json:"mode"`
}

type evseSection struct {
	State          *string `json:"state"`
	StateID        *int    `json:"state_id"`
	Connected      *bool   `json:"connected"`
	Error          *string `json:"error"`
	LoadBl         *int    `json:"loadbl"`
	NrOfPhases     *int    `json:"nrofphases"`
	SolarStopTimer *int    `json:"solar_stop_timer"`
	Access         *bool   `json:"access"`
}

type settingsSection struct {
	ChargeCurrent   *float64 `json:"charge_current"`
	CurrentMin      *float64 `json:"current_min"`
	CurrentMax      *float64 `json:"current_max"`
	OverrideCurrent *float64 `json:"override_current"`
	MainsMeter      *string  `json:"mains_meter"`
}

type evMeterSection struct {
	Description       *string  `json:"description"`
	ImportActivePower *float64 `json:"import_active_power"`
	ChargedWh         *float64 `json:"charged_wh"`
}

type phaseSection struct {
	L1 *float64 `json:"L1"`
	L2 *float64 `json:"L2"`
	L3 *float64 `json:"L3"`
}

// DecodeStatusDocument parses a status fetch response into a partial
// Update plus the device serial. The same unit conversions as the push
// path apply, so both transports yield identical canonical values for the
// same raw reading.
//
// A genuine controller response must carry the evse and settings sections
// and a non-empty serialnr; anything else returns ErrNotGenuineDevice.
// Individual missing fields inside the sections are simply absent from the
// Update, never an error.
func DecodeStatusDocument(data []byte) (Update, string, error) {
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Update{}, "", apperrors.NewDecodeError("status document", truncate(data), err)
	}
	if doc.EVSE == nil || doc.Settings == nil || doc.SerialNr == nil || *doc.SerialNr == "" {
		return Update{}, "", apperrors.ErrNotGenuineDevice
	}

	var u Update
	u.Version = doc.Version

	if doc.EVSE.StateID != nil {
		s := DeviceState(*doc.EVSE.StateID)
		if !s.IsValid() {
			s = StateReady
		}
		u.State = &s
	} else if doc.EVSE.State != nil {
		s := ParseDeviceState(*doc.EVSE.State)
		u.State = &s
	}
	u.Error = doc.EVSE.Error
	u.LoadBalancing = doc.EVSE.LoadBl
	u.NrOfPhases = doc.EVSE.NrOfPhases
	u.SolarStopTimer = doc.EVSE.SolarStopTimer
	u.Access = doc.EVSE.Access

	u.ChargeCurrent = deciampField(doc.Settings.ChargeCurrent)
	u.MinCurrent = deciampField(doc.Settings.CurrentMin)
	u.MaxCurrent = deciampField(doc.Settings.CurrentMax)
	u.OverrideCurrent = deciampField(doc.Settings.OverrideCurrent)

	if doc.EVMeter != nil {
		u.ChargePower = scaledField(doc.EVMeter.ImportActivePower, wattsPerKilowatt)
		u.EnergyCharged = scaledField(doc.EVMeter.ChargedWh, whPerKilowattHour)
	}
	if doc.PhaseCurrents != nil {
		u.MainsCurrentL1 = deciampField(doc.PhaseCurrents.L1)
		u.MainsCurrentL2 = deciampField(doc.PhaseCurrents.L2)
		u.MainsCurrentL3 = deciampField(doc.PhaseCurrents.L3)
	}
	if doc.Mode != nil {
		m := Mode(*doc.Mode)
		if m.IsValid() {
			u.Mode = &m
		}
	}

	return u, *doc.SerialNr, nil
}

func deciampField(raw *float64) *float64 {
	return scaledField(raw, deciampsPerAmp)
}

func scaledField(raw *float64, divisor float64) *float64 {
	if raw == nil {
		return nil
	}
	v := *raw / divisor
	return &v
}

func truncate(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
