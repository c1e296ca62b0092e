// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package telemetry

import (
	"strconv"

	apperrors "github.com/SmartEVSE/SmartEVSE-app/pkg/errors"
)

// Conversion divisors for raw wire values.
const (
	deciampsPerAmp    = 10.0
	wattsPerKilowatt  = 1000.0
	whPerKilowattHour = 1000.0
)

// SubscribeTopics is the fixed set of state topic suffixes a device
// publishes under its topic root.
var SubscribeTopics = []string{
	"Version",
	"Access",
	"ChargeCurrent",
	"ChargeCurrentOverride",
	"Mode",
	"NrOfPhases",
	"State",
	"Error",
	"LoadBl",
	"SolarStopTimer",
	"MainsCurrentL1",
	"MainsCurrentL2",
	"MainsCurrentL3",
	"EVChargePower",
	"EVEnergyCharged",
	"EVImportActiveEnergy",
	"MaxCurrent",
}

// DecodeTopicValue maps one push message onto a partial Update. The suffix
// is the topic with the "<product>-<serial>/" root stripped. Unrecognized
// suffixes return ErrUnknownTopic so newer firmware topics are dropped
// without noise; malformed values return a DecodeError scoped to the field.
func DecodeTopicValue(suffix, raw string) (Update, error) {
	var u Update
	switch suffix {
	case "Version":
		u.Version = &raw
	case "Access":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Update{}, apperrors.NewDecodeError(suffix, raw, err)
		}
		u.Access = &v
	case "ChargeCurrent":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.ChargeCurrent = &v })
	case "ChargeCurrentOverride":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.OverrideCurrent = &v })
	case "Mode":
		m, ok := ParseMode(raw)
		if !ok {
			return Update{}, apperrors.NewDecodeError(suffix, raw, apperrors.ErrUnknownTopic)
		}
		u.Mode = &m
	case "NrOfPhases":
		return decodeInt(suffix, raw, &u, func(v int) { u.NrOfPhases = &v })
	case "State":
		s := ParseDeviceState(raw)
		u.State = &s
	case "Error":
		u.Error = &raw
	case "LoadBl":
		return decodeInt(suffix, raw, &u, func(v int) { u.LoadBalancing = &v })
	case "SolarStopTimer":
		return decodeInt(suffix, raw, &u, func(v int) { u.SolarStopTimer = &v })
	case "MainsCurrentL1":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.MainsCurrentL1 = &v })
	case "MainsCurrentL2":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.MainsCurrentL2 = &v })
	case "MainsCurrentL3":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.MainsCurrentL3 = &v })
	case "EVChargePower":
		return decodeScaled(suffix, raw, wattsPerKilowatt, &u, func(v float64) { u.ChargePower = &v })
	case "EVEnergyCharged":
		return decodeScaled(suffix, raw, whPerKilowattHour, &u, func(v float64) { u.EnergyCharged = &v })
	case "EVImportActiveEnergy":
		return decodeScaled(suffix, raw, whPerKilowattHour, &u, func(v float64) { u.EnergyImported = &v })
	case "MaxCurrent":
		return decodeCurrent(suffix, raw, &u, func(v float64) { u.MaxCurrent = &v })
	default:
		return Update{}, apperrors.ErrUnknownTopic
	}
	return u, nil
}

// AmpsToDeciamps converts a canonical current back to the wire encoding
// used on command publishes.
func AmpsToDeciamps(amps float64) int {
	if amps < 0 {
		amps = 0
	}
	return int(amps*deciampsPerAmp + 0.5)
}

func decodeCurrent(field, raw string, u *Update, set func(float64)) (Update, error) {
	return decodeScaled(field, raw, deciampsPerAmp, u, set)
}

func decodeScaled(field, raw string, divisor float64, u *Update, set func(float64)) (Update, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Update{}, apperrors.NewDecodeError(field, raw, err)
	}
	set(v / divisor)
	return *u, nil
}

func decodeInt(field, raw string, u *Update, set func(int)) (Update, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return Update{}, apperrors.NewDecodeError(field, raw, err)
	}
	set(v)
	return *u, nil
}
