// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package telemetry defines the canonical device snapshot and the codecs
// that map both transport payload shapes onto it.
//
// Both transports deliver partial data: the push channel sends one value
// per topic, the poll channel sends a nested status document that may omit
// sections. Everything is therefore decoded into an Update (pointer fields,
// nil = not present) and merged into a Snapshot with Apply. A field absent
// from an Update never clears the previously known value.
//
// # Unit conversions
//
// The device transmits currents in deciamps, power in watts and energy in
// watt-hours. Both decode paths apply the same conversions (÷10, ÷1000,
// ÷1000) so that a given raw value produces the same canonical number
// regardless of which transport carried it.
package telemetry

// ProductPrefix is the name prefix every SmartEVSE controller uses for its
// mDNS instance name and its broker topic root.
const ProductPrefix = "SmartEVSE"

// NoError is the device's error text when no error condition is active.
const NoError = "None"

// TopicRoot returns the broker topic root for a device serial,
// e.g. "SmartEVSE-12345".
func TopicRoot(serial string) string {
	return ProductPrefix + "-" + serial
}

// DeviceName returns the "<product>-<serial>" identifier used by the
// pairing endpoint and the broker namespace.
func DeviceName(serial string) string {
	return TopicRoot(serial)
}

// Snapshot is the canonical decoded device state. All currents are in
// amps, power in kW, energy in kWh.
type Snapshot struct {
	Version         string
	Access          bool
	ChargeCurrent   float64
	OverrideCurrent float64 // 0 = no override
	Mode            Mode
	NrOfPhases      int
	State           DeviceState
	Error           string // NoError when clear
	LoadBalancing   int    // 0 = disabled, 1 = master, >1 = node id
	SolarStopTimer  int    // seconds
	MainsCurrent    [3]float64
	ChargePower     float64
	EnergyCharged   float64
	EnergyImported  float64
	MinCurrent      float64
	MaxCurrent      float64
}

// Update is a partial snapshot. A nil field means the incoming message did
// not carry that value.
type Update struct {
	Version         *string
	Access          *bool
	ChargeCurrent   *float64
	OverrideCurrent *float64
	Mode            *Mode
	NrOfPhases      *int
	State           *DeviceState
	Error           *string
	LoadBalancing   *int
	SolarStopTimer  *int
	MainsCurrentL1  *float64
	MainsCurrentL2  *float64
	MainsCurrentL3  *float64
	ChargePower     *float64
	EnergyCharged   *float64
	EnergyImported  *float64
	MinCurrent      *float64
	MaxCurrent      *float64
}

// IsEmpty reports whether the update carries no fields at all.
func (u Update) IsEmpty() bool {
	return u == Update{}
}

// Apply merges an update into the snapshot. Only fields present in the
// update are overwritten; merge is field-wise, last write wins per field.
func (s *Snapshot) Apply(u Update) {
	if u.Version != nil {
		s.Version = *u.Version
	}
	if u.Access != nil {
		s.Access = *u.Access
	}
	if u.ChargeCurrent != nil {
		s.ChargeCurrent = *u.ChargeCurrent
	}
	if u.OverrideCurrent != nil {
		s.OverrideCurrent = *u.OverrideCurrent
	}
	if u.Mode != nil {
		s.Mode = *u.Mode
	}
	if u.NrOfPhases != nil {
		s.NrOfPhases = *u.NrOfPhases
	}
	if u.State != nil {
		s.State = *u.State
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	if u.LoadBalancing != nil {
		s.LoadBalancing = *u.LoadBalancing
	}
	if u.SolarStopTimer != nil {
		s.SolarStopTimer = *u.SolarStopTimer
	}
	if u.MainsCurrentL1 != nil {
		s.MainsCurrent[0] = *u.MainsCurrentL1
	}
	if u.MainsCurrentL2 != nil {
		s.MainsCurrent[1] = *u.MainsCurrentL2
	}
	if u.MainsCurrentL3 != nil {
		s.MainsCurrent[2] = *u.MainsCurrentL3
	}
	if u.ChargePower != nil {
		s.ChargePower = *u.ChargePower
	}
	if u.EnergyCharged != nil {
		s.EnergyCharged = *u.EnergyCharged
	}
	if u.EnergyImported != nil {
		s.EnergyImported = *u.EnergyImported
	}
	if u.MinCurrent != nil {
		s.MinCurrent = *u.MinCurrent
	}
	if u.MaxCurrent != nil {
		s.MaxCurrent = *u.MaxCurrent
	}
}
