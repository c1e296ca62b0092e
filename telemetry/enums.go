// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package telemetry

// Mode is the charge mode reported and accepted by the controller.
type Mode int

const (
	ModeOff Mode = iota
	ModeNormal
	ModeSolar
	ModeSmart
)

var modeNames = [...]string{"Off", "Normal", "Solar", "Smart"}

func (m Mode) String() string {
	if m < ModeOff || int(m) >= len(modeNames) {
		return "Off"
	}
	return modeNames[m]
}

// IsValid reports whether m is one of the four defined modes.
func (m Mode) IsValid() bool {
	return m >= ModeOff && int(m) < len(modeNames)
}

// ParseMode maps the wire string to a Mode. The second return value is
// false for unrecognized strings.
func ParseMode(s string) (Mode, bool) {
	for i, name := range modeNames {
		if s == name {
			return Mode(i), true
		}
	}
	return ModeOff, false
}

// DeviceState is the controller's lifecycle state. The device transmits it
// as a human-readable string; both transports map it onto the same fixed
// ids 0-10. Unknown strings map to StateReady (0).
type DeviceState int

const (
	StateReady DeviceState = iota
	StateConnected
	StateCharging
	StateD
	StateRequestB
	StateBOK
	StateRequestC
	StateCOK
	StateActivation
	StateChargingStopped
	StateModemSetup
)

var stateNames = [...]string{
	"Ready to Charge",
	"Connected to EV",
	"Charging",
	"D",
	"Request State B",
	"State B OK",
	"Request State C",
	"State C OK",
	"Activation Mode",
	"Charging Stopped",
	"Modem Setup",
}

func (s DeviceState) String() string {
	if s < StateReady || int(s) >= len(stateNames) {
		return stateNames[StateReady]
	}
	return stateNames[s]
}

// IsValid reports whether s is one of the eleven defined states.
func (s DeviceState) IsValid() bool {
	return s >= StateReady && int(s) < len(stateNames)
}

// ParseDeviceState maps the wire string to a DeviceState. Unknown strings
// map to StateReady so a newer firmware never breaks decoding.
func ParseDeviceState(s string) DeviceState {
	for i, name := range stateNames {
		if s == name {
			return DeviceState(i)
		}
	}
	return StateReady
}
