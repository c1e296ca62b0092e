// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

// Package registry holds the persistent device records and the
// installation identity.
//
// The resilience engine only reads from the registry; the pairing flow and
// discovery write through it. Both writers key on the serial and merge
// into the existing record; an address update never touches the
// credential and vice versa.
package registry

// Device is one known charging controller.
type Device struct {
	Serial      string `json:"serial"`
	Address     string `json:"address,omitempty"`      // host or host:port on the local network
	Credential  string `json:"credential,omitempty"`   // token obtained via pairing
	DisplayName string `json:"display_name,omitempty"`
}

// HasCredential reports whether the device has been paired.
func (d Device) HasCredential() bool {
	return d.Credential != ""
}

// Registry is the device record collaborator.
type Registry interface {
	// Get returns the record for a serial. The second return value is
	// false when the serial is unknown.
	Get(serial string) (Device, bool, error)

	// List returns all known devices.
	List() ([]Device, error)

	// Put merges a record into the registry keyed by serial. Empty fields
	// in the incoming record leave the stored fields untouched.
	Put(dev Device) error

	// UpdateAddress records a re-observed network address for a serial.
	UpdateAddress(serial, address string) error

	// SetCredential stores a pairing credential for a serial.
	SetCredential(serial, credential string) error

	// PropagateCredential copies a newly issued credential to every record
	// that already holds a non-empty credential. The credential is scoped
	// to the installation identity, not to a device, so all paired devices
	// share one. Records that were never paired are left untouched.
	PropagateCredential(credential string) error

	// Remove deletes a device record.
	Remove(serial string) error

	// Identity returns the stable installation identity, creating it on
	// first use.
	Identity() (string, error)
}

// merge folds the non-empty fields of in over base.
func merge(base, in Device) Device {
	out := base
	if in.Address != "" {
		out.Address = in.Address
	}
	if in.Credential != "" {
		out.Credential = in.Credential
	}
	if in.DisplayName != "" {
		out.DisplayName = in.DisplayName
	}
	return out
}
