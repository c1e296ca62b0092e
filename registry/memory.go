// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory registry for tests and ephemeral runs.
type MemoryRegistry struct {
	mu       sync.RWMutex
	devices  map[string]Device
	identity string
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{devices: make(map[string]Device)}
}

func (r *MemoryRegistry) Get(serial string) (Device, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[serial]
	return dev, ok, nil
}

func (r *MemoryRegistry) List() ([]Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })
	return devices, nil
}

func (r *MemoryRegistry) Put(dev Device) error {
	if dev.Serial == "" {
		return fmt.Errorf("device serial cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[dev.Serial]; ok {
		dev = merge(existing, dev)
	}
	r.devices[dev.Serial] = dev
	return nil
}

func (r *MemoryRegistry) UpdateAddress(serial, address string) error {
	return r.Put(Device{Serial: serial, Address: address})
}

func (r *MemoryRegistry) SetCredential(serial, credential string) error {
	return r.Put(Device{Serial: serial, Credential: credential})
}

func (r *MemoryRegistry) PropagateCredential(credential string) error {
	if credential == "" {
		return fmt.Errorf("credential cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for serial, dev := range r.devices {
		if dev.HasCredential() {
			dev.Credential = credential
			r.devices[serial] = dev
		}
	}
	return nil
}

func (r *MemoryRegistry) Remove(serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, serial)
	return nil
}

func (r *MemoryRegistry) Identity() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == "" {
		r.identity = uuid.NewString()
	}
	return r.identity, nil
}
