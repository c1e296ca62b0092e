// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package registry

import (
	"path/filepath"
	"testing"
)

// Both implementations must behave identically; every test runs against
// each of them.
func registries(t *testing.T) map[string]Registry {
	t.Helper()

	boltReg, err := OpenBolt(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	t.Cleanup(func() { _ = boltReg.Close() })

	return map[string]Registry{
		"memory": NewMemory(),
		"bolt":   boltReg,
	}
}

func TestPutAndGet(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			dev := Device{Serial: "852199", Address: "192.168.1.40", DisplayName: "Garage"}
			if err := reg.Put(dev); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, ok, err := reg.Get("852199")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !ok {
				t.Fatal("Get() did not find stored device")
			}
			if got != dev {
				t.Errorf("Get() = %+v, want %+v", got, dev)
			}

			if _, ok, _ := reg.Get("000000"); ok {
				t.Error("Get() found a device that was never stored")
			}
		})
	}
}

func TestPut_RejectsEmptySerial(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Put(Device{Address: "192.168.1.40"}); err == nil {
				t.Error("Put() should reject a device without serial")
			}
		})
	}
}

func TestPut_MergesFieldWise(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Put(Device{Serial: "852199", Address: "192.168.1.40", Credential: "token-abc"}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			// A record carrying only a new address must keep the credential.
			if err := reg.Put(Device{Serial: "852199", Address: "192.168.1.77"}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, _, err := reg.Get("852199")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Address != "192.168.1.77" {
				t.Errorf("Address = %s, want 192.168.1.77", got.Address)
			}
			if got.Credential != "token-abc" {
				t.Errorf("Credential = %s, merge must not drop it", got.Credential)
			}
		})
	}
}

func TestUpdateAddressAndSetCredential(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.UpdateAddress("852199", "192.168.1.40"); err != nil {
				t.Fatalf("UpdateAddress() error = %v", err)
			}
			if err := reg.SetCredential("852199", "token-abc"); err != nil {
				t.Fatalf("SetCredential() error = %v", err)
			}

			got, ok, err := reg.Get("852199")
			if err != nil || !ok {
				t.Fatalf("Get() = %v, %v", ok, err)
			}
			if got.Address != "192.168.1.40" || got.Credential != "token-abc" {
				t.Errorf("Get() = %+v, want address and credential set", got)
			}
		})
	}
}

func TestPropagateCredential(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			// Two paired devices with stale tokens, one never paired.
			devices := []Device{
				{Serial: "852199", Credential: "old-token-1"},
				{Serial: "731004", Credential: "old-token-2"},
				{Serial: "990001", Address: "192.168.1.90"},
			}
			for _, dev := range devices {
				if err := reg.Put(dev); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}

			if err := reg.PropagateCredential("new-token"); err != nil {
				t.Fatalf("PropagateCredential() error = %v", err)
			}

			for _, serial := range []string{"852199", "731004"} {
				got, _, err := reg.Get(serial)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.Credential != "new-token" {
					t.Errorf("credential for %s = %s, want new-token", serial, got.Credential)
				}
			}

			// Unpaired records stay unpaired.
			got, _, err := reg.Get("990001")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.HasCredential() {
				t.Errorf("unpaired device gained credential %q", got.Credential)
			}
		})
	}
}

func TestPropagateCredential_RejectsEmpty(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.PropagateCredential(""); err == nil {
				t.Error("PropagateCredential() should reject an empty credential")
			}
		})
	}
}

func TestRemove(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Put(Device{Serial: "852199"}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := reg.Remove("852199"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, ok, _ := reg.Get("852199"); ok {
				t.Error("Get() found device after Remove()")
			}
			// Removing an unknown serial is not an error.
			if err := reg.Remove("000000"); err != nil {
				t.Errorf("Remove() of unknown serial error = %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			for _, serial := range []string{"852199", "731004"} {
				if err := reg.Put(Device{Serial: serial}); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}
			devices, err := reg.List()
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(devices) != 2 {
				t.Errorf("List() returned %d devices, want 2", len(devices))
			}
		})
	}
}

func TestIdentity_Stable(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			first, err := reg.Identity()
			if err != nil {
				t.Fatalf("Identity() error = %v", err)
			}
			if first == "" {
				t.Fatal("Identity() returned empty identity")
			}
			second, err := reg.Identity()
			if err != nil {
				t.Fatalf("Identity() error = %v", err)
			}
			if first != second {
				t.Errorf("Identity() changed between calls: %q vs %q", first, second)
			}
		})
	}
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")

	reg, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	if err := reg.Put(Device{Serial: "852199", Address: "192.168.1.40", Credential: "token-abc"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	identity, err := reg.Identity()
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt() reopen error = %v", err)
	}
	defer reopened.Close()

	dev, ok, err := reopened.Get("852199")
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = %v, %v", ok, err)
	}
	if dev.Credential != "token-abc" {
		t.Errorf("credential after reopen = %s, want token-abc", dev.Credential)
	}

	identityAfter, err := reopened.Identity()
	if err != nil {
		t.Fatalf("Identity() after reopen error = %v", err)
	}
	if identityAfter != identity {
		t.Errorf("identity changed across reopen: %q vs %q", identityAfter, identity)
	}
}
