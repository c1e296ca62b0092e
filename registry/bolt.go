// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/logger"
)

var (
	bucketDevices = []byte("devices")
	bucketMeta    = []byte("meta")
	keyIdentity   = []byte("identity")
)

// BoltRegistry is the file-backed registry used by the service.
type BoltRegistry struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the registry database at path.
func OpenBolt(path string) (*BoltRegistry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDevices); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize registry buckets: %w", err)
	}
	logger.Info().Str("path", path).Msg("Device registry opened")
	return &BoltRegistry{db: db}, nil
}

// Close closes the underlying database.
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

func (r *BoltRegistry) Get(serial string) (Device, bool, error) {
	var dev Device
	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevices).Get([]byte(serial))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &dev)
	})
	return dev, found, err
}

func (r *BoltRegistry) List() ([]Device, error) {
	var devices []Device
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, raw []byte) error {
			var dev Device
			if err := json.Unmarshal(raw, &dev); err != nil {
				return err
			}
			devices = append(devices, dev)
			return nil
		})
	})
	return devices, err
}

func (r *BoltRegistry) Put(dev Device) error {
	if dev.Serial == "" {
		return fmt.Errorf("device serial cannot be empty")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		out := dev
		if raw := b.Get([]byte(dev.Serial)); raw != nil {
			var existing Device
			if err := json.Unmarshal(raw, &existing); err == nil {
				out = merge(existing, dev)
			}
		}
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return b.Put([]byte(dev.Serial), data)
	})
}

func (r *BoltRegistry) UpdateAddress(serial, address string) error {
	return r.Put(Device{Serial: serial, Address: address})
}

func (r *BoltRegistry) SetCredential(serial, credential string) error {
	return r.Put(Device{Serial: serial, Credential: credential})
}

func (r *BoltRegistry) PropagateCredential(credential string) error {
	if credential == "" {
		return fmt.Errorf("credential cannot be empty")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		// Collect first: the bucket must not be modified mid-iteration.
		updated := make(map[string][]byte)
		err := b.ForEach(func(key, raw []byte) error {
			var dev Device
			if err := json.Unmarshal(raw, &dev); err != nil {
				return err
			}
			if !dev.HasCredential() || dev.Credential == credential {
				return nil
			}
			dev.Credential = credential
			data, err := json.Marshal(dev)
			if err != nil {
				return err
			}
			updated[string(key)] = data
			return nil
		})
		if err != nil {
			return err
		}
		for key, data := range updated {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BoltRegistry) Remove(serial string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Delete([]byte(serial))
	})
}

func (r *BoltRegistry) Identity() (string, error) {
	var identity string
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if raw := b.Get(keyIdentity); raw != nil {
			identity = string(raw)
			return nil
		}
		identity = uuid.NewString()
		logger.Info().Str("identity", identity).Msg("Created installation identity")
		return b.Put(keyIdentity, []byte(identity))
	})
	return identity, err
}
