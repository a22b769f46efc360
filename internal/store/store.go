package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device snapshots, keyed by the 8-digit hex device address.
	SaveDevice(dev *Device) error
	GetDevice(address string) (*Device, error)
	DeleteDevice(address string) error
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(address string, fn func(dev *Device) error) error

	// Gateway session ids, keyed by gateway MAC.
	SessionID(mac uint64) (next uint32, ok bool, err error)
	SetSessionID(mac uint64, next uint32) error

	// Close the store
	Close() error
}
