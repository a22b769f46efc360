package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		Address:   "00A1B2C3",
		Name:      "Kitchen",
		FirstSeen: time.Now().Truncate(time.Millisecond),
		LastSeen:  time.Now().Truncate(time.Millisecond),
		LastType:  1,
		RSSI:      -61,
		Packets:   12,
		Properties: map[string]any{
			"temperature": 23.5,
		},
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.Address)
	if err != nil {
		t.Fatal(err)
	}

	if got.Address != dev.Address {
		t.Errorf("address = %q, want %q", got.Address, dev.Address)
	}
	if got.Name != dev.Name {
		t.Errorf("name = %q, want %q", got.Name, dev.Name)
	}
	if got.RSSI != dev.RSSI {
		t.Errorf("rssi = %d, want %d", got.RSSI, dev.RSSI)
	}
	if got.Packets != dev.Packets {
		t.Errorf("packets = %d, want %d", got.Packets, dev.Packets)
	}
	if !got.LastSeen.Equal(dev.LastSeen) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, dev.LastSeen)
	}
	if v, _ := got.Properties["temperature"].(float64); v != 23.5 {
		t.Errorf("temperature = %v, want 23.5", got.Properties["temperature"])
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{Address: "00A1B2C3"}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDevice(dev.Address); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetDevice(dev.Address)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err after delete = %v, want ErrNotFound", err)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	devs := []*Device{
		{Address: "00000001"},
		{Address: "00000002"},
		{Address: "00000003"},
	}
	for _, d := range devs {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]bool)
	for _, d := range list {
		found[d.Address] = true
	}
	for _, d := range devs {
		if !found[d.Address] {
			t.Errorf("device %s not in list", d.Address)
		}
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{Address: "00000010", Packets: 1}); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateDevice("00000010", func(d *Device) error {
		d.Packets++
		d.Name = "Hall"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDevice("00000010")
	if err != nil {
		t.Fatal(err)
	}
	if got.Packets != 2 || got.Name != "Hall" {
		t.Errorf("updated = %+v", got)
	}

	err = s.UpdateDevice("FFFFFFFF", func(d *Device) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing = %v, want ErrNotFound", err)
	}

	boom := errors.New("boom")
	if err := s.UpdateDevice("00000010", func(d *Device) error {
		d.Packets = 99
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("update fn error = %v, want boom", err)
	}
	got, _ = s.GetDevice("00000010")
	if got.Packets != 2 {
		t.Errorf("packets after failed update = %d, want 2", got.Packets)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice("FFFFFFFF")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionIDs(t *testing.T) {
	s := newTestStore(t)
	const mac = 0x0004A3123456

	if _, ok, err := s.SessionID(mac); err != nil || ok {
		t.Fatalf("SessionID on empty store = ok %v, err %v", ok, err)
	}
	if err := s.SetSessionID(mac, 501); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSessionID(mac, 502); err != nil {
		t.Fatal(err)
	}
	next, ok, err := s.SessionID(mac)
	if err != nil || !ok {
		t.Fatalf("SessionID = ok %v, err %v", ok, err)
	}
	if next != 502 {
		t.Errorf("next = %d, want 502", next)
	}
	if _, ok, _ := s.SessionID(mac + 1); ok {
		t.Error("other gateway should have no session id")
	}
}

func TestSessionIDsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetSessionID(7, 42); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if next, ok, _ := s.SessionID(7); !ok || next != 42 {
		t.Errorf("reopened SessionID = %d, %v; want 42, true", next, ok)
	}
}
