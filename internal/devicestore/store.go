// Package devicestore holds the bounded, address-keyed cache of device keys
// and names together with a short history of decoded packets per device.
//
// Records are kept in age order: index 0 is the oldest slot and the first
// to go when an insert finds no empty slot. History entries live in a single
// arena shared by all records; every record owns a fixed set of arena
// indices and rotating or evicting only moves those indices around.
// Evicting a record hands its arena indices to the newly installed tail
// record, so ring ownership migrates between slots over time. Payload bytes
// are never copied on eviction.
//
// A Store is not safe for concurrent use.
package devicestore

import "time"

const (
	// KeySize is the AES-128 key length.
	KeySize = 16
	// NameSize is the stored name field including its terminator.
	NameSize = 16
	// MaxNameLen is the longest visible name.
	MaxNameLen = NameSize - 1
	// PayloadSize is the packet payload kept in history.
	PayloadSize = 16

	DefaultCapacity = 255
	DefaultHistory  = 1
)

// Info is the durable part of a device: its address, key and name.
// Address 0 marks an empty slot.
type Info struct {
	Address uint32
	Key     [KeySize]byte
	Name    string
}

// HistoryEntry is one decoded packet remembered for a device. The zero Time
// marks an unused entry.
type HistoryEntry struct {
	Time    time.Time
	RSSI    uint8
	Type    int8
	Payload [PayloadSize]byte
}

// Valid reports whether the entry holds a packet.
func (e HistoryEntry) Valid() bool { return !e.Time.IsZero() }

// Record is one slot of the store. Pointers returned by Lookup are only
// valid until the next mutation of the store.
type Record struct {
	Info  Info
	slots []int // ring position -> arena index, most recent first
	s     *Store
}

// History returns the valid history entries, most recent first.
func (r *Record) History() []HistoryEntry {
	var out []HistoryEntry
	for _, idx := range r.slots {
		if e := r.s.arena[idx]; e.Valid() {
			out = append(out, e)
		}
	}
	return out
}

// Store is a fixed-capacity device cache.
type Store struct {
	records []Record
	arena   []HistoryEntry
	history int
}

// New creates a store holding up to capacity devices and history packets per
// device. A capacity of 0 yields a store that never holds anything.
func New(capacity, history int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	if history < 0 {
		history = 0
	}
	s := &Store{
		records: make([]Record, capacity),
		arena:   make([]HistoryEntry, capacity*history),
		history: history,
	}
	for i := range s.records {
		slots := make([]int, history)
		for j := range slots {
			slots[j] = i*history + j
		}
		s.records[i] = Record{slots: slots, s: s}
	}
	return s
}

// Capacity returns the maximum number of devices.
func (s *Store) Capacity() int { return len(s.records) }

// Len returns the number of live records.
func (s *Store) Len() int {
	n := 0
	for i := range s.records {
		if s.records[i].Info.Address != 0 {
			n++
		}
	}
	return n
}

// Lookup finds the record for address.
func (s *Store) Lookup(address uint32) (*Record, bool) {
	if address == 0 {
		return nil, false
	}
	for i := range s.records {
		if s.records[i].Info.Address == address {
			return &s.records[i], true
		}
	}
	return nil, false
}

// InsertOrReplace installs info, first erasing any record with the same
// address along with its history. The new info takes the first empty slot;
// when there is none the oldest record is evicted and returned.
func (s *Store) InsertOrReplace(info Info) (evicted Info, didEvict bool) {
	if len(s.records) == 0 || info.Address == 0 {
		return Info{}, false
	}

	for i := range s.records {
		if s.records[i].Info.Address == info.Address {
			s.erase(&s.records[i])
		}
	}

	for i := range s.records {
		if s.records[i].Info.Address == 0 {
			s.records[i].Info = info
			return Info{}, false
		}
	}

	last := len(s.records) - 1
	oldest := s.records[0]
	copy(s.records[:last], s.records[1:])
	s.records[last] = Record{slots: oldest.slots, s: s}
	s.erase(&s.records[last])
	s.records[last].Info = info
	return oldest.Info, true
}

// RecordPacket pushes a packet to the front of the device's history. It does
// nothing and returns false when the address is unknown.
func (s *Store) RecordPacket(address uint32, rssi uint8, pktType int8, payload [PayloadSize]byte, t time.Time) bool {
	r, ok := s.Lookup(address)
	if !ok {
		return false
	}
	n := len(r.slots)
	if n == 0 {
		return true
	}
	back := r.slots[n-1]
	copy(r.slots[1:], r.slots[:n-1])
	r.slots[0] = back
	s.arena[back] = HistoryEntry{Time: t, RSSI: rssi, Type: pktType, Payload: payload}
	return true
}

// Rename stores a sanitised name for a known device.
func (s *Store) Rename(address uint32, raw []byte) bool {
	r, ok := s.Lookup(address)
	if !ok {
		return false
	}
	r.Info.Name = SanitizeName(raw)
	return true
}

// Name returns the device name if the address is known.
func (s *Store) Name(address uint32) (string, bool) {
	r, ok := s.Lookup(address)
	if !ok {
		return "", false
	}
	return r.Info.Name, true
}

// Last returns the history entry offset packets back for address.
func (s *Store) Last(address uint32, offset int) (HistoryEntry, bool) {
	r, ok := s.Lookup(address)
	if !ok || offset < 0 || offset >= len(r.slots) {
		return HistoryEntry{}, false
	}
	e := s.arena[r.slots[offset]]
	return e, e.Valid()
}

// Infos returns the live device infos in slot order.
func (s *Store) Infos() []Info {
	var out []Info
	for i := range s.records {
		if s.records[i].Info.Address != 0 {
			out = append(out, s.records[i].Info)
		}
	}
	return out
}

func (s *Store) erase(r *Record) {
	r.Info = Info{}
	for _, idx := range r.slots {
		s.arena[idx] = HistoryEntry{}
	}
}

// SanitizeName maps raw name bytes to the allowed set [0-9A-Za-z -],
// replacing anything else with '_'. It stops at the first NUL and keeps at
// most MaxNameLen characters.
func SanitizeName(raw []byte) string {
	out := make([]byte, 0, MaxNameLen)
	for i := 0; i < len(raw) && i < MaxNameLen; i++ {
		c := raw[i]
		if c == 0 {
			break
		}
		if !nameChar(c) {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}

func nameChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		return true
	case c == ' ', c == '-':
		return true
	}
	return false
}
