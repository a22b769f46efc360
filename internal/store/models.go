package store

import "time"

// Device is the persisted snapshot of a sensor: what was last heard from it
// and when. Keys never leave the info file and are not stored here.
type Device struct {
	Address    string         `json:"address"`
	Name       string         `json:"name,omitempty"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
	LastType   int8           `json:"last_type"`
	RSSI       int            `json:"rssi"`
	Packets    uint64         `json:"packets"`
	Properties map[string]any `json:"properties,omitempty"`
}

// sessionRecord is the on-disk form of a gateway session id.
type sessionRecord struct {
	NextSession uint32    `json:"next_session"`
	Updated     time.Time `json:"updated"`
}
