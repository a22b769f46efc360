package receiver

import (
	"time"

	"github.com/google/uuid"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/devicestore"
	"bax-receiver/internal/framing"
)

// Device is the API view of a device store record. The key is never
// exposed.
type Device struct {
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	History []Reading `json:"history"`
}

// Reading is one remembered packet of a device.
type Reading struct {
	Time        time.Time   `json:"time"`
	RSSI        int         `json:"rssi"`
	Type        string      `json:"type"`
	Sensor      *bax.Sensor `json:"sensor,omitempty"`
	Humidity    *float64    `json:"humidity,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

func deviceView(rec *devicestore.Record) Device {
	d := Device{
		Address: bax.AddressString(rec.Info.Address),
		Name:    rec.Info.Name,
		History: []Reading{},
	}
	for _, e := range rec.History() {
		d.History = append(d.History, readingOf(e))
	}
	return d
}

func readingOf(e devicestore.HistoryEntry) Reading {
	rd := Reading{
		Time: e.Time,
		RSSI: bax.RSSIdBm(e.RSSI),
		Type: bax.PacketType(e.Type).String(),
	}
	if bax.PacketType(e.Type).IsSensor() {
		s := bax.ParseSensor(e.Payload)
		h, t := s.Humidity(), s.Temperature()
		rd.Sensor, rd.Humidity, rd.Temperature = &s, &h, &t
	}
	return rd
}

func newPacketEvent(instance string, u bax.Unit, res bax.Result, name string) PacketEvent {
	p := res.Packet
	ev := PacketEvent{
		ID:         uuid.NewString(),
		Instance:   instance,
		DataNumber: u.Number,
		Time:       u.Timestamp(),
		Address:    bax.AddressString(p.Address),
		Name:       name,
		Type:       int8(p.Type),
		TypeName:   p.Type.String(),
		Outcome:    res.Outcome.String(),
		RSSI:       bax.RSSIdBm(p.RSSI),
		Payload:    framing.EncodeHex(p.Payload[:], framing.InOrder),
	}
	switch {
	case res.Outcome == bax.OutcomeDecrypted:
		s := bax.ParseSensor(p.Payload)
		h, t := s.Humidity(), s.Temperature()
		ev.Sensor, ev.Humidity, ev.Temp = &s, &h, &t
	case p.Type.IsRaw():
		if raw, ok := bax.ParseRaw(p.Type, p.Payload); ok {
			ev.Raw = &raw
		}
	case p.Type == bax.TypeKey:
		// Keys stay out of downstream sinks.
		ev.Payload = ""
	}
	return ev
}
