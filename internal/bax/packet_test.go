package bax

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestParsePacket(t *testing.T) {
	raw := []byte{
		0x78, 0x56, 0x34, 0x12, // address
		0x90,       // rssi
		0xFF,       // type -1
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
	}
	p, err := ParsePacket(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.Address != 0x12345678 {
		t.Errorf("Address = %#x, want 0x12345678", p.Address)
	}
	if p.RSSI != 0x90 {
		t.Errorf("RSSI = %#x, want 0x90", p.RSSI)
	}
	if p.Type != -1 {
		t.Errorf("Type = %d, want -1", p.Type)
	}
	if p.Payload[15] != 15 {
		t.Errorf("Payload[15] = %d, want 15", p.Payload[15])
	}
	if p.SubnetBits() != 0x1234 {
		t.Errorf("SubnetBits = %#x, want 0x1234", p.SubnetBits())
	}
	if !bytes.Equal(p.Bytes(), raw) {
		t.Errorf("Bytes = % X, want % X", p.Bytes(), raw)
	}
}

func TestParsePacketSize(t *testing.T) {
	for _, n := range []int{0, 21, 23, 32} {
		if _, err := ParsePacket(make([]byte, n)); !errors.Is(err, ErrPacketSize) {
			t.Errorf("ParsePacket(%d bytes) err = %v, want ErrPacketSize", n, err)
		}
	}
}

func TestPacketTypeClasses(t *testing.T) {
	tests := []struct {
		typ       PacketType
		sensor    bool
		raw       bool
		undecoded bool
		name      string
	}{
		{TypeKey, false, false, false, "key"},
		{TypeSensor, true, false, false, "sensor"},
		{TypeSensorPIR, true, false, false, "sensor_pir"},
		{TypeSensorSwitch, true, false, false, "sensor_switch"},
		{TypeName, false, false, false, "name"},
		{TypeRawUint8, false, true, false, "raw_uint8"},
		{TypeRawInt16, false, true, false, "raw_int16"},
		{-TypeSensor, false, false, true, "encrypted_sensor"},
		{-TypeSensorSwitch, false, false, true, "encrypted_sensor_switch"},
		{42, false, false, false, "type(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.IsSensor(); got != tt.sensor {
				t.Errorf("IsSensor = %v, want %v", got, tt.sensor)
			}
			if got := tt.typ.IsRaw(); got != tt.raw {
				t.Errorf("IsRaw = %v, want %v", got, tt.raw)
			}
			if got := tt.typ.Undecoded(); got != tt.undecoded {
				t.Errorf("Undecoded = %v, want %v", got, tt.undecoded)
			}
			if got := tt.typ.String(); got != tt.name {
				t.Errorf("String = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestRSSIdBm(t *testing.T) {
	tests := []struct {
		raw  uint8
		want int
	}{
		{0, -128},
		{1, -128},
		{2, -127},
		{0x90, -56},
		{0xFF, -1},
	}
	for _, tt := range tests {
		if got := RSSIdBm(tt.raw); got != tt.want {
			t.Errorf("RSSIdBm(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestAddressString(t *testing.T) {
	if got := AddressString(0x0A0B0C0D); got != "0A0B0C0D" {
		t.Errorf("AddressString = %q, want 0A0B0C0D", got)
	}
	addr, err := ParseAddress("0a0b0c0d")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x0A0B0C0D {
		t.Errorf("ParseAddress = %#x, want 0x0A0B0C0D", addr)
	}
	for _, bad := range []string{"", "123", "0A0B0C0G", "0A0B0C0D0E"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Errorf("ParseAddress(%q) succeeded, want error", bad)
		}
	}
}

func TestUnitRoundTrip(t *testing.T) {
	p := Packet{Address: 0x01020304, RSSI: 10, Type: TypeName}
	copy(p.Payload[:], "Kitchen")
	ts := time.Unix(1700000000, 0)
	u := NewUnit(7, ts, p)
	u.Continuation = 1

	b := u.Bytes()
	if len(b) != UnitSize {
		t.Fatalf("len = %d, want %d", len(b), UnitSize)
	}
	if b[0] != 7 || b[8] != 1 || b[31] != 0 {
		t.Errorf("header bytes = % X", b[:9])
	}
	if b[9] != 0x04 || b[12] != 0x01 {
		t.Errorf("packet not at offset 9: % X", b[9:13])
	}

	got, err := ParseUnit(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != u {
		t.Errorf("ParseUnit = %+v, want %+v", got, u)
	}
	if got.Packet() != p {
		t.Errorf("Packet = %+v, want %+v", got.Packet(), p)
	}
	if !got.Timestamp().Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp(), ts)
	}

	if _, err := ParseUnit(b[:31]); !errors.Is(err, ErrUnitSize) {
		t.Errorf("short unit err = %v, want ErrUnitSize", err)
	}
}

func TestParseSensor(t *testing.T) {
	payload := [PayloadSize]byte{
		9,          // packet id
		0xFC,       // -4 dBm
		0x10, 0x0E, // 3600 mV
		0x80, 0x32, // 50% + 0x80/256
		0xEB, 0x00, // 23.5 C
		0x2C, 0x01, // 300 lux
		0x05, 0x00, // pir counts
		0x64, 0x00, // pir energy
		0x01, 0x00, // switch
	}
	s := ParseSensor(payload)
	if s.PacketID != 9 || s.TxPowerDBm != -4 || s.BatteryMV != 3600 {
		t.Errorf("header = %d/%d/%d", s.PacketID, s.TxPowerDBm, s.BatteryMV)
	}
	whole, frac := s.HumidityParts()
	if whole != 50 || frac != 49 {
		t.Errorf("HumidityParts = %d.%02d, want 50.49", whole, frac)
	}
	if s.Temperature() != 23.5 {
		t.Errorf("Temperature = %v, want 23.5", s.Temperature())
	}
	if s.LightLux != 300 || s.PIRCounts != 5 || s.PIREnergy != 100 || s.SwitchCount != 1 {
		t.Errorf("sensor = %+v", s)
	}
}

func TestParseRaw(t *testing.T) {
	var payload [PayloadSize]byte
	payload[0] = 1
	payload[1] = 0xFE
	payload[2] = 0xFF
	payload[3] = 0xFF

	r, ok := ParseRaw(TypeRawInt16, payload)
	if !ok {
		t.Fatal("ParseRaw(int16) not ok")
	}
	if len(r.Values) != 7 || r.Values[0] != -1 {
		t.Errorf("int16 values = %v", r.Values)
	}
	r, _ = ParseRaw(TypeRawUint8, payload)
	if len(r.Values) != 14 || r.Values[0] != 255 {
		t.Errorf("uint8 values = %v", r.Values)
	}
	if r.TxPowerDBm != -2 {
		t.Errorf("TxPowerDBm = %d, want -2", r.TxPowerDBm)
	}
	if _, ok := ParseRaw(TypeSensor, payload); ok {
		t.Error("ParseRaw(sensor) ok, want false")
	}
}

func TestFilter(t *testing.T) {
	f, err := ParseFilter("pd")
	if err != nil {
		t.Fatal(err)
	}
	if f != FilterPairing|FilterDecoded {
		t.Errorf("ParseFilter = %v, want PD", f)
	}
	tests := []struct {
		typ  PacketType
		want bool
	}{
		{TypeKey, true},
		{TypeName, false},
		{TypeSensor, true},
		{-TypeSensor, false},
		{TypeRawUint8, false},
		{99, false},
	}
	for _, tt := range tests {
		if got := f.Allows(tt.typ); got != tt.want {
			t.Errorf("Allows(%v) = %v, want %v", tt.typ, got, tt.want)
		}
	}
	if !FilterEncrypted.Allows(-TypeSensor) || !FilterEncrypted.Allows(99) {
		t.Error("encrypted filter should pass undecoded and unknown types")
	}
	if FilterAll.String() != "PNDER" {
		t.Errorf("FilterAll = %q, want PNDER", FilterAll.String())
	}
	if _, err := ParseFilter("PX"); err == nil {
		t.Error("ParseFilter(PX) succeeded, want error")
	}
}
