package bax

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Binary unit layout (32 bytes, little-endian):
//
//	[0:4]  data number
//	[4:8]  timestamp, seconds since the Unix epoch
//	[8]    continuation flag
//	[9:31] packet
//	[31]   unused, zero
const (
	UnitSize     = 32
	UnitDataSize = 23

	offUnitNumber = 0
	offUnitTime   = 4
	offUnitCont   = 8
	offUnitPacket = 9
)

// Unit is the envelope used for bulk transport of packets over files and UDP.
type Unit struct {
	Number       uint32
	Time         uint32
	Continuation uint8
	Data         [UnitDataSize]byte
}

// NewUnit wraps p with a data number and timestamp.
func NewUnit(number uint32, t time.Time, p Packet) Unit {
	u := Unit{Number: number, Time: uint32(t.Unix())}
	u.SetPacket(p)
	return u
}

// ParseUnit decodes the 32-byte wire form.
func ParseUnit(b []byte) (Unit, error) {
	if len(b) != UnitSize {
		return Unit{}, fmt.Errorf("%w: got %d", ErrUnitSize, len(b))
	}
	var u Unit
	u.Number = binary.LittleEndian.Uint32(b[offUnitNumber:])
	u.Time = binary.LittleEndian.Uint32(b[offUnitTime:])
	u.Continuation = b[offUnitCont]
	copy(u.Data[:], b[offUnitPacket:])
	return u, nil
}

// Bytes returns the wire form.
func (u Unit) Bytes() []byte {
	b := make([]byte, UnitSize)
	binary.LittleEndian.PutUint32(b[offUnitNumber:], u.Number)
	binary.LittleEndian.PutUint32(b[offUnitTime:], u.Time)
	b[offUnitCont] = u.Continuation
	copy(b[offUnitPacket:], u.Data[:])
	return b
}

// Packet decodes the packet carried in the unit.
func (u Unit) Packet() Packet {
	p, _ := ParsePacket(u.Data[:PacketSize])
	return p
}

// SetPacket replaces the carried packet.
func (u *Unit) SetPacket(p Packet) {
	p.Put(u.Data[:PacketSize])
}

// Timestamp returns the unit time.
func (u Unit) Timestamp() time.Time {
	return time.Unix(int64(u.Time), 0)
}
