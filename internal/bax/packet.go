// Package bax implements the BAX radio packet: its 22-byte wire layout, the
// 32-byte binary unit envelope used for files and UDP, sensor value
// unpacking, and the codec that filters, decrypts and classifies packets.
package bax

import (
	"encoding/binary"
	"errors"
	"fmt"

	"bax-receiver/internal/framing"
)

// Packet wire layout (22 bytes, little-endian):
//
//	[0:4]  address
//	[4]    raw rssi
//	[5]    packet type (signed)
//	[6:22] payload, one AES block
const (
	PacketSize  = 22
	PayloadSize = 16

	offAddress = 0
	offRSSI    = 4
	offType    = 5
	offPayload = 6
)

// EncryptedTypeOffset is the threshold above which an unsigned packet type is
// a negated encryptable type, i.e. a packet received but not decoded.
const EncryptedTypeOffset = 127

var (
	ErrPacketSize = errors.New("bax: packet must be 22 bytes")
	ErrUnitSize   = errors.New("bax: unit must be 32 bytes")
)

// PacketType identifies the payload format.
type PacketType int8

const (
	TypeKey          PacketType = 0 // payload is the device AES key
	TypeSensor       PacketType = 1
	TypeSensorPIR    PacketType = 2
	TypeSensorSwitch PacketType = 3
	TypeName         PacketType = 4 // payload is the device name
	TypeRawUint8     PacketType = 5 // pkt id, tx power, 14 x uint8
	TypeRawInt8      PacketType = 6 // pkt id, tx power, 14 x int8
	TypeRawUint16    PacketType = 7 // pkt id, tx power, 7 x uint16
	TypeRawInt16     PacketType = 8 // pkt id, tx power, 7 x int16
)

// IsSensor reports whether t is one of the encrypted sensor types.
func (t PacketType) IsSensor() bool {
	return t == TypeSensor || t == TypeSensorPIR || t == TypeSensorSwitch
}

// IsRaw reports whether t is a raw debug type.
func (t PacketType) IsRaw() bool {
	return t >= TypeRawUint8 && t <= TypeRawInt16
}

// Undecoded reports whether t is above the encrypted offset when read as an
// unsigned byte.
func (t PacketType) Undecoded() bool {
	return uint8(t) > EncryptedTypeOffset
}

func (t PacketType) String() string {
	switch t {
	case TypeKey:
		return "key"
	case TypeSensor:
		return "sensor"
	case TypeSensorPIR:
		return "sensor_pir"
	case TypeSensorSwitch:
		return "sensor_switch"
	case TypeName:
		return "name"
	case TypeRawUint8:
		return "raw_uint8"
	case TypeRawInt8:
		return "raw_int8"
	case TypeRawUint16:
		return "raw_uint16"
	case TypeRawInt16:
		return "raw_int16"
	}
	if t.Undecoded() && (-t).IsSensor() {
		return "encrypted_" + (-t).String()
	}
	return fmt.Sprintf("type(%d)", int8(t))
}

// Packet is one received radio packet.
type Packet struct {
	Address uint32
	RSSI    uint8
	Type    PacketType
	Payload [PayloadSize]byte
}

// ParsePacket decodes the 22-byte wire form.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d", ErrPacketSize, len(b))
	}
	var p Packet
	p.Address = binary.LittleEndian.Uint32(b[offAddress:])
	p.RSSI = b[offRSSI]
	p.Type = PacketType(int8(b[offType]))
	copy(p.Payload[:], b[offPayload:offPayload+PayloadSize])
	return p, nil
}

// Put writes the wire form into dst, which must hold PacketSize bytes.
func (p Packet) Put(dst []byte) {
	_ = dst[PacketSize-1]
	binary.LittleEndian.PutUint32(dst[offAddress:], p.Address)
	dst[offRSSI] = p.RSSI
	dst[offType] = byte(p.Type)
	copy(dst[offPayload:], p.Payload[:])
}

// Bytes returns the wire form.
func (p Packet) Bytes() []byte {
	b := make([]byte, PacketSize)
	p.Put(b)
	return b
}

// SubnetBits returns the subnet field carried in the upper two address
// bytes (wire bytes 2 and 3).
func (p Packet) SubnetBits() uint16 {
	return uint16(p.Address >> 16)
}

// RSSIdBm converts the radio's raw RSSI byte to dBm.
func RSSIdBm(raw uint8) int {
	return -128 + int(raw>>1)
}

// AddressString renders an address most-significant byte first, the way
// downstream tools print it.
func AddressString(addr uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], addr)
	return framing.EncodeHex(b[:], framing.Reversed)
}

// ParseAddress is the inverse of AddressString.
func ParseAddress(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("bax: address %q: want 8 hex digits", s)
	}
	b := framing.DecodeHexString(s, 4)
	if len(b) != 4 {
		return 0, fmt.Errorf("bax: address %q: not hex", s)
	}
	return binary.BigEndian.Uint32(b), nil
}
