package bax

import "encoding/binary"

// Sensor is the decrypted payload of the sensor packet types.
type Sensor struct {
	PacketID        uint8  `json:"packet_id"`
	TxPowerDBm      int8   `json:"tx_power_dbm"`
	BatteryMV       uint16 `json:"battery_mv"`
	HumiditySat     uint16 `json:"humidity_raw"`
	TemperatureCx10 int16  `json:"temperature_cx10"`
	LightLux        uint16 `json:"light_lux"`
	PIRCounts       uint16 `json:"pir_counts"`
	PIREnergy       uint16 `json:"pir_energy"`
	SwitchCount     uint16 `json:"switch"`
}

// ParseSensor unpacks a decrypted sensor payload.
func ParseSensor(payload [PayloadSize]byte) Sensor {
	le := binary.LittleEndian
	return Sensor{
		PacketID:        payload[0],
		TxPowerDBm:      int8(payload[1]),
		BatteryMV:       le.Uint16(payload[2:]),
		HumiditySat:     le.Uint16(payload[4:]),
		TemperatureCx10: int16(le.Uint16(payload[6:])),
		LightLux:        le.Uint16(payload[8:]),
		PIRCounts:       le.Uint16(payload[10:]),
		PIREnergy:       le.Uint16(payload[12:]),
		SwitchCount:     le.Uint16(payload[14:]),
	}
}

// HumidityParts splits the saturation field into whole percent and
// hundredths: the high byte is whole percent, the low byte is in 1/256
// steps scaled as 39*lsb/100.
func (s Sensor) HumidityParts() (whole, hundredths uint16) {
	return s.HumiditySat >> 8, (39 * (s.HumiditySat & 0xFF)) / 100
}

// Humidity returns relative humidity in percent.
func (s Sensor) Humidity() float64 {
	whole, frac := s.HumidityParts()
	return float64(whole) + float64(frac)/100
}

// Temperature returns degrees Celsius.
func (s Sensor) Temperature() float64 {
	return float64(s.TemperatureCx10) / 10
}

// Raw is the unpacked payload of a raw debug packet.
type Raw struct {
	PacketID   uint8 `json:"packet_id"`
	TxPowerDBm int8  `json:"tx_power_dbm"`
	Values     []int `json:"values"`
}

// ParseRaw unpacks a raw debug payload. ok is false for non-raw types.
func ParseRaw(t PacketType, payload [PayloadSize]byte) (r Raw, ok bool) {
	r.PacketID = payload[0]
	r.TxPowerDBm = int8(payload[1])
	data := payload[2:]
	switch t {
	case TypeRawUint8:
		for _, b := range data {
			r.Values = append(r.Values, int(b))
		}
	case TypeRawInt8:
		for _, b := range data {
			r.Values = append(r.Values, int(int8(b)))
		}
	case TypeRawUint16:
		for i := 0; i+1 < len(data); i += 2 {
			r.Values = append(r.Values, int(binary.LittleEndian.Uint16(data[i:])))
		}
	case TypeRawInt16:
		for i := 0; i+1 < len(data); i += 2 {
			r.Values = append(r.Values, int(int16(binary.LittleEndian.Uint16(data[i:]))))
		}
	default:
		return Raw{}, false
	}
	return r, true
}
