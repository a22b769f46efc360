package bax

import (
	"crypto/aes"
	"errors"
	"testing"
	"time"

	"bax-receiver/internal/devicestore"
)

var testKey = [16]byte{0x2B, 0x7E, 0x15, 0x16, 0x28, 0xAE, 0xD2, 0xA6, 0xAB, 0xF7, 0x15, 0x88, 0x09, 0xCF, 0x4F, 0x3C}

func encrypt(t *testing.T, key, plain [16]byte) [16]byte {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	var out [16]byte
	block.Encrypt(out[:], plain[:])
	return out
}

func plaintext() [16]byte {
	var b [16]byte
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newTestCodec(cfg Config) (*Codec, *devicestore.Store) {
	st := devicestore.New(4, 2)
	return NewCodec(st, nil, cfg), st
}

func TestSubnetFilter(t *testing.T) {
	c, _ := newTestCodec(Config{Subnet: 0x1200, SubnetMask: 0xFF00})

	tests := []struct {
		name string
		addr uint32
		want bool
	}{
		{"exact", 0x12000001, true},
		{"masked-out bits differ", 0x12AB0001, true},
		{"masked-in bit differs", 0x13000001, false},
		{"low address bytes ignored", 0x1200FFFF, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Packet{Address: tt.addr, Type: TypeRawUint8}
			if got := c.InSubnet(p); got != tt.want {
				t.Errorf("InSubnet(%#x) = %v, want %v", tt.addr, got, tt.want)
			}
			res := c.HandlePacket(p, time.Now())
			if dropped := res.Outcome == OutcomeDropped; dropped == tt.want {
				t.Errorf("Outcome = %v, want dropped=%v", res.Outcome, !tt.want)
			}
		})
	}
}

func TestZeroMaskAcceptsAll(t *testing.T) {
	c, _ := newTestCodec(Config{Subnet: 0x1234})
	if !c.InSubnet(Packet{Address: 0xFFFF0000}) {
		t.Error("zero mask dropped a packet")
	}
}

func TestDecryptReject(t *testing.T) {
	c, _ := newTestCodec(Config{Learn: true})
	cipher := encrypt(t, testKey, plaintext())
	p := Packet{Address: 0x42, RSSI: 100, Type: TypeSensor, Payload: cipher}

	res := c.HandlePacket(p, time.Now())
	if res.Outcome != OutcomeUndecoded {
		t.Fatalf("Outcome = %v, want undecoded", res.Outcome)
	}
	if res.Packet.Type != -TypeSensor {
		t.Errorf("Type = %d, want %d", res.Packet.Type, -TypeSensor)
	}
	if res.Packet.Payload != cipher {
		t.Error("payload changed for an unknown device")
	}
	if byte(res.Packet.Type) != 0xFF {
		t.Errorf("wire type = %#x, want 0xFF", byte(res.Packet.Type))
	}
}

func TestDecryptWithKey(t *testing.T) {
	c, st := newTestCodec(Config{Learn: true})
	st.InsertOrReplace(devicestore.Info{Address: 0x42, Key: testKey})

	now := time.Unix(1700000000, 0)
	p := Packet{Address: 0x42, RSSI: 100, Type: TypeSensorPIR, Payload: encrypt(t, testKey, plaintext())}
	res := c.HandlePacket(p, now)
	if res.Outcome != OutcomeDecrypted {
		t.Fatalf("Outcome = %v, want decrypted", res.Outcome)
	}
	if res.Packet.Payload != plaintext() {
		t.Errorf("Payload = % X, want % X", res.Packet.Payload, plaintext())
	}
	if res.Packet.Type != TypeSensorPIR {
		t.Errorf("Type = %v, want sensor_pir", res.Packet.Type)
	}

	e, ok := st.Last(0x42, 0)
	if !ok {
		t.Fatal("no history recorded")
	}
	if !e.Time.Equal(now) || e.RSSI != 100 || e.Type != int8(TypeSensorPIR) || e.Payload != plaintext() {
		t.Errorf("history = %+v", e)
	}
}

type failingCipher struct{}

func (failingCipher) DecryptBlock(ciphertext, key [16]byte) ([16]byte, error) {
	return ciphertext, errors.New("broken")
}

func TestDecryptCipherError(t *testing.T) {
	st := devicestore.New(2, 1)
	st.InsertOrReplace(devicestore.Info{Address: 7})
	c := NewCodec(st, failingCipher{}, Config{})
	p := Packet{Address: 7, Type: TypeSensor}
	if c.Decrypt(&p, time.Now()) {
		t.Error("Decrypt succeeded with failing cipher")
	}
	if _, ok := st.Last(7, 0); ok {
		t.Error("history recorded after cipher failure")
	}
}

func TestKeyPacketLearning(t *testing.T) {
	c, st := newTestCodec(Config{Learn: true})
	p := Packet{Address: 0x99, Type: TypeKey, Payload: testKey}

	res := c.HandlePacket(p, time.Now())
	if res.Outcome != OutcomeKey {
		t.Fatalf("Outcome = %v, want key", res.Outcome)
	}
	if res.Learned == nil || res.Learned.Key != testKey {
		t.Fatalf("Learned = %+v", res.Learned)
	}
	rec, ok := st.Lookup(0x99)
	if !ok || rec.Info.Key != testKey {
		t.Fatal("key not stored")
	}

	sensor := Packet{Address: 0x99, Type: TypeSensor, Payload: encrypt(t, testKey, plaintext())}
	if got := c.HandlePacket(sensor, time.Now()); got.Outcome != OutcomeDecrypted {
		t.Errorf("sensor after key = %v, want decrypted", got.Outcome)
	}
}

func TestKeyPacketLearningDisabled(t *testing.T) {
	c, st := newTestCodec(Config{})
	res := c.HandlePacket(Packet{Address: 0x99, Type: TypeKey, Payload: testKey}, time.Now())
	if res.Outcome != OutcomeKey || res.Learned != nil {
		t.Errorf("result = %+v", res)
	}
	if st.Len() != 0 {
		t.Errorf("store Len = %d, want 0", st.Len())
	}
}

func TestKeyPacketEviction(t *testing.T) {
	st := devicestore.New(1, 1)
	c := NewCodec(st, nil, Config{Learn: true})
	c.HandlePacket(Packet{Address: 1, Type: TypeKey}, time.Now())
	res := c.HandlePacket(Packet{Address: 2, Type: TypeKey}, time.Now())
	if res.Evicted == nil || res.Evicted.Address != 1 {
		t.Errorf("Evicted = %+v, want address 1", res.Evicted)
	}
}

func TestNamePacket(t *testing.T) {
	c, st := newTestCodec(Config{Learn: true})

	var name [16]byte
	copy(name[:], "Hall/1\x00junk")
	res := c.HandlePacket(Packet{Address: 5, Type: TypeName, Payload: name}, time.Now())
	if res.Outcome != OutcomeName || res.Learned != nil {
		t.Errorf("unknown device: %+v", res)
	}

	st.InsertOrReplace(devicestore.Info{Address: 5})
	res = c.HandlePacket(Packet{Address: 5, Type: TypeName, Payload: name}, time.Now())
	if res.Learned == nil || res.Learned.Name != "Hall_1" {
		t.Fatalf("Learned = %+v, want name Hall_1", res.Learned)
	}
	if got, _ := st.Name(5); got != "Hall_1" {
		t.Errorf("Name = %q, want Hall_1", got)
	}
}

func TestRawAndUnknownPassThrough(t *testing.T) {
	c, _ := newTestCodec(Config{Learn: true})
	payload := plaintext()
	tests := []struct {
		typ  PacketType
		want Outcome
	}{
		{TypeRawUint8, OutcomeRaw},
		{TypeRawInt16, OutcomeRaw},
		{42, OutcomeUnknown},
	}
	for _, tt := range tests {
		res := c.HandlePacket(Packet{Address: 1, Type: tt.typ, Payload: payload}, time.Now())
		if res.Outcome != tt.want {
			t.Errorf("type %v: Outcome = %v, want %v", tt.typ, res.Outcome, tt.want)
		}
		if res.Packet.Payload != payload || res.Packet.Type != tt.typ {
			t.Errorf("type %v: packet modified", tt.typ)
		}
	}
}

func TestHandleUnitRetriesUndecoded(t *testing.T) {
	c, st := newTestCodec(Config{Learn: true})
	cipher := encrypt(t, testKey, plaintext())
	captured := NewUnit(1, time.Unix(1700000000, 0), Packet{Address: 0x42, Type: -TypeSensor, Payload: cipher})

	res := c.HandleUnit(captured)
	if res.Outcome != OutcomeUndecoded || res.Packet.Type != -TypeSensor {
		t.Fatalf("without key: %v %v", res.Outcome, res.Packet.Type)
	}

	st.InsertOrReplace(devicestore.Info{Address: 0x42, Key: testKey})
	res = c.HandleUnit(captured)
	if res.Outcome != OutcomeDecrypted {
		t.Fatalf("Outcome = %v, want decrypted", res.Outcome)
	}
	if res.Packet.Type != TypeSensor || res.Packet.Payload != plaintext() {
		t.Errorf("packet = %+v", res.Packet)
	}
	if e, ok := st.Last(0x42, 0); !ok || !e.Time.Equal(captured.Timestamp()) {
		t.Errorf("history = %+v, %v", e, ok)
	}
}

func TestHandleUnitLearnsKey(t *testing.T) {
	c, st := newTestCodec(Config{Learn: true})
	res := c.HandleUnit(NewUnit(1, time.Now(), Packet{Address: 0x77, Type: TypeKey, Payload: testKey}))
	if res.Outcome != OutcomeKey || res.Learned == nil {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := st.Lookup(0x77); !ok {
		t.Error("key from unit not stored")
	}
}

func TestResultForward(t *testing.T) {
	dropped := Result{Outcome: OutcomeDropped, Packet: Packet{Type: TypeKey}}
	if dropped.Forward(FilterAll) {
		t.Error("dropped packet forwarded")
	}
	key := Result{Outcome: OutcomeKey, Packet: Packet{Type: TypeKey}}
	if !key.Forward(FilterPairing) || key.Forward(FilterDecoded) {
		t.Error("key forwarding does not follow the pairing filter")
	}
}
