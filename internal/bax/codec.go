package bax

import (
	"time"

	"bax-receiver/internal/devicestore"
)

// Config controls packet admission and learning.
type Config struct {
	// Subnet and SubnetMask admit a packet only when the masked subnet
	// bits of its address equal the masked local subnet.
	Subnet     uint16
	SubnetMask uint16
	// Learn lets key and name packets update the device store.
	Learn bool
}

// Outcome classifies what the codec did with a packet.
type Outcome int

const (
	OutcomeDropped   Outcome = iota // outside the subnet
	OutcomeDecrypted                // sensor packet decrypted with a stored key
	OutcomeUndecoded                // sensor packet without a key, type negated
	OutcomeKey
	OutcomeName
	OutcomeRaw
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeDecrypted:
		return "decrypted"
	case OutcomeUndecoded:
		return "undecoded"
	case OutcomeKey:
		return "key"
	case OutcomeName:
		return "name"
	case OutcomeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Result is the codec's verdict on one packet.
type Result struct {
	Outcome Outcome
	Packet  Packet
	// Learned is set when a key or name packet changed the store and the
	// new info should be persisted.
	Learned *devicestore.Info
	// Evicted is set when learning a key pushed out the oldest device.
	Evicted *devicestore.Info
}

// Forward reports whether the result passes filter f.
func (r Result) Forward(f Filter) bool {
	return r.Outcome != OutcomeDropped && f.Allows(r.Packet.Type)
}

// Codec validates, decrypts and classifies packets against a device store.
// It is not safe for concurrent use; callers serialise access together with
// the store.
type Codec struct {
	store  *devicestore.Store
	cipher Decrypter
	cfg    Config
}

// NewCodec creates a codec. A nil cipher selects AES.
func NewCodec(store *devicestore.Store, cipher Decrypter, cfg Config) *Codec {
	if cipher == nil {
		cipher = AESDecrypter{}
	}
	return &Codec{store: store, cipher: cipher, cfg: cfg}
}

// InSubnet reports whether p belongs to the local subnet.
func (c *Codec) InSubnet(p Packet) bool {
	return c.cfg.SubnetMask&p.SubnetBits() == c.cfg.SubnetMask&c.cfg.Subnet
}

// Decrypt decrypts p's payload in place with the stored key for its address
// and records it in the device history. Without a key, or if the cipher
// fails, p is left untouched and Decrypt returns false.
func (c *Codec) Decrypt(p *Packet, now time.Time) bool {
	rec, ok := c.store.Lookup(p.Address)
	if !ok {
		return false
	}
	plain, err := c.cipher.DecryptBlock(p.Payload, rec.Info.Key)
	if err != nil {
		return false
	}
	p.Payload = plain
	c.store.RecordPacket(p.Address, p.RSSI, int8(p.Type), p.Payload, now)
	return true
}

// HandlePacket runs a freshly received packet through the subnet check,
// sensor decryption and key/name learning.
func (c *Codec) HandlePacket(p Packet, now time.Time) Result {
	if !c.InSubnet(p) {
		return Result{Outcome: OutcomeDropped, Packet: p}
	}
	if p.Type.IsSensor() {
		if c.Decrypt(&p, now) {
			return Result{Outcome: OutcomeDecrypted, Packet: p}
		}
		p.Type = -p.Type
		return Result{Outcome: OutcomeUndecoded, Packet: p}
	}
	return c.classify(p)
}

// HandleUnit processes a stored or relayed unit. Packets that were undecoded
// when captured get another decryption attempt, since the key may have
// arrived since. The returned result carries the possibly updated packet.
func (c *Codec) HandleUnit(u Unit) Result {
	p := u.Packet()
	if p.Type.Undecoded() {
		q := p
		q.Type = -q.Type
		if q.Type.IsSensor() && c.Decrypt(&q, u.Timestamp()) {
			return Result{Outcome: OutcomeDecrypted, Packet: q}
		}
		return Result{Outcome: OutcomeUndecoded, Packet: p}
	}
	if p.Type.IsSensor() {
		return Result{Outcome: OutcomeDecrypted, Packet: p}
	}
	return c.classify(p)
}

func (c *Codec) classify(p Packet) Result {
	res := Result{Packet: p}
	switch {
	case p.Type == TypeKey:
		res.Outcome = OutcomeKey
		if !c.cfg.Learn || p.Address == 0 || c.store.Capacity() == 0 {
			return res
		}
		info := devicestore.Info{Address: p.Address, Key: p.Payload}
		if old, evicted := c.store.InsertOrReplace(info); evicted {
			res.Evicted = &old
		}
		res.Learned = &info
	case p.Type == TypeName:
		res.Outcome = OutcomeName
		if !c.cfg.Learn || !c.store.Rename(p.Address, p.Payload[:]) {
			return res
		}
		rec, _ := c.store.Lookup(p.Address)
		info := rec.Info
		res.Learned = &info
	case p.Type.IsRaw():
		res.Outcome = OutcomeRaw
	default:
		res.Outcome = OutcomeUnknown
	}
	return res
}
