package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Petition wire layout (little-endian), no header:
//
//	[0:4]   requested lease, seconds
//	[4:10]  gateway MAC, most significant octet first
//	[10:26] username, NUL padded
//	[26:42] password, NUL padded
//	[42:46] next session id
const (
	PetitionSize   = 46
	CredentialSize = 16
)

// Petition requests or renews a session.
type Petition struct {
	Lease       uint32
	MAC         uint64
	Username    string
	Password    string
	NextSession uint32
}

// MarshalBinary encodes the petition. Credentials longer than
// CredentialSize are truncated.
func (p Petition) MarshalBinary() ([]byte, error) {
	b := make([]byte, PetitionSize)
	binary.LittleEndian.PutUint32(b[0:], p.Lease)
	mac := macBytes(p.MAC)
	copy(b[4:10], mac[:])
	copy(b[10:10+CredentialSize], p.Username)
	copy(b[26:26+CredentialSize], p.Password)
	binary.LittleEndian.PutUint32(b[42:], p.NextSession)
	return b, nil
}

// UnmarshalBinary decodes a petition.
func (p *Petition) UnmarshalBinary(b []byte) error {
	if len(b) != PetitionSize {
		return fmt.Errorf("session: petition length %d, want %d", len(b), PetitionSize)
	}
	p.Lease = binary.LittleEndian.Uint32(b[0:])
	p.MAC = 0
	for _, c := range b[4:10] {
		p.MAC = p.MAC<<8 | uint64(c)
	}
	p.Username = cString(b[10 : 10+CredentialSize])
	p.Password = cString(b[26 : 26+CredentialSize])
	p.NextSession = binary.LittleEndian.Uint32(b[42:])
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ResponseKind is the gateway's answer to a petition.
type ResponseKind int

const (
	// BadCredentials rejects the petition but tells the next session id to
	// use; the petition may be retried with it.
	BadCredentials ResponseKind = iota + 1
	// Welcome grants the session.
	Welcome
)

func (k ResponseKind) String() string {
	switch k {
	case BadCredentials:
		return "bad_credentials"
	case Welcome:
		return "welcome"
	}
	return "invalid"
}

// Response is a parsed petition reply.
type Response struct {
	Kind        ResponseKind
	NextSession uint32
	Lease       uint32 // granted lease in seconds, Welcome only
}

var (
	respBadCredentials = []byte("BAD CREDENTIALS: NEXT SESSION ")
	respWelcome        = []byte("WELCOME: NEXT SESSION ")
)

// ParseResponse parses either
//
//	BAD CREDENTIALS: NEXT SESSION <n>
//	WELCOME: NEXT SESSION <n>:<lease>
func ParseResponse(b []byte) (Response, error) {
	if rest, ok := bytes.CutPrefix(b, respBadCredentials); ok {
		next, _ := leadingUint(rest)
		return Response{Kind: BadCredentials, NextSession: next}, nil
	}
	if rest, ok := bytes.CutPrefix(b, respWelcome); ok {
		next, _ := leadingUint(rest)
		i := bytes.IndexByte(rest, ':')
		if i < 0 || i+1 >= len(rest) {
			return Response{}, fmt.Errorf("session: welcome without lease")
		}
		lease, n := leadingUint(rest[i+1:])
		if n == 0 {
			return Response{}, fmt.Errorf("session: welcome lease %q", rest[i+1:])
		}
		return Response{Kind: Welcome, NextSession: next, Lease: lease}, nil
	}
	return Response{}, fmt.Errorf("session: unrecognised response")
}
