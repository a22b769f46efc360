package session

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"bax-receiver/internal/framing"
)

// Advertisement is a parsed gateway discovery broadcast.
type Advertisement struct {
	NetBIOSName string
	NextSession uint32
	IP          string // as reported by the gateway, informational only
	MAC         uint64
}

// ErrAdvertMAC marks an advertisement whose MY MAC field does not parse.
// Every other field of the returned Advertisement is valid.
var ErrAdvertMAC = errors.New("session: advertisement: unparsable mac")

var (
	advHeader  = []byte("BAX ROUTER\r\n")
	advName    = []byte("NETBIOS NAME: ")
	advSession = []byte("NEXT SESSION: ")
	advIP      = []byte("MY IP: ")
	advMAC     = []byte("MY MAC: ")
)

// ParseAdvertisement parses a discovery datagram:
//
//	BAX ROUTER\r\n
//	NETBIOS NAME: <name>\r\n
//	NEXT SESSION: <n>\r\n
//	MY IP: <ip>\r\n
//	MY MAC: <mac>
//
// Fields must appear in this order.
func ParseAdvertisement(b []byte) (Advertisement, error) {
	var adv Advertisement
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	rest, ok := bytes.CutPrefix(b, advHeader)
	if !ok {
		return adv, fmt.Errorf("session: advertisement: missing header")
	}
	if rest, ok = bytes.CutPrefix(rest, advName); !ok {
		return adv, fmt.Errorf("session: advertisement: missing netbios name")
	}
	var field []byte
	field, rest = cutLine(rest)
	adv.NetBIOSName = string(field)
	if len(rest) == 0 {
		return adv, fmt.Errorf("session: advertisement: truncated after name")
	}

	if rest, ok = bytes.CutPrefix(rest, advSession); !ok {
		return adv, fmt.Errorf("session: advertisement: missing next session")
	}
	adv.NextSession, _ = leadingUint(rest)
	if i := bytes.IndexByte(rest, 'M'); i >= 0 {
		rest = rest[i:]
	} else {
		return adv, fmt.Errorf("session: advertisement: truncated after session")
	}

	if rest, ok = bytes.CutPrefix(rest, advIP); !ok {
		return adv, fmt.Errorf("session: advertisement: missing ip")
	}
	field, rest = cutLine(rest)
	adv.IP = string(field)
	if len(rest) == 0 {
		return adv, fmt.Errorf("session: advertisement: truncated after ip")
	}

	if rest, ok = bytes.CutPrefix(rest, advMAC); !ok {
		return adv, fmt.Errorf("session: advertisement: missing mac")
	}
	field, _ = cutLine(rest)
	mac, err := ParseMAC(string(field))
	if err != nil {
		return adv, fmt.Errorf("%w: %v", ErrAdvertMAC, err)
	}
	adv.MAC = mac
	return adv, nil
}

// cutLine splits b at the first CR or LF and skips the run of line
// terminators that follows.
func cutLine(b []byte) (line, rest []byte) {
	i := bytes.IndexAny(b, "\r\n")
	if i < 0 {
		return b, nil
	}
	line, rest = b[:i], b[i:]
	return line, bytes.TrimLeft(rest, "\r\n")
}

// leadingUint parses the decimal digits at the start of b.
func leadingUint(b []byte) (uint32, int) {
	var v uint32
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		v = v*10 + uint32(b[n]-'0')
		n++
	}
	return v, n
}

// ParseMAC reads a 48-bit MAC written as six hex pairs with any single
// separator character between them, e.g. 00-1E-C0-01-02-03.
func ParseMAC(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 17 {
		return 0, fmt.Errorf("session: mac %q: too short", s)
	}
	var mac uint64
	var b [1]byte
	for i := 0; i < 6; i++ {
		if framing.DecodeHex(b[:], []byte(s[i*3:i*3+2])) != 1 {
			return 0, fmt.Errorf("session: mac %q: bad octet %d", s, i)
		}
		mac = mac<<8 | uint64(b[0])
	}
	return mac, nil
}

// FormatMAC renders a 48-bit MAC as dash separated hex pairs.
func FormatMAC(mac uint64) string {
	b := macBytes(mac)
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}

func macBytes(mac uint64) [6]byte {
	var b [6]byte
	for i := range b {
		b[i] = byte(mac >> (8 * (5 - i)))
	}
	return b
}
