package bax

import (
	"fmt"
	"strings"
)

// Filter selects which packet classes are forwarded downstream.
type Filter uint8

const (
	FilterPairing   Filter = 1 << iota // key packets
	FilterName                         // name packets
	FilterDecoded                      // decrypted sensor packets
	FilterEncrypted                    // undecoded and unknown packets
	FilterRaw                          // raw debug packets

	FilterAll = FilterPairing | FilterName | FilterDecoded | FilterEncrypted | FilterRaw
)

// Allows reports whether packets of type t pass the filter.
func (f Filter) Allows(t PacketType) bool {
	switch {
	case t == TypeKey:
		return f&FilterPairing != 0
	case t == TypeName:
		return f&FilterName != 0
	case t.IsSensor():
		return f&FilterDecoded != 0
	case t.IsRaw():
		return f&FilterRaw != 0
	default:
		return f&FilterEncrypted != 0
	}
}

// ParseFilter reads a filter from its letter form: P pairing, N name,
// D decoded, E encrypted, R raw. Letters are case-insensitive.
func ParseFilter(s string) (Filter, error) {
	var f Filter
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'P':
			f |= FilterPairing
		case 'N':
			f |= FilterName
		case 'D':
			f |= FilterDecoded
		case 'E':
			f |= FilterEncrypted
		case 'R':
			f |= FilterRaw
		default:
			return 0, fmt.Errorf("bax: unknown filter letter %q", c)
		}
	}
	return f, nil
}

func (f Filter) String() string {
	var b strings.Builder
	for _, x := range []struct {
		bit Filter
		c   byte
	}{{FilterPairing, 'P'}, {FilterName, 'N'}, {FilterDecoded, 'D'}, {FilterEncrypted, 'E'}, {FilterRaw, 'R'}} {
		if f&x.bit != 0 {
			b.WriteByte(x.c)
		}
	}
	return b.String()
}
