// Package framing implements the byte framings used on every transport
// boundary of the receiver: uppercase hex-ASCII and SLIP (RFC 1055).
package framing

// Order selects how EncodeHex walks the source buffer.
type Order int

const (
	// InOrder prints src[0] first.
	InOrder Order = iota
	// Reversed prints the last byte first, which renders a little-endian
	// integer most-significant byte first.
	Reversed
)

const hexDigits = "0123456789ABCDEF"

// EncodeHex renders src as two uppercase hex characters per byte with no
// separators.
func EncodeHex(src []byte, order Order) string {
	return string(AppendHex(nil, src, order))
}

// AppendHex appends the hex rendering of src to dst.
func AppendHex(dst, src []byte, order Order) []byte {
	n := len(src)
	for i := 0; i < n; i++ {
		b := src[i]
		if order == Reversed {
			b = src[n-1-i]
		}
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return dst
}

// DecodeHex reads hex digit pairs from src into dst until a non-hex
// character, a dangling half pair, or len(dst) bytes. Each pair is always
// assembled first-nibble-high regardless of the order it was written in.
// It returns the number of bytes produced; output up to that count is valid.
func DecodeHex(dst, src []byte) int {
	n := 0
	for n < len(dst) && 2*n+1 < len(src) {
		hi, ok := hexNibble(src[2*n])
		if !ok {
			break
		}
		lo, ok := hexNibble(src[2*n+1])
		if !ok {
			break
		}
		dst[n] = hi<<4 | lo
		n++
	}
	return n
}

// DecodeHexString is DecodeHex for a string source with an output limit.
func DecodeHexString(s string, maxLen int) []byte {
	dst := make([]byte, maxLen)
	n := DecodeHex(dst, []byte(s))
	return dst[:n]
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
