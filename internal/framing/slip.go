package framing

// SLIP special bytes.
const (
	SlipEnd    = 0xC0
	SlipEsc    = 0xDB
	SlipEscEnd = 0xDC
	SlipEscEsc = 0xDD
)

// EncodeSLIP escapes src into dst and returns the number of bytes written.
// END becomes ESC ESC_END and ESC becomes ESC ESC_ESC. Frame delimiters are
// not written. Encoding stops at the first source byte whose encoding does
// not fit in the remaining space.
func EncodeSLIP(dst, src []byte) int {
	w := 0
	for _, b := range src {
		switch b {
		case SlipEnd, SlipEsc:
			if len(dst)-w < 2 {
				return w
			}
			dst[w] = SlipEsc
			if b == SlipEnd {
				dst[w+1] = SlipEscEnd
			} else {
				dst[w+1] = SlipEscEsc
			}
			w += 2
		default:
			if len(dst)-w < 1 {
				return w
			}
			dst[w] = b
			w++
		}
	}
	return w
}

// MaxSLIPLen is the worst-case escaped length of n bytes.
func MaxSLIPLen(n int) int { return 2 * n }

// AppendSLIPFrame appends src to dst as a complete END-delimited frame.
func AppendSLIPFrame(dst, src []byte) []byte {
	buf := make([]byte, MaxSLIPLen(len(src)))
	n := EncodeSLIP(buf, src)
	dst = append(dst, SlipEnd)
	dst = append(dst, buf[:n]...)
	return append(dst, SlipEnd)
}

type slipState int

const (
	slipReading slipState = iota
	slipEscaped
)

// DecodeSLIP unescapes one frame from src into dst and returns the number of
// bytes decoded. An END before any data is treated as sync noise and skipped;
// an END after data terminates the frame. An escape followed by anything
// other than ESC_END or ESC_ESC discards the frame and returns 0. Decoding
// also stops when dst is full or src is exhausted.
func DecodeSLIP(dst, src []byte) int {
	state := slipReading
	n := 0
	for _, b := range src {
		if n >= len(dst) {
			break
		}
		if state == slipEscaped {
			switch b {
			case SlipEscEnd:
				dst[n] = SlipEnd
			case SlipEscEsc:
				dst[n] = SlipEsc
			default:
				return 0
			}
			n++
			state = slipReading
			continue
		}
		switch b {
		case SlipEsc:
			state = slipEscaped
		case SlipEnd:
			if n > 0 {
				return n
			}
		default:
			dst[n] = b
			n++
		}
	}
	return n
}
