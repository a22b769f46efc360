package framing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encoding is the byte-level framing of a stream.
type Encoding int

const (
	// EncodingRaw carries fixed-size binary frames back to back.
	EncodingRaw Encoding = iota
	// EncodingHex carries one hex-ASCII frame per CR/LF terminated line.
	EncodingHex
	// EncodingSLIP carries END-delimited SLIP frames.
	EncodingSLIP
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingHex:
		return "hex"
	case EncodingSLIP:
		return "slip"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// ParseEncoding accepts the long names and the single-letter forms R, H and S.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "raw", "r":
		return EncodingRaw, nil
	case "hex", "h":
		return EncodingHex, nil
	case "slip", "s":
		return EncodingSLIP, nil
	}
	return 0, fmt.Errorf("framing: unknown encoding %q", s)
}

// ErrFrameTooLong is reported by Reader.Next when a frame overruns the
// reader's limit. The reader has already resynchronised when it is returned.
var ErrFrameTooLong = errors.New("framing: frame too long")

// DefaultMaxFrame bounds decoded frame size.
const DefaultMaxFrame = 256

// Reader splits a byte stream into decoded frames.
type Reader struct {
	r        *bufio.Reader
	enc      Encoding
	rawSize  int
	maxFrame int
}

// NewReader returns a Reader for enc. rawSize is the frame size used by
// EncodingRaw and is ignored otherwise.
func NewReader(r io.Reader, enc Encoding, rawSize int) *Reader {
	return &Reader{
		r:        bufio.NewReader(r),
		enc:      enc,
		rawSize:  rawSize,
		maxFrame: DefaultMaxFrame,
	}
}

// Next returns the next complete decoded frame. Malformed hex lines and SLIP
// frames with a bad escape are skipped. A partial trailing raw frame is
// reported as io.ErrUnexpectedEOF.
func (fr *Reader) Next() ([]byte, error) {
	switch fr.enc {
	case EncodingRaw:
		buf := make([]byte, fr.rawSize)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	case EncodingHex:
		return fr.nextHex()
	case EncodingSLIP:
		return fr.nextSLIP()
	}
	return nil, fmt.Errorf("framing: %v not readable", fr.enc)
}

func (fr *Reader) nextHex() ([]byte, error) {
	var line []byte
	overrun := false
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 && !overrun {
				if out := fr.decodeHexLine(line); out != nil {
					return out, nil
				}
			}
			return nil, err
		}
		if c != '\r' && c != '\n' {
			if len(line) < 2*fr.maxFrame+2 {
				line = append(line, c)
			} else {
				overrun = true
			}
			continue
		}
		if overrun {
			return nil, ErrFrameTooLong
		}
		if len(line) == 0 {
			continue
		}
		if out := fr.decodeHexLine(line); out != nil {
			return out, nil
		}
		line = line[:0]
	}
}

func (fr *Reader) decodeHexLine(line []byte) []byte {
	out := make([]byte, fr.maxFrame)
	n := DecodeHex(out, line)
	if n == 0 {
		return nil
	}
	return out[:n]
}

func (fr *Reader) nextSLIP() ([]byte, error) {
	var raw []byte
	overrun := false
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c != SlipEnd {
			if len(raw) < MaxSLIPLen(fr.maxFrame) {
				raw = append(raw, c)
			} else {
				overrun = true
			}
			continue
		}
		if overrun {
			return nil, ErrFrameTooLong
		}
		if len(raw) == 0 {
			continue
		}
		out := make([]byte, fr.maxFrame)
		if n := DecodeSLIP(out, raw); n > 0 {
			return out[:n], nil
		}
		raw = raw[:0]
	}
}

// Encoder writes frames in one of the stream encodings.
type Encoder struct {
	w   io.Writer
	enc Encoding
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, enc Encoding) *Encoder {
	return &Encoder{w: w, enc: enc}
}

// Encode returns the on-wire form of one frame.
func Encode(enc Encoding, frame []byte) []byte {
	switch enc {
	case EncodingHex:
		out := AppendHex(make([]byte, 0, 2*len(frame)+2), frame, InOrder)
		return append(out, '\r', '\n')
	case EncodingSLIP:
		return AppendSLIPFrame(make([]byte, 0, MaxSLIPLen(len(frame))+2), frame)
	default:
		return frame
	}
}

// WriteFrame encodes and writes one frame.
func (e *Encoder) WriteFrame(frame []byte) error {
	if _, err := e.w.Write(Encode(e.enc, frame)); err != nil {
		return fmt.Errorf("framing: write %v frame: %w", e.enc, err)
	}
	return nil
}
