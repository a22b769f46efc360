package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/framing"
	"bax-receiver/internal/radio"
)

// Input is one item read from a source.
type Input struct {
	Unit bax.Unit
	// Live is set for packets straight off the radio. They still need the
	// subnet check and decryption; the unit number is assigned later.
	Live bool
}

// Source yields inputs until it is exhausted (io.EOF) or fails.
type Source interface {
	Next(ctx context.Context) (Input, error)
	Close() error
}

// Format is the framing of the records within a stream.
type Format int

const (
	// FormatUnits carries 32-byte binary units.
	FormatUnits Format = iota
	// FormatEvents carries radio event frames.
	FormatEvents
)

// ParseFormat accepts "units" or "events".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "units", "u", "":
		return FormatUnits, nil
	case "events", "e":
		return FormatEvents, nil
	}
	return 0, fmt.Errorf("receiver: unknown format %q", s)
}

// PacketSource is the interface RadioSource needs from the dongle.
type PacketSource interface {
	Packets() <-chan []byte
	Close() error
}

// RadioSource reads packets delivered by the radio dongle.
type RadioSource struct {
	radio PacketSource
	now   func() time.Time
}

// NewRadioSource wraps a dongle.
func NewRadioSource(r PacketSource) *RadioSource {
	return &RadioSource{radio: r, now: time.Now}
}

func (s *RadioSource) Next(ctx context.Context) (Input, error) {
	for {
		select {
		case b, ok := <-s.radio.Packets():
			if !ok {
				return Input{}, io.EOF
			}
			p, err := bax.ParsePacket(b)
			if err != nil {
				continue
			}
			return Input{Unit: bax.NewUnit(0, s.now(), p), Live: true}, nil
		case <-ctx.Done():
			return Input{}, ctx.Err()
		}
	}
}

func (s *RadioSource) Close() error { return s.radio.Close() }

// StreamSource reads framed units or radio events from a byte stream: a
// replay file, stdin or a gateway session.
type StreamSource struct {
	rc     io.ReadCloser
	frames *framing.Reader
	format Format
	now    func() time.Time

	malformed atomic.Uint64
}

// NewStreamSource reads frames encoded with enc from rc.
func NewStreamSource(rc io.ReadCloser, enc framing.Encoding, format Format) *StreamSource {
	return &StreamSource{
		rc:     rc,
		frames: framing.NewReader(rc, enc, bax.UnitSize),
		format: format,
		now:    time.Now,
	}
}

// OpenFileSource opens path for replay. "-" reads stdin.
func OpenFileSource(path string, enc framing.Encoding, format Format) (*StreamSource, error) {
	if path == "-" {
		return NewStreamSource(io.NopCloser(os.Stdin), enc, format), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return NewStreamSource(f, enc, format), nil
}

func (s *StreamSource) Next(ctx context.Context) (Input, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Input{}, err
		}
		frame, err := s.frames.Next()
		if errors.Is(err, framing.ErrFrameTooLong) {
			s.malformed.Add(1)
			continue
		}
		if err != nil {
			return Input{}, err
		}
		switch s.format {
		case FormatEvents:
			ev, err := radio.ParseEvent(frame)
			if err != nil || ev.Type != radio.TypeReadPacket || ev.Err != 0 {
				if err != nil {
					s.malformed.Add(1)
				}
				continue
			}
			p, err := bax.ParsePacket(ev.Data)
			if err != nil {
				s.malformed.Add(1)
				continue
			}
			return Input{Unit: bax.NewUnit(0, s.now(), p), Live: true}, nil
		default:
			u, err := bax.ParseUnit(frame)
			if err != nil {
				s.malformed.Add(1)
				continue
			}
			return Input{Unit: u}, nil
		}
	}
}

// Malformed returns the number of frames that could not be decoded.
func (s *StreamSource) Malformed() uint64 { return s.malformed.Load() }

func (s *StreamSource) Close() error { return s.rc.Close() }
