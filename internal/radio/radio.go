// Package radio talks to the sub-GHz receiver dongle. The dongle accepts
// commands framed as type|len|data and reports events framed as
// type|err|len|data, both hex or SLIP encoded on the serial line.
//
// Handler tracks the radio state from events and decides the follow-up
// commands; it never writes to the dongle itself, so event handling has no
// re-entrant path back into the transport.
package radio

import (
	"errors"
	"fmt"
	"log/slog"
)

// Type is a command or event code. Events echo the code of the command
// that caused them.
type Type uint8

const (
	TypeReset        Type = 0x00
	TypeStandby      Type = 0x01
	TypeIdle         Type = 0x02
	TypeRX           Type = 0x03
	TypeTX           Type = 0x04
	TypeWriteReg     Type = 0x05
	TypeWriteRegList Type = 0x06
	TypeReadRegList  Type = 0x07
	TypeReadPacket   Type = 0x08
	TypeTXDone       Type = 0x09
	TypeError        Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeReset:
		return "reset"
	case TypeStandby:
		return "standby"
	case TypeIdle:
		return "idle"
	case TypeRX:
		return "rx"
	case TypeTX:
		return "tx"
	case TypeWriteReg:
		return "write_reg"
	case TypeWriteRegList:
		return "write_reg_list"
	case TypeReadRegList:
		return "read_reg_list"
	case TypeReadPacket:
		return "read_packet"
	case TypeTXDone:
		return "tx_done"
	case TypeError:
		return "error"
	}
	return fmt.Sprintf("type(0x%02X)", uint8(t))
}

// GPIO configuration registers and the values a correctly initialised
// radio reports for them.
const (
	regGPIO0 = 0x0B
	regGPIO1 = 0x0C

	GPIO0Setting = 0x12
	GPIO1Setting = 0x15
)

// PacketSize is the length of a READ_PACKET payload.
const PacketSize = 22

var ErrShortEvent = errors.New("radio: short event frame")

// Event is one report from the radio.
type Event struct {
	Type Type
	Err  uint8
	Data []byte
}

// ParseEvent decodes a type|err|len|data frame.
func ParseEvent(b []byte) (Event, error) {
	if len(b) < 3 {
		return Event{}, ErrShortEvent
	}
	n := int(b[2])
	if len(b) < 3+n {
		return Event{}, fmt.Errorf("%w: len %d, have %d", ErrShortEvent, n, len(b)-3)
	}
	return Event{Type: Type(b[0]), Err: b[1], Data: append([]byte(nil), b[3:3+n]...)}, nil
}

// Bytes returns the event frame.
func (e Event) Bytes() []byte {
	b := make([]byte, 3+len(e.Data))
	b[0], b[1], b[2] = byte(e.Type), e.Err, byte(len(e.Data))
	copy(b[3:], e.Data)
	return b
}

// Command is one instruction to the radio.
type Command struct {
	Type Type
	Data []byte
}

// Bytes returns the command frame.
func (c Command) Bytes() []byte {
	b := make([]byte, 2+len(c.Data))
	b[0], b[1] = byte(c.Type), byte(len(c.Data))
	copy(b[2:], c.Data)
	return b
}

// ResumeRX puts the radio back into continuous receive.
func ResumeRX() Command {
	return Command{Type: TypeRX, Data: []byte{0xFF}}
}

// State is the radio state as tracked from events.
type State int

const (
	StateOff State = iota
	StateStandby
	StateIdle
	StateRX
	StateTX
	StateHWError
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateStandby:
		return "standby"
	case StateIdle:
		return "idle"
	case StateRX:
		return "rx"
	case StateTX:
		return "tx"
	case StateHWError:
		return "hw_error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ActionKind says what the caller should do with an Action.
type ActionKind int

const (
	// ActionPacket carries a received radio packet.
	ActionPacket ActionKind = iota + 1
	// ActionSend carries a command to write to the radio.
	ActionSend
)

// Action is a follow-up produced by Handler.
type Action struct {
	Kind    ActionKind
	Packet  []byte
	Command Command
}

// Handler tracks radio state. It is not safe for concurrent use.
type Handler struct {
	state    State
	beforeTX State
	logger   *slog.Logger
}

// NewHandler returns a handler in StateOff.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// State returns the tracked state.
func (h *Handler) State() State { return h.state }

// Reset clears a hardware error ahead of re-initialising the radio.
func (h *Handler) Reset() {
	h.state = StateOff
	h.beforeTX = StateOff
}

// HealthCheck returns the register read whose reply verifies the radio
// configuration. ok is false while the radio is in a hardware error.
func (h *Handler) HealthCheck() (cmd Command, ok bool) {
	if h.state == StateHWError {
		return Command{}, false
	}
	return Command{Type: TypeReadRegList, Data: []byte{regGPIO0, regGPIO1}}, true
}

// HandleEvent updates the state from ev and returns the resulting actions.
// Once a hardware error is seen only a reset event or Reset clears it, and
// no commands are issued meanwhile.
func (h *Handler) HandleEvent(ev Event) []Action {
	if ev.Err != 0 {
		h.logger.Warn("radio event error", "type", ev.Type, "err", ev.Err)
	}
	if h.state == StateHWError && ev.Type != TypeReset {
		h.logger.Debug("radio event ignored in hw error", "type", ev.Type)
		return nil
	}

	var actions []Action
	switch ev.Type {
	case TypeReadPacket:
		if h.state != StateRX {
			actions = append(actions, Action{Kind: ActionSend, Command: ResumeRX()})
		}
		if ev.Err == 0 && len(ev.Data) == PacketSize {
			actions = append(actions, Action{Kind: ActionPacket, Packet: ev.Data})
		} else {
			h.logger.Debug("radio packet event dropped", "err", ev.Err, "len", len(ev.Data))
		}
	case TypeReset:
		h.state = StateOff
	case TypeStandby:
		h.state = StateStandby
	case TypeIdle:
		h.state = StateIdle
	case TypeTX:
		h.beforeTX = h.state
		h.state = StateTX
	case TypeTXDone:
		h.state = h.beforeTX
	case TypeRX:
		h.state = StateRX
	case TypeWriteReg, TypeWriteRegList:
	case TypeReadRegList:
		if len(ev.Data) == 2 && (ev.Data[0] != GPIO0Setting || ev.Data[1] != GPIO1Setting) {
			h.logger.Error("radio configuration mismatch", "gpio0", ev.Data[0], "gpio1", ev.Data[1])
			h.state = StateHWError
			return nil
		}
		if h.state == StateIdle {
			actions = append(actions, Action{Kind: ActionSend, Command: ResumeRX()})
		}
	case TypeError:
		h.logger.Error("radio reported error", "err", ev.Err)
		h.state = StateHWError
	default:
		h.logger.Debug("unknown radio event", "type", ev.Type)
	}
	return actions
}
