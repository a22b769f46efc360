package radio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"bax-receiver/internal/framing"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("radio: dongle closed")

const packetQueue = 64

// Dongle is the serial link to the radio. A read loop decodes events,
// feeds them through a Handler, writes back any commands it asks for and
// queues received packets on Packets.
type Dongle struct {
	port    io.ReadWriteCloser
	reader  *framing.Reader
	encoder *framing.Encoder
	logger  *slog.Logger

	writeMu sync.Mutex

	handlerMu sync.Mutex
	handler   *Handler

	packets chan []byte

	lifecycleMu sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	closed      bool
	wg          sync.WaitGroup
}

// OpenDongle opens the serial port and starts the read loop. enc must be
// hex or SLIP.
func OpenDongle(portName string, baudRate int, enc framing.Encoding, logger *slog.Logger) (*Dongle, error) {
	if enc != framing.EncodingHex && enc != framing.EncodingSLIP {
		return nil, fmt.Errorf("radio: %v framing not supported on the serial link", enc)
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", portName, err)
	}

	// USB CDC ACM dongles only transmit with DTR/RTS asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return NewDongle(port, enc, logger), nil
}

// NewDongle starts a dongle over an already open hex or SLIP link.
func NewDongle(rw io.ReadWriteCloser, enc framing.Encoding, logger *slog.Logger) *Dongle {
	d := &Dongle{
		port:    rw,
		reader:  framing.NewReader(rw, enc, 0),
		encoder: framing.NewEncoder(rw, enc),
		logger:  logger,
		handler: NewHandler(logger),
		packets: make(chan []byte, packetQueue),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.readLoop()
	return d
}

// Packets delivers the 22-byte radio packets received by the dongle.
func (d *Dongle) Packets() <-chan []byte { return d.packets }

// State returns the tracked radio state.
func (d *Dongle) State() State {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	return d.handler.State()
}

// Send writes one command to the radio.
func (d *Dongle) Send(cmd Command) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	d.writeMu.Lock()
	err := d.encoder.WriteFrame(cmd.Bytes())
	d.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("radio: send %v: %w", cmd.Type, err)
	}
	d.logger.Debug("radio command sent", "type", cmd.Type, "len", len(cmd.Data))
	return nil
}

// RunScript resets the tracked state and sends cmds in order. Sending
// stops early if the radio enters a hardware error.
func (d *Dongle) RunScript(cmds []Command) error {
	d.handlerMu.Lock()
	d.handler.Reset()
	d.handlerMu.Unlock()

	for i, cmd := range cmds {
		if d.State() == StateHWError {
			return fmt.Errorf("radio: hardware error after %d of %d script commands", i, len(cmds))
		}
		if err := d.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck asks the radio for its GPIO configuration. The reply is
// checked by the read loop. It is a no-op while in hardware error.
func (d *Dongle) HealthCheck() error {
	d.handlerMu.Lock()
	cmd, ok := d.handler.HealthCheck()
	d.handlerMu.Unlock()
	if !ok {
		d.logger.Warn("radio health check skipped", "state", StateHWError)
		return nil
	}
	return d.Send(cmd)
}

func (d *Dongle) readLoop() {
	defer d.wg.Done()
	defer close(d.packets)

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-d.done:
			return
		default:
		}

		frame, err := d.reader.Next()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				if err != io.EOF && !strings.Contains(err.Error(), "closed") {
					d.logger.Error("radio read error", "err", err)
				}
				select {
				case <-time.After(backoff):
				case <-d.done:
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}
		}
		backoff = 10 * time.Millisecond

		ev, err := ParseEvent(frame)
		if err != nil {
			d.logger.Warn("radio event decode error", "err", err, "frame", fmt.Sprintf("%X", frame))
			continue
		}
		d.logger.Debug("radio event", "type", ev.Type, "err", ev.Err, "len", len(ev.Data))

		d.handlerMu.Lock()
		actions := d.handler.HandleEvent(ev)
		d.handlerMu.Unlock()

		for _, a := range actions {
			switch a.Kind {
			case ActionSend:
				if err := d.Send(a.Command); err != nil {
					d.logger.Error("radio follow-up command failed", "type", a.Command.Type, "err", err)
				}
			case ActionPacket:
				select {
				case d.packets <- a.Packet:
				case <-d.done:
					return
				}
			}
		}
	}
}

// Close stops the read loop and closes the port.
func (d *Dongle) Close() error {
	d.lifecycleMu.Lock()
	if d.closed {
		d.lifecycleMu.Unlock()
		return nil
	}
	d.closed = true
	d.closeOnce.Do(func() { close(d.done) })
	err := d.port.Close()
	d.lifecycleMu.Unlock()

	d.wg.Wait()
	return err
}
