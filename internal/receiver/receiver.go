// Package receiver runs the packet pipeline: it pulls packets or units from
// a source, passes them through the codec and device store, writes the
// forwarded units to the output stream and publishes them on the event bus.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/devicestore"
	"bax-receiver/internal/framing"
	"bax-receiver/internal/infofile"
	"bax-receiver/internal/radio"
)

// DefaultHealthInterval is how often the radio configuration is verified.
const DefaultHealthInterval = 300 * time.Second

// ErrUnknownDevice is returned when an operation names an address that is
// not in the device table.
var ErrUnknownDevice = errors.New("receiver: unknown device")

// Config holds receiver settings.
type Config struct {
	Filter     bax.Filter
	Links      Links
	InfoFile   string
	Subnet     uint16
	SubnetMask uint16

	// Capacity is the number of devices whose keys are kept. Zero keeps no
	// keys, so sensor packets are never decrypted. History is the number of
	// packets remembered per device and may also be zero.
	Capacity int
	History  int

	// Output receives every forwarded unit in OutputEncoding. Nil disables
	// the output stream.
	Output         io.Writer
	OutputEncoding framing.Encoding

	HealthInterval time.Duration
	Instance       string
}

// Radio is the part of the dongle the receiver supervises.
type Radio interface {
	State() radio.State
	HealthCheck() error
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Instance   string            `json:"instance"`
	Started    time.Time         `json:"started"`
	DataNumber uint32            `json:"data_number"`
	Received   uint64            `json:"received"`
	Forwarded  uint64            `json:"forwarded"`
	Filtered   uint64            `json:"filtered"`
	Malformed  uint64            `json:"malformed"`
	Outcomes   map[string]uint64 `json:"outcomes"`
	Devices    int               `json:"devices"`
	Capacity   int               `json:"capacity"`
	RadioState string            `json:"radio_state,omitempty"`
}

// Receiver is the packet pipeline. The device store and codec are guarded
// by one mutex so the API can read and rename devices while Run is active.
type Receiver struct {
	cfg    Config
	bus    *EventBus
	logger *slog.Logger
	out    *framing.Encoder
	now    func() time.Time

	// infoMu serialises writes to the info file.
	infoMu sync.Mutex

	mu         sync.Mutex
	store      *devicestore.Store
	codec      *bax.Codec
	dataNumber uint32
	received   uint64
	forwarded  uint64
	filtered   uint64
	outcomes   map[bax.Outcome]uint64

	radio   Radio
	source  Source
	started time.Time
}

// New creates a receiver and, when the file link is set, loads the info
// file into the device store.
func New(cfg Config, bus *EventBus, logger *slog.Logger) (*Receiver, error) {
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}

	st := devicestore.New(cfg.Capacity, cfg.History)
	r := &Receiver{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		store:  st,
		codec: bax.NewCodec(st, nil, bax.Config{
			Subnet:     cfg.Subnet,
			SubnetMask: cfg.SubnetMask,
			Learn:      cfg.Links&LinkPair != 0,
		}),
		outcomes: make(map[bax.Outcome]uint64),
		started:  time.Now(),
	}
	if cfg.Output != nil {
		r.out = framing.NewEncoder(cfg.Output, cfg.OutputEncoding)
	}

	if cfg.Links&LinkFile != 0 && cfg.InfoFile != "" {
		n, err := infofile.LoadInto(cfg.InfoFile, st)
		if err != nil {
			return nil, fmt.Errorf("receiver: %w", err)
		}
		logger.Info("info file loaded", "path", cfg.InfoFile, "records", n, "devices", st.Len())
	}
	return r, nil
}

// Events returns the bus forwarded units are published on.
func (r *Receiver) Events() *EventBus { return r.bus }

// SetRadio attaches the dongle whose health Run supervises.
func (r *Receiver) SetRadio(rd Radio) {
	r.mu.Lock()
	r.radio = rd
	r.mu.Unlock()
}

// Run reads src until it is exhausted, ctx is cancelled or the source
// fails. Exhaustion and cancellation return nil.
func (r *Receiver) Run(ctx context.Context, src Source) error {
	r.mu.Lock()
	r.source = src
	rd := r.radio
	r.mu.Unlock()

	if rd != nil && r.cfg.HealthInterval > 0 {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go r.healthLoop(ctx, rd)
	}

	r.logger.Info("receiver started",
		"filter", r.cfg.Filter.String(),
		"links", r.cfg.Links.String(),
		"instance", r.cfg.Instance)
	for {
		in, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				r.logger.Info("receiver stopped", "err", err)
				return nil
			}
			return fmt.Errorf("receiver: read source: %w", err)
		}
		r.Process(in)
	}
}

func (r *Receiver) healthLoop(ctx context.Context, rd Radio) {
	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()

	last := rd.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := rd.HealthCheck(); err != nil {
			r.logger.Error("radio health check failed", "err", err)
		}
		if st := rd.State(); st != last {
			r.logger.Warn("radio state changed", "from", last, "to", st)
			last = st
			r.bus.Emit(Event{Type: EventRadioState, Data: st.String()})
		}
	}
}

// Process runs one input through the pipeline. ok reports whether the
// unit was forwarded.
func (r *Receiver) Process(in Input) (ev PacketEvent, ok bool) {
	now := r.now()

	r.mu.Lock()
	var res bax.Result
	if in.Live {
		res = r.codec.HandlePacket(in.Unit.Packet(), now)
	} else {
		res = r.codec.HandleUnit(in.Unit)
	}
	r.received++
	r.outcomes[res.Outcome]++

	forward := res.Forward(r.cfg.Filter)
	var u bax.Unit
	if forward {
		r.dataNumber++
		r.forwarded++
		u = in.Unit
		u.Number = r.dataNumber
		u.SetPacket(res.Packet)
		name, _ := r.store.Name(res.Packet.Address)
		ev = newPacketEvent(r.cfg.Instance, u, res, name)
	} else {
		r.filtered++
	}
	r.mu.Unlock()

	if res.Evicted != nil {
		r.logger.Info("device evicted", "address", bax.AddressString(res.Evicted.Address))
		r.bus.Emit(Event{Type: EventDeviceEvicted, Data: DeviceEvent{Address: bax.AddressString(res.Evicted.Address), Name: res.Evicted.Name}})
	}
	if res.Learned != nil {
		r.learned(res)
	}
	if res.Evicted != nil {
		r.compactInfo()
	} else if res.Learned != nil {
		r.appendInfo(*res.Learned)
	}
	if !forward {
		r.logger.Debug("packet not forwarded", "address", bax.AddressString(res.Packet.Address), "outcome", res.Outcome)
		return PacketEvent{}, false
	}

	if r.out != nil {
		if err := r.out.WriteFrame(u.Bytes()); err != nil {
			r.logger.Error("output write failed", "err", err)
		}
	}
	r.bus.Emit(Event{Type: EventPacket, Data: ev})
	return ev, true
}

func (r *Receiver) learned(res bax.Result) {
	info := *res.Learned
	addr := bax.AddressString(info.Address)
	typ := EventDeviceLearned
	if res.Outcome == bax.OutcomeName {
		typ = EventDeviceRenamed
	}
	r.logger.Info("device learned", "address", addr, "outcome", res.Outcome, "name", info.Name)
	r.bus.Emit(Event{Type: typ, Data: DeviceEvent{Address: addr, Name: info.Name}})
}

func (r *Receiver) appendInfo(info devicestore.Info) {
	if r.cfg.Links&LinkAdd == 0 || r.cfg.InfoFile == "" {
		return
	}
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	if err := infofile.AppendOne(r.cfg.InfoFile, info); err != nil {
		r.logger.Error("info file append failed", "path", r.cfg.InfoFile, "err", err)
	}
}

// compactInfo rewrites the info file from the live store after an eviction
// so the file never holds more devices than the store.
func (r *Receiver) compactInfo() {
	if r.cfg.Links&LinkAdd == 0 || r.cfg.InfoFile == "" {
		return
	}
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	r.mu.Lock()
	infos := r.store.Infos()
	r.mu.Unlock()
	if err := infofile.RewriteAll(r.cfg.InfoFile, infos); err != nil {
		r.logger.Error("info file rewrite failed", "path", r.cfg.InfoFile, "err", err)
		return
	}
	r.logger.Info("info file compacted", "path", r.cfg.InfoFile, "devices", len(infos))
}

// Rename sets a device name through the same sanitiser as name packets
// and persists it when the add link is set.
func (r *Receiver) Rename(address uint32, name string) (Device, error) {
	r.mu.Lock()
	if !r.store.Rename(address, []byte(name)) {
		r.mu.Unlock()
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, bax.AddressString(address))
	}
	rec, _ := r.store.Lookup(address)
	info := rec.Info
	dev := deviceView(rec)
	r.mu.Unlock()

	r.appendInfo(info)
	r.bus.Emit(Event{Type: EventDeviceRenamed, Data: DeviceEvent{Address: dev.Address, Name: dev.Name}})
	return dev, nil
}

// Last returns the packet remembered offset packets back for a device, 0
// being the most recent.
func (r *Receiver) Last(address uint32, offset int) (Reading, bool) {
	r.mu.Lock()
	e, ok := r.store.Last(address, offset)
	r.mu.Unlock()
	if !ok {
		return Reading{}, false
	}
	return readingOf(e), true
}

// Devices lists the device table, oldest first.
func (r *Receiver) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := r.store.Infos()
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		if rec, ok := r.store.Lookup(info.Address); ok {
			out = append(out, deviceView(rec))
		}
	}
	return out
}

// Device returns one device.
func (r *Receiver) Device(address uint32) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.store.Lookup(address)
	if !ok {
		return Device{}, false
	}
	return deviceView(rec), true
}

// Stats returns the pipeline counters.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		Instance:   r.cfg.Instance,
		Started:    r.started,
		DataNumber: r.dataNumber,
		Received:   r.received,
		Forwarded:  r.forwarded,
		Filtered:   r.filtered,
		Outcomes:   make(map[string]uint64, len(r.outcomes)),
		Devices:    r.store.Len(),
		Capacity:   r.store.Capacity(),
	}
	for o, n := range r.outcomes {
		st.Outcomes[o.String()] = n
	}
	src, rd := r.source, r.radio
	r.mu.Unlock()

	if m, ok := src.(interface{ Malformed() uint64 }); ok {
		st.Malformed = m.Malformed()
	}
	if rd != nil {
		st.RadioState = rd.State().String()
	}
	return st
}
