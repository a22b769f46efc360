//go:build !no_nats

// Package natspub republishes receiver events on NATS subjects.
package natspub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bax-receiver/internal/receiver"
)

// Config holds NATS connection settings.
type Config struct {
	URL               string
	Username          string
	Password          string
	SubjectPrefix     string
	Name              string
	ReconnectInterval time.Duration
	MaxReconnects     int
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Close()
}

// Publisher sends every receiver event to NATS. Packets go to
// <prefix>.<address>.packet, device changes to <prefix>.device.<type>.
type Publisher struct {
	conn     Conn
	prefix   string
	instance string
	logger   *slog.Logger
	unsub    func()
}

// Connect dials NATS and returns a publisher.
func Connect(cfg Config, instance string, logger *slog.Logger) (*Publisher, error) {
	if cfg.Name == "" {
		cfg.Name = "bax-receiver"
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return New(nc, cfg.SubjectPrefix, instance, logger), nil
}

// New wraps an existing connection.
func New(conn Conn, prefix, instance string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "bax"
	}
	return &Publisher{
		conn:     conn,
		prefix:   prefix,
		instance: instance,
		logger:   logger.With("component", "nats"),
	}
}

// Start subscribes to the event bus.
func (p *Publisher) Start(bus *receiver.EventBus) {
	p.unsub = bus.OnAll(p.handleEvent)
	p.logger.Info("NATS publisher started", "prefix", p.prefix)
}

// Stop unsubscribes and closes the connection.
func (p *Publisher) Stop() {
	if p.unsub != nil {
		p.unsub()
	}
	p.conn.Close()
}

func (p *Publisher) handleEvent(event receiver.Event) {
	var subject, id string
	switch event.Type {
	case receiver.EventPacket:
		ev, ok := event.Data.(receiver.PacketEvent)
		if !ok {
			return
		}
		subject = p.prefix + "." + strings.ToLower(ev.Address) + ".packet"
		id = ev.ID
	case receiver.EventRadioState:
		subject = p.prefix + ".radio.state"
	default:
		subject = p.prefix + ".device." + event.Type
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		p.logger.Error("marshal event", "type", event.Type, "err", err)
		return
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Bax-Instance", p.instance)
	if id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Error("publish to NATS failed", "subject", subject, "err", err)
	}
}
