// Package session implements the UDP tunnel to a remote BAX gateway:
// discovery of the gateway by its broadcast advertisement, petition based
// session negotiation, and a leased session that is renewed before it
// expires.
//
// An open Session is an io.Reader yielding the 32-byte binary units the
// gateway forwards. The tunnel is receive only.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	DefaultLease   = 3600 // seconds
	MaxAttempts    = 5
	ReplyTimeout   = 1000 * time.Millisecond
	UnitSize       = 32
	defaultNetwork = "udp4"
)

var (
	ErrNoGateway         = errors.New("session: no gateway found")
	ErrNegotiationFailed = errors.New("session: negotiation failed")
	ErrRenewalFailed     = errors.New("session: renewal failed")
	ErrWriteUnsupported  = errors.New("session: tunnel is receive only")
	ErrClosed            = errors.New("session: closed")
)

// State is the session lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateNegotiating
	StateActive
	StateRenegotiating
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateRenegotiating:
		return "renegotiating"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IDStore persists the next session id per gateway so a restart continues
// the gateway's sequence.
type IDStore interface {
	SessionID(mac uint64) (uint32, bool, error)
	SetSessionID(mac uint64, next uint32) error
}

// Config describes how to reach and authenticate with a gateway.
type Config struct {
	// Gateway is host or host:port. Empty or 0.0.0.0 discovers the gateway.
	Gateway string
	// MAC selects the gateway; required unless discovery finds one.
	MAC      string
	Username string
	Password string
	// Lease is the requested lease in seconds.
	Lease       uint32
	NextSession uint32

	DiscoveryTimeout time.Duration
	// ListenAddr and DiscoveryAddr are the local bind addresses.
	ListenAddr    string
	DiscoveryAddr string
}

func (c *Config) setDefaults() {
	if c.Lease == 0 {
		c.Lease = DefaultLease
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", ForwardingPort)
	}
	if c.DiscoveryAddr == "" {
		c.DiscoveryAddr = fmt.Sprintf(":%d", DiscoveryPort)
	}
}

func (c Config) autoDiscover() bool {
	host := c.Gateway
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host == "" || host == "0.0.0.0"
}

// Status is a snapshot for reporting.
type Status struct {
	State       string    `json:"state"`
	Gateway     string    `json:"gateway,omitempty"`
	MAC         string    `json:"mac,omitempty"`
	NextSession uint32    `json:"next_session"`
	Lease       uint32    `json:"lease_seconds"`
	Started     time.Time `json:"started,omitempty"`
}

// Session is a negotiated tunnel to one gateway.
type Session struct {
	conn   net.PacketConn
	remote net.Addr
	ids    IDStore
	logger *slog.Logger

	mac      uint64
	username string
	password string
	lease    uint32

	mu      sync.Mutex
	state   State
	next    uint32
	granted uint32
	start   time.Time

	// Read side, owned by the reading goroutine.
	rx      []byte
	pending [][]byte
	buf     []byte

	now          func() time.Time
	replyTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// Open resolves the gateway, discovering it first when cfg asks for it,
// binds the local forwarding port and negotiates a session. ids may be nil.
func Open(ctx context.Context, cfg Config, ids IDStore, logger *slog.Logger) (*Session, error) {
	cfg.setDefaults()
	logger = logger.With("component", "session")

	var remote *net.UDPAddr
	var mac uint64
	next := cfg.NextSession
	if cfg.MAC != "" {
		m, err := ParseMAC(cfg.MAC)
		if err != nil {
			return nil, err
		}
		mac = m
	}

	if cfg.autoDiscover() {
		dc, err := net.ListenPacket(defaultNetwork, cfg.DiscoveryAddr)
		if err != nil {
			return nil, fmt.Errorf("session: discovery listen: %w", err)
		}
		gw, err := Discover(ctx, dc, mac, cfg.DiscoveryTimeout, logger)
		dc.Close()
		if err != nil {
			return nil, err
		}
		remote, mac, next = gw.Addr, gw.MAC, gw.NextSession
	} else {
		addr := cfg.Gateway
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, fmt.Sprint(ForwardingPort))
		}
		r, err := net.ResolveUDPAddr(defaultNetwork, addr)
		if err != nil {
			return nil, fmt.Errorf("session: resolve gateway: %w", err)
		}
		remote = r
	}

	conn, err := net.ListenPacket(defaultNetwork, cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("session: listen: %w", err)
	}
	s := New(conn, remote, Params{
		MAC:         mac,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Lease:       cfg.Lease,
		NextSession: next,
	}, ids, logger)
	if err := s.Negotiate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Params are the petition inputs for New.
type Params struct {
	MAC         uint64
	Username    string
	Password    string
	Lease       uint32
	NextSession uint32
}

// New wraps an already bound conn talking to remote. The session is idle
// until Negotiate succeeds.
func New(conn net.PacketConn, remote net.Addr, p Params, ids IDStore, logger *slog.Logger) *Session {
	if p.Lease == 0 {
		p.Lease = DefaultLease
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:         conn,
		remote:       remote,
		ids:          ids,
		logger:       logger,
		mac:          p.MAC,
		username:     p.Username,
		password:     p.Password,
		lease:        p.Lease,
		next:         p.NextSession,
		rx:           make([]byte, maxDatagram),
		now:          time.Now,
		replyTimeout: ReplyTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if ids != nil && p.MAC != 0 {
		if stored, ok, err := ids.SessionID(p.MAC); err != nil {
			logger.Warn("load session id", "err", err)
		} else if ok && s.next == 0 {
			s.next = stored
		}
	}
	return s
}

// Negotiate sends petitions until the gateway grants a session, making at
// most MaxAttempts attempts. A BAD CREDENTIALS reply updates the session
// id and uses up one attempt.
func (s *Session) Negotiate(ctx context.Context) error {
	if s.mac == 0 {
		return fmt.Errorf("%w: gateway mac unknown", ErrNegotiationFailed)
	}
	s.setState(StateNegotiating)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			s.setState(StateFailed)
			return err
		}
		s.mu.Lock()
		pet := Petition{Lease: s.lease, MAC: s.mac, Username: s.username, Password: s.password, NextSession: s.next}
		s.mu.Unlock()

		s.logger.Debug("sending petition", "gateway", s.remote, "session", pet.NextSession, "attempt", attempt)
		b, _ := pet.MarshalBinary()
		if _, err := s.conn.WriteTo(b, s.remote); err != nil {
			s.logger.Warn("petition send failed", "err", err)
		}

		reply, err := s.awaitReply(ctx)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.logger.Debug("no petition reply", "attempt", attempt)
				continue
			}
			s.setState(StateFailed)
			return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
		}

		resp, err := ParseResponse(reply)
		if err != nil {
			s.logger.Debug("bad petition reply", "err", err)
			continue
		}
		s.saveNext(resp.NextSession)
		if resp.Kind == BadCredentials {
			s.logger.Info("gateway rejected credentials, retrying", "next_session", resp.NextSession)
			continue
		}

		lease := resp.Lease
		if lease == 0 {
			lease = s.lease
		}
		s.mu.Lock()
		s.granted = lease
		s.start = s.now()
		if s.state != StateClosed {
			s.state = StateActive
		}
		s.mu.Unlock()
		s.logger.Info("session established", "gateway", s.remote, "lease", lease, "next_session", resp.NextSession)
		return nil
	}
	s.setState(StateFailed)
	return ErrNegotiationFailed
}

// awaitReply waits up to the reply timeout for a non-unit datagram. Units
// arriving meanwhile are kept for Read.
func (s *Session) awaitReply(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(s.replyTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := time.Now()
		if !now.Before(deadline) {
			return nil, os.ErrDeadlineExceeded
		}
		s.conn.SetReadDeadline(minTime(deadline, now.Add(pollInterval)))
		n, _, err := s.conn.ReadFrom(s.rx)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, err
		}
		if n == UnitSize {
			s.pending = append(s.pending, append([]byte(nil), s.rx[:n]...))
			continue
		}
		return append([]byte(nil), s.rx[:n]...), nil
	}
}

func (s *Session) saveNext(next uint32) {
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()
	if s.ids == nil {
		return
	}
	if err := s.ids.SetSessionID(s.mac, next); err != nil {
		s.logger.Warn("save session id", "err", err)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

// renewDue reports whether more than half the granted lease has elapsed.
func (s *Session) renewDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive &&
		s.now().Sub(s.start) > time.Duration(s.granted)*time.Second/2
}

// Read returns bytes of received units. Datagrams that are not exactly
// UnitSize bytes are discarded. Before every poll the lease is checked and
// renewed once half of it has elapsed; if renewal fails Read returns
// ErrRenewalFailed and the session is unusable.
func (s *Session) Read(p []byte) (int, error) {
	for {
		switch s.State() {
		case StateFailed:
			return 0, ErrRenewalFailed
		case StateClosed:
			return 0, ErrClosed
		}
		if len(s.buf) > 0 {
			n := copy(p, s.buf)
			s.buf = s.buf[n:]
			return n, nil
		}
		if len(s.pending) > 0 {
			s.buf, s.pending = s.pending[0], s.pending[1:]
			continue
		}

		if s.renewDue() {
			s.setState(StateRenegotiating)
			s.logger.Info("renewing session")
			if err := s.Negotiate(s.ctx); err != nil {
				s.setState(StateFailed)
				return 0, fmt.Errorf("%w: %v", ErrRenewalFailed, err)
			}
			continue
		}

		s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := s.conn.ReadFrom(s.rx)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if s.ctx.Err() != nil {
				return 0, ErrClosed
			}
			return 0, fmt.Errorf("session: read: %w", err)
		}
		if n != UnitSize {
			continue
		}
		s.buf = append(s.buf[:0], s.rx[:n]...)
	}
}

// Write is not supported; the tunnel only carries gateway to receiver
// traffic.
func (s *Session) Write(p []byte) (int, error) {
	return 0, ErrWriteUnsupported
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:       s.state.String(),
		NextSession: s.next,
		Lease:       s.granted,
		Started:     s.start,
	}
	if s.remote != nil {
		st.Gateway = s.remote.String()
	}
	if s.mac != 0 {
		st.MAC = FormatMAC(s.mac)
	}
	return st
}

// Close tears the session down and unblocks a pending Read.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.cancel()
	return s.conn.Close()
}
